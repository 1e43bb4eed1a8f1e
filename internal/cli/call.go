package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/cardotrejos/x402"
	"github.com/cardotrejos/x402/encoding"
	"github.com/cardotrejos/x402/logger"
	"github.com/cardotrejos/x402/transport"
	"github.com/cardotrejos/x402/types"
)

// CallOptions holds the flags shared by verify and settle.
type CallOptions struct {
	*RootOptions
	PayloadPath     string
	Header          string
	RequirementPath string
	BaseURL         string
	ConfigPath      string
	UseFastHTTP     bool
}

func addCallFlags(cmd *cobra.Command, opts *CallOptions) {
	cmd.Flags().StringVarP(&opts.PayloadPath, "payload", "p", "", "path to a payment payload JSON file")
	cmd.Flags().StringVar(&opts.Header, "header", "", "base64 payment header instead of --payload")
	cmd.Flags().StringVarP(&opts.RequirementPath, "requirement", "r", "", "path to a payment requirement JSON file")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "facilitator base URL (overrides config)")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML client config")
	cmd.Flags().BoolVar(&opts.UseFastHTTP, "fasthttp", false, "send requests over fasthttp")
	cmd.MarkFlagRequired("requirement")
}

func buildEngine(opts *CallOptions) (*x402.Engine, error) {
	cfg := &x402.Config{}
	if opts.ConfigPath != "" {
		loaded, err := LoadConfig(opts.ConfigPath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "loading config", err)
		}
		cfg = loaded
	}
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	var eopts []x402.Option
	if opts.UseFastHTTP {
		eopts = append(eopts, x402.WithTransport(transport.NewFastHTTPDoer()))
	}
	if opts.Verbose {
		eopts = append(eopts, x402.WithLogger(logger.NewZapLogger("debug")))
	}

	engine, err := x402.New(cfg, eopts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "building client", err)
	}
	return engine, nil
}

func loadPayload(opts *CallOptions) (types.PaymentPayload, error) {
	switch {
	case opts.Header != "" && opts.PayloadPath != "":
		return nil, NewExitError(ExitCommandError, "--payload and --header are mutually exclusive")
	case opts.Header != "":
		payload, err := encoding.DecodePayment(opts.Header)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "decoding --header", err)
		}
		return payload, nil
	case opts.PayloadPath != "":
		data, err := os.ReadFile(opts.PayloadPath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "reading payload", err)
		}
		var payload types.PaymentPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, WrapExitError(ExitCommandError, "parsing payload", err)
		}
		return payload, nil
	default:
		return nil, NewExitError(ExitCommandError, "one of --payload or --header is required")
	}
}

func loadRequirement(path string) (types.PaymentRequirement, error) {
	var req types.PaymentRequirement
	data, err := os.ReadFile(path)
	if err != nil {
		return req, WrapExitError(ExitCommandError, "reading requirement", err)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, WrapExitError(ExitCommandError, "parsing requirement", err)
	}
	return req, nil
}

// reportCallError renders a failed facilitator round trip and converts it
// into an exit-coded error.
func reportCallError(f *OutputFormatter, err error) error {
	code := "error"
	message := err.Error()
	var details any
	if xerr, ok := types.AsX402Error(err); ok {
		code = string(xerr.Type)
		message = xerr.Reason
		if xerr.Status != 0 || xerr.Attempt != 0 {
			details = map[string]any{"status": xerr.Status, "attempt": xerr.Attempt}
		}
	}
	f.Fail(code, message, details)
	return NewExitError(ExitFailure, message)
}

func orDefault(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
