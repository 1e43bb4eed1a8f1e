package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cardotrejos/x402/address"
	"github.com/cardotrejos/x402/types"
	"github.com/cardotrejos/x402/validation"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	PayloadPath     string
	Header          string
	RequirementPath string
}

// CheckResult holds offline check findings.
type CheckResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// NewCheckCommand builds the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check a payment offline, without calling the facilitator",
		Long: `Check normalizes a requirement and runs the same field, price, and
address checks a payment gate runs, entirely offline. With only a
requirement it checks the gate configuration; add a payload to check a
concrete payment against it.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.PayloadPath, "payload", "p", "", "path to a payment payload JSON file")
	cmd.Flags().StringVar(&opts.Header, "header", "", "base64 payment header instead of --payload")
	cmd.Flags().StringVarP(&opts.RequirementPath, "requirement", "r", "", "path to a payment requirement JSON file")
	cmd.MarkFlagRequired("requirement")

	return cmd
}

func runCheck(opts *CheckOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	req, err := loadRequirement(opts.RequirementPath)
	if err != nil {
		return err
	}

	var payload types.PaymentPayload
	if opts.PayloadPath != "" || opts.Header != "" {
		payload, err = loadPayload(&CallOptions{
			RootOptions: opts.RootOptions,
			PayloadPath: opts.PayloadPath,
			Header:      opts.Header,
		})
		if err != nil {
			return err
		}
	}

	findings := checkPayment(payload, req, formatter)

	if len(findings) > 0 {
		result := CheckResult{Valid: false, Errors: findings}
		if opts.Format == "json" {
			formatter.JSON(CLIResponse{
				Status: "error",
				Data:   result,
				Error:  &CLIError{Code: "check_failed", Message: findings[0]},
			})
		} else {
			fmt.Fprintln(formatter.Writer, "✗ check failed")
			for _, finding := range findings {
				fmt.Fprintf(formatter.Writer, "  %s\n", finding)
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("check failed with %d problem(s)", len(findings)))
	}

	if opts.Format == "json" {
		return formatter.JSON(CLIResponse{Status: "ok", Data: CheckResult{Valid: true}})
	}
	fmt.Fprintln(formatter.Writer, "✓ all payment checks passed")
	return nil
}

func checkPayment(payload types.PaymentPayload, req types.PaymentRequirement, formatter *OutputFormatter) []string {
	var findings []string

	norm := types.NormalizeRequirement(req, payload)
	formatter.VerboseLog("checking %s requirement on %s", norm.Scheme, norm.Network)

	if err := norm.Validate(); err != nil {
		findings = append(findings, err.Error())
	}
	if norm.PayTo != "" {
		if err := address.ValidForNetwork(norm.PayTo, norm.Network); err != nil {
			findings = append(findings, fmt.Sprintf("payTo: %v", err))
		}
	}

	if payload == nil {
		return findings
	}

	if err := validation.Validate(payload, norm); err != nil {
		findings = append(findings, err.Error())
	}
	if wallet := payload.PayerWallet(); wallet != "" {
		if err := address.ValidForNetwork(wallet, payload.Network()); err != nil {
			findings = append(findings, fmt.Sprintf("payerWallet: %v", err))
		}
	}
	if tx := payload.TransactionHash(); tx != "" {
		if err := address.ValidTransactionForNetwork(tx, payload.Network()); err != nil {
			findings = append(findings, fmt.Sprintf("transactionHash: %v", err))
		}
	}
	return findings
}
