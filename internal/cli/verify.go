package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// VerifyResult is the data section of a verify command's JSON output.
type VerifyResult struct {
	IsValid bool           `json:"isValid"`
	Payer   string         `json:"payer,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Body    map[string]any `json:"body,omitempty"`
	Attempt int            `json:"attempt,omitempty"`
}

// NewVerifyCommand builds the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a payment against the facilitator",
		Long: `Verify asks the facilitator whether a payment payload satisfies a
requirement, without moving any funds.

Example:
  x402ctl verify --payload payment.json --requirement requirement.json \
    --base-url https://x402.org/facilitator`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	addCallFlags(cmd, opts)
	return cmd
}

func runVerify(opts *CallOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	payload, err := loadPayload(opts)
	if err != nil {
		return err
	}
	req, err := loadRequirement(opts.RequirementPath)
	if err != nil {
		return err
	}
	engine, err := buildEngine(opts)
	if err != nil {
		return err
	}

	formatter.VerboseLog("verifying against %s", engine.BaseURL())

	resp, err := engine.Verify(cmd.Context(), payload, req)
	if err != nil {
		return reportCallError(formatter, err)
	}

	outcome := resp.VerifyOutcome()
	result := VerifyResult{
		IsValid: outcome.IsValid,
		Payer:   outcome.Payer,
		Reason:  outcome.InvalidReason,
		Body:    resp.Body,
		Attempt: resp.Attempt,
	}

	if !outcome.IsValid {
		reason := orDefault(outcome.InvalidReason, "no reason given")
		if opts.Format == "json" {
			formatter.JSON(CLIResponse{
				Status: "error",
				Data:   result,
				Error:  &CLIError{Code: "payment_invalid", Message: reason},
			})
		} else {
			fmt.Fprintf(formatter.Writer, "✗ payment invalid: %s\n", reason)
		}
		return NewExitError(ExitFailure, "payment invalid")
	}

	if opts.Format == "json" {
		return formatter.JSON(CLIResponse{Status: "ok", Data: result})
	}
	fmt.Fprintln(formatter.Writer, "✓ payment valid")
	if outcome.Payer != "" {
		fmt.Fprintf(formatter.Writer, "  payer: %s\n", outcome.Payer)
	}
	return nil
}
