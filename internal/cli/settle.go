package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// SettleResult is the data section of a settle command's JSON output.
type SettleResult struct {
	Success     bool           `json:"success"`
	Transaction string         `json:"transaction,omitempty"`
	Network     string         `json:"network,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Body        map[string]any `json:"body,omitempty"`
	Attempt     int            `json:"attempt,omitempty"`
}

// NewSettleCommand builds the settle command.
func NewSettleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Settle a payment through the facilitator",
		Long: `Settle asks the facilitator to execute a payment on chain. Run verify
first; settlement moves funds.

Example:
  x402ctl settle --payload payment.json --requirement requirement.json \
    --config x402.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettle(opts, cmd)
		},
	}

	addCallFlags(cmd, opts)
	return cmd
}

func runSettle(opts *CallOptions, cmd *cobra.Command) error {
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

	formatter.VerboseLog("settling against %s", engine.BaseURL())

	resp, err := engine.Settle(cmd.Context(), payload, req)
	if err != nil {
		return reportCallError(formatter, err)
	}

	outcome := resp.SettleOutcome()
	result := SettleResult{
		Success:     outcome.Success,
		Transaction: outcome.Transaction,
		Network:     outcome.Network,
		Reason:      outcome.ErrorReason,
		Body:        resp.Body,
		Attempt:     resp.Attempt,
	}

	if !outcome.Success {
		reason := orDefault(outcome.ErrorReason, "no reason given")
		if opts.Format == "json" {
			formatter.JSON(CLIResponse{
				Status: "error",
				Data:   result,
				Error:  &CLIError{Code: "settlement_rejected", Message: reason},
			})
		} else {
			fmt.Fprintf(formatter.Writer, "✗ settlement rejected: %s\n", reason)
		}
		return NewExitError(ExitFailure, "settlement rejected")
	}

	if opts.Format == "json" {
		return formatter.JSON(CLIResponse{Status: "ok", Data: result})
	}
	fmt.Fprintln(formatter.Writer, "✓ payment settled")
	if outcome.Transaction != "" {
		fmt.Fprintf(formatter.Writer, "  transaction: %s\n", outcome.Transaction)
	}
	if outcome.Network != "" {
		fmt.Fprintf(formatter.Writer, "  network: %s\n", outcome.Network)
	}
	return nil
}
