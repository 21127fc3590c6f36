package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/autopay/internal/cli"
	"github.com/Veraticus/autopay/internal/model"
	"github.com/Veraticus/autopay/internal/service"
	"github.com/spf13/cobra"
)

func paymentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "List recorded payments",
		Long: `Show the payment records kept for idempotency, newest first.

Records include dry runs, failures and payments still pending submission.
A pending record left behind by a crash blocks its reference until it is
checked against the bank by hand.`,
		RunE: runPayments,
	}

	cmd.Flags().Duration("since", 30*24*time.Hour, "Only show payments newer than this")
	cmd.Flags().Int("limit", 50, "Maximum number of payments to show")
	cmd.Flags().Bool("unreconciled", false, "Only show payments not yet matched to a bank statement")

	return cmd
}

func runPayments(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")
	unreconciled, _ := cmd.Flags().GetBool("unreconciled")

	store, err := initStorage(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("failed to close storage", "error", closeErr)
		}
	}()

	filter := service.PaymentFilter{Limit: limit, UnreconciledOnly: unreconciled}
	if since > 0 {
		from := time.Now().Add(-since)
		filter.Since = &from
	}

	records, err := store.ListPayments(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list payments: %w", err)
	}

	if len(records) == 0 {
		fmt.Println(cli.InfoStyle.Render("No payments recorded.")) //nolint:forbidigo // User-facing output
		return nil
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.Date.Local().Format("2006-01-02 15:04"),
			cli.FormatAmount(-rec.Amount, rec.Currency),
			rec.ToAlias,
			truncate(rec.Description, 30),
			paymentStatus(rec),
		})
	}

	fmt.Println(cli.FormatTitle(fmt.Sprintf("Payments (%d)", len(records))))                      //nolint:forbidigo // User-facing output
	fmt.Println(cli.RenderTable([]string{"Date", "Amount", "To", "Description", "Status"}, rows)) //nolint:forbidigo // User-facing output

	return nil
}

func paymentStatus(rec model.PaymentRecord) string {
	switch {
	case rec.Pending():
		return cli.StyleWarning(cli.WarningIcon + " pending")
	case rec.Error != "":
		return cli.StyleError(cli.ErrorIcon + " " + truncate(rec.Error, 40))
	case rec.DryRun:
		return cli.SubtleStyle.Render("dry run")
	case rec.ReconciledAt != nil:
		return cli.StyleSuccess(cli.CheckIcon + " reconciled")
	default:
		return cli.StyleSuccess(cli.SuccessIcon + " " + rec.ID)
	}
}
