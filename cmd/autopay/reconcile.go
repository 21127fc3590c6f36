package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Veraticus/autopay/internal/cli"
	"github.com/Veraticus/autopay/internal/model"
	"github.com/Veraticus/autopay/internal/ofx"
	"github.com/Veraticus/autopay/internal/reconcile"
	"github.com/spf13/cobra"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile [files...]",
		Short: "Confirm payments against OFX/QFX bank statements",
		Long: `Match recorded payments to the debits of exported bank statements.

A payment is confirmed by a debit of the same amount within three days whose
name or memo mentions the payment reference or description. Confirmed payments
are marked reconciled; the rest are listed so they can be checked by hand.

Examples:
  autopay reconcile ~/Downloads/checking_july.qfx
  autopay reconcile --dry-run ~/Downloads/*.ofx`,
		Args: cobra.MinimumNArgs(1),
		RunE: runReconcile,
	}

	cmd.Flags().BoolP("dry-run", "d", false, "Show matches without marking payments reconciled")

	return cmd
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	var files []string
	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			slog.Warn("No files found matching pattern", "pattern", pattern)
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return fmt.Errorf("no statement files found")
	}

	parser := ofx.NewParser()
	var entries []model.StatementEntry
	for _, path := range files {
		f, err := os.Open(path) //nolint:gosec // user-provided path is intended
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		parsed, err := parser.ParseFile(ctx, f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		slog.Info("Parsed statement", "file", filepath.Base(path), "entries", len(parsed))
		entries = append(entries, parsed...)
	}

	store, err := initStorage(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("failed to close storage", "error", closeErr)
		}
	}()

	report, err := reconcile.New(store).Run(ctx, entries, dryRun)
	if err != nil {
		return err
	}

	printReconcileReport(report, dryRun)
	return nil
}

func printReconcileReport(report *reconcile.Report, dryRun bool) {
	title := "Reconciliation"
	if dryRun {
		title += " (dry run)"
	}
	fmt.Println(cli.FormatTitle(title)) //nolint:forbidigo // User-facing output

	if len(report.Matched) > 0 {
		rows := make([][]string, 0, len(report.Matched))
		for _, m := range report.Matched {
			rows = append(rows, []string{
				m.Record.Date.Local().Format("2006-01-02"),
				cli.FormatAmount(-m.Record.Amount, m.Record.Currency),
				truncate(m.Record.Description, 30),
				m.Entry.Date.Local().Format("2006-01-02"),
				truncate(m.Entry.Name, 30),
			})
		}
		fmt.Println(cli.FormatSuccess(fmt.Sprintf("%d payments confirmed", len(report.Matched))))            //nolint:forbidigo // User-facing output
		fmt.Println(cli.RenderTable([]string{"Paid", "Amount", "Description", "Booked", "Statement"}, rows)) //nolint:forbidigo // User-facing output
	}

	if len(report.Unmatched) > 0 {
		rows := make([][]string, 0, len(report.Unmatched))
		for _, rec := range report.Unmatched {
			rows = append(rows, []string{
				rec.Date.Local().Format("2006-01-02"),
				cli.FormatAmount(-rec.Amount, rec.Currency),
				rec.ToAlias,
				truncate(rec.Description, 30),
				paymentStatus(rec),
			})
		}
		fmt.Println()                                                                                                 //nolint:forbidigo // User-facing output
		fmt.Println(cli.FormatWarning(fmt.Sprintf("%d payments not found on the statements", len(report.Unmatched)))) //nolint:forbidigo // User-facing output
		fmt.Println(cli.RenderTable([]string{"Paid", "Amount", "To", "Description", "Status"}, rows))                 //nolint:forbidigo // User-facing output
	}

	if len(report.Matched) == 0 && len(report.Unmatched) == 0 {
		fmt.Println(cli.InfoStyle.Render("No unreconciled payments.")) //nolint:forbidigo // User-facing output
	}
}
