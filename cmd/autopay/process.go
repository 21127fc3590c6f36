package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/autopay/internal/cli"
	"github.com/Veraticus/autopay/internal/common"
	"github.com/Veraticus/autopay/internal/mail"
	"github.com/Veraticus/autopay/internal/model"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func processCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process [files...]",
		Short: "Process messages once and exit",
		Long: `Run the rules against a batch of messages instead of watching the mailboxes.

Messages come either from .eml files given as arguments or, without arguments,
from every configured mail account starting at --since. Already processed
messages are skipped, so a backfill can be repeated safely.

Examples:
  # Re-run the last week of mail
  autopay process --since 168h

  # Try a saved invoice without paying it
  autopay process --dry-run ~/Downloads/invoice.eml`,
		RunE: runProcess,
	}

	cmd.Flags().Duration("since", 24*time.Hour, "How far back to fetch mail when no files are given")
	cmd.Flags().BoolP("dry-run", "d", false, "Preview against a copy of the database without paying or notifying")

	return cmd
}

func runProcess(cmd *cobra.Command, args []string) error {
	since, _ := cmd.Flags().GetDuration("since")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dryRun {
		cleanup, err := usePreviewDatabase(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer cleanup()
	}

	handler := cli.NewInterruptHandler(os.Stderr)
	ctx := handler.HandleInterrupts(cmd.Context(), "autopay "+strings.Join(os.Args[1:], " "))

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	var messages []model.InboundMessage
	if len(args) > 0 {
		messages, err = readMessageFiles(args)
	} else {
		messages, err = fetchAccounts(ctx, a, time.Now().Add(-since))
	}
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		fmt.Println(cli.InfoStyle.Render("No messages to process.")) //nolint:forbidigo // User-facing output
		return nil
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].ReceivedAt.Before(messages[j].ReceivedAt)
	})

	slog.Info("Processing messages", "count", len(messages), "dry_run", cfg.Payments.Disabled)

	bar := newProgressBar(len(messages), "Processing messages")
	results, failed := processAll(ctx, a.dispatcher, messages, func() { _ = bar.Add(1) })

	printProcessSummary(len(messages), results, failed)

	// Notifications queued without a delay are already due.
	if n, err := a.scheduler.Check(ctx); err != nil {
		common.LogError(err, "Failed to run due jobs", nil)
	} else if n > 0 {
		slog.Info("Executed due jobs", "count", n)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d messages failed", len(failed), len(messages))
	}
	return nil
}

// messageProcessor processes one inbound message.
type messageProcessor interface {
	Process(ctx context.Context, msg model.InboundMessage) (*model.ProcessedMessage, error)
}

// processAll runs every message through p. A message whose processing fails
// is logged and skipped; its ID is returned in failed. Records may be
// returned alongside an error when only an outcome update failed.
func processAll(ctx context.Context, p messageProcessor, messages []model.InboundMessage,
	step func()) (results []*model.ProcessedMessage, failed []string) {
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		rec, err := p.Process(ctx, msg)
		if err != nil {
			common.LogError(err, "Failed to process message", common.Fields{
				"message_id": msg.NormalizedID(),
				"from":       msg.From,
				"subject":    msg.Subject,
			})
			failed = append(failed, msg.NormalizedID())
		}
		if rec != nil {
			results = append(results, rec)
		}
		step()
	}
	return results, failed
}

// readMessageFiles parses .eml files, expanding globs. The file modification
// time stands in for the receipt time.
func readMessageFiles(patterns []string) ([]model.InboundMessage, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			slog.Warn("No files found matching pattern", "pattern", pattern)
		}
		files = append(files, matches...)
	}

	messages := make([]model.InboundMessage, 0, len(files))
	for _, path := range files {
		msg, err := readMessageFile(path)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func readMessageFile(path string) (model.InboundMessage, error) {
	f, err := os.Open(path) //nolint:gosec // user-provided path is intended
	if err != nil {
		return model.InboundMessage{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var received time.Time
	if info, statErr := f.Stat(); statErr == nil {
		received = info.ModTime()
	}

	msg, err := mail.Parse(f, received)
	if err != nil {
		return model.InboundMessage{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	msg.Account = "file"
	return msg, nil
}

func fetchAccounts(ctx context.Context, a *app, since time.Time) ([]model.InboundMessage, error) {
	var messages []model.InboundMessage
	for _, account := range a.cfg.Mail.Accounts {
		source, err := mail.NewIMAPSource(account.IMAPConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create mail source %s: %w", account.Name, err)
		}
		fetched, err := source.FetchSince(ctx, since)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", account.Name, err)
		}
		slog.Info("Fetched mail", "account", account.Name, "count", len(fetched))
		messages = append(messages, fetched...)
	}
	return messages, nil
}

func newProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]"+description+"[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)
}

func printProcessSummary(total int, results []*model.ProcessedMessage, failed []string) {
	fmt.Println()                                                           //nolint:forbidigo // User-facing output
	fmt.Println(cli.FormatTitle("Processed messages"))                      //nolint:forbidigo // User-facing output
	fmt.Printf("%d of %d messages matched a rule\n\n", len(results), total) //nolint:forbidigo // User-facing output

	if len(failed) > 0 {
		fmt.Println(cli.FormatError(fmt.Sprintf("%d messages failed, see the log for details:", len(failed)))) //nolint:forbidigo // User-facing output
		for _, id := range failed {
			fmt.Println("  " + id) //nolint:forbidigo // User-facing output
		}
		fmt.Println() //nolint:forbidigo // User-facing output
	}

	if len(results) == 0 {
		return
	}

	rows := make([][]string, 0, len(results))
	for _, rec := range results {
		names := make([]string, 0, len(rec.Actions))
		for name := range rec.Actions {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			outcome := rec.Actions[name]
			detail := outcome.Info
			switch {
			case outcome.Error != "":
				detail = outcome.Error
			case outcome.PaymentID != "":
				detail = "payment " + outcome.PaymentID
			case outcome.JobID != "":
				detail = "job " + shortJobID(outcome.JobID)
			}
			rows = append(rows, []string{
				rec.Date.Local().Format("2006-01-02 15:04"),
				truncate(rec.Subject, 40),
				name,
				cli.FormatOutcome(outcome.Status, detail),
			})
		}
	}

	fmt.Println(cli.RenderTable([]string{"Received", "Subject", "Action", "Outcome"}, rows)) //nolint:forbidigo // User-facing output
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func shortJobID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
