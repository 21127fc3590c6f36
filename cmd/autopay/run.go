package main

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/Veraticus/autopay/internal/cli"
	"github.com/Veraticus/autopay/internal/mail"
	"github.com/Veraticus/autopay/internal/notify"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch mailboxes and run scheduled jobs",
		Long: `Poll every configured mail account, dispatch matching messages to their
actions, and execute scheduled jobs as they become due.

Runs until interrupted. Messages that were already processed are never
processed again, so restarting is always safe. With --dry-run everything
happens on a temporary copy of the database that is discarded on exit.`,
		RunE: runRun,
	}

	cmd.Flags().Bool("dry-run", false, "Run against a copy of the database without paying or notifying")

	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		cleanup, err := usePreviewDatabase(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer cleanup()
	}

	handler := cli.NewInterruptHandler(os.Stderr)
	ctx := handler.HandleInterrupts(cmd.Context(), "autopay run")

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if len(cfg.Mail.Accounts) == 0 {
		slog.Warn("No mail accounts configured, only scheduled jobs will run")
	}

	var wg sync.WaitGroup

	ch, unsubscribe := a.bus.Subscribe(ctx, 64)
	defer unsubscribe()
	subscriber := notify.NewSubscriber(a.notifier, cfg.Notify.Failures)
	wg.Add(1)
	go func() {
		defer wg.Done()
		subscriber.Run(ctx, ch)
	}()

	for _, account := range cfg.Mail.Accounts {
		source, err := mail.NewIMAPSource(account.IMAPConfig())
		if err != nil {
			return fmt.Errorf("failed to create mail source %s: %w", account.Name, err)
		}
		poller := mail.NewPoller(source, a.dispatcher, a.store, cfg.PollerConfig())
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
	}

	a.scheduler.Start(ctx)

	slog.Info("autopay running",
		"accounts", len(cfg.Mail.Accounts),
		"rules", len(a.matcher.Rules()),
		"dry_run", cfg.Payments.Disabled)

	<-ctx.Done()

	a.scheduler.Stop()
	wg.Wait()

	slog.Info("autopay stopped", "interrupted", handler.WasInterrupted())
	return nil
}
