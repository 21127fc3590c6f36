package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/autopay/internal/cli"
	"github.com/Veraticus/autopay/internal/common"
	"github.com/Veraticus/autopay/internal/model"
	"github.com/Veraticus/autopay/internal/scheduler"
	"github.com/Veraticus/autopay/internal/tui"
	"github.com/Veraticus/autopay/internal/tui/themes"
	"github.com/spf13/cobra"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage scheduled jobs",
		Long: `List, queue and remove deferred payments and reminders.

Jobs run from 'autopay run' once their date has passed.`,
	}

	cmd.AddCommand(jobsListCmd())
	cmd.AddCommand(jobsQueueCmd())
	cmd.AddCommand(jobsRemoveCmd())
	cmd.AddCommand(jobsRunCmd())
	cmd.AddCommand(jobsBrowseCmd())

	return cmd
}

// withScheduler runs fn with a scheduler that shares the full payment stack,
// so jobs executed or queued here behave as they do under 'autopay run'.
func withScheduler(ctx context.Context, fn func(*scheduler.Scheduler) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a.scheduler)
}

func jobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withScheduler(cmd.Context(), func(s *scheduler.Scheduler) error {
				jobs, err := s.List(cmd.Context())
				if err != nil {
					return err
				}
				printJobs(jobs)
				return nil
			})
		},
	}
}

func printJobs(jobs []model.ScheduledJob) {
	if len(jobs) == 0 {
		fmt.Println(cli.InfoStyle.Render("No jobs queued.")) //nolint:forbidigo // User-facing output
		return
	}

	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			job.Date.Local().Format("2006-01-02 15:04"),
			jobTypeIcon(job.Type) + " " + string(job.Type),
			job.Title,
			jobDetails(job),
		})
	}

	title := fmt.Sprintf("Scheduled jobs (%d)", len(jobs))
	fmt.Println(cli.FormatTitle(title))                                                   //nolint:forbidigo // User-facing output
	fmt.Println(cli.RenderTable([]string{"ID", "Due", "Type", "Title", "Details"}, rows)) //nolint:forbidigo // User-facing output
}

func jobTypeIcon(t model.JobType) string {
	switch t {
	case model.JobPayment:
		return cli.ClockIcon
	case model.JobEmail:
		return cli.MailIcon
	default:
		return cli.BellIcon
	}
}

func jobDetails(job model.ScheduledJob) string {
	switch {
	case job.Payment != nil:
		currency := job.Payment.Currency
		if currency == "" {
			currency = model.DefaultCurrency
		}
		return fmt.Sprintf("%s %s to %s", currency, model.FormatAmount(job.Payment.Amount), job.Payment.ToAlias)
	case job.Notification != nil:
		return job.Notification.Subject
	default:
		return ""
	}
}

func jobsQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue a payment or reminder",
		Long: `Queue a job to run at a later date.

Examples:
  # Pay the landlord on the first of next month
  autopay jobs queue --type payment --date 2024-08-01 --title rent \
    --to NL91ABNA0417164300 --amount 950 --description "rent august"

  # Remind yourself in two weeks
  autopay jobs queue --type push --in 336h --title "car insurance" --subject "Renew car insurance"`,
		RunE: runJobsQueue,
	}

	cmd.Flags().String("type", string(model.JobPayment), "Job type: payment, email or push")
	cmd.Flags().String("title", "", "Job title")
	cmd.Flags().String("date", "", "Due date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().Duration("in", 0, "Due after this duration instead of --date")
	cmd.Flags().String("to", "", "Payment counterparty")
	cmd.Flags().String("to-name", "", "Payment counterparty name")
	cmd.Flags().Float64("amount", 0, "Payment amount")
	cmd.Flags().String("description", "", "Payment description")
	cmd.Flags().String("subject", "", "Notification subject")
	cmd.Flags().String("message", "", "Notification message")

	return cmd
}

func runJobsQueue(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	typ, _ := flags.GetString("type")
	title, _ := flags.GetString("title")
	dateStr, _ := flags.GetString("date")
	in, _ := flags.GetDuration("in")

	date, err := jobDate(dateStr, in, time.Now())
	if err != nil {
		return err
	}

	job := &model.ScheduledJob{
		Type:  model.JobType(typ),
		Title: title,
		Date:  date,
	}

	switch job.Type {
	case model.JobPayment:
		intent := &model.PaymentIntent{}
		intent.ToAlias, _ = flags.GetString("to")
		intent.ToName, _ = flags.GetString("to-name")
		intent.Amount, _ = flags.GetFloat64("amount")
		intent.Description, _ = flags.GetString("description")
		if intent.ToAlias == "" || intent.Amount <= 0 {
			return common.NewUserError("payment jobs need --to and a positive --amount", nil)
		}
		job.Payment = intent
	case model.JobEmail, model.JobPush:
		n := &model.Notification{}
		n.Subject, _ = flags.GetString("subject")
		n.Message, _ = flags.GetString("message")
		if n.Subject == "" {
			n.Subject = title
		}
		job.Notification = n
	}

	return withScheduler(cmd.Context(), func(s *scheduler.Scheduler) error {
		if err := s.Queue(cmd.Context(), job); err != nil {
			return err
		}
		fmt.Println(cli.FormatSuccess(fmt.Sprintf("Queued %s job %s for %s", //nolint:forbidigo // User-facing output
			job.Type, job.ID, job.Date.Local().Format("2006-01-02 15:04"))))
		return nil
	})
}

// jobDate resolves the due date from --date or --in. Plain dates are due at
// the start of that day in local time.
func jobDate(date string, in time.Duration, now time.Time) (time.Time, error) {
	switch {
	case date != "" && in != 0:
		return time.Time{}, common.NewUserError("use either --date or --in, not both", nil)
	case in != 0:
		return now.Add(in), nil
	case date == "":
		return time.Time{}, common.NewUserError("a due date is required: pass --date or --in", nil)
	}

	if t, err := time.Parse(time.RFC3339, date); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", date, now.Location())
	if err != nil {
		return time.Time{}, common.NewUserError(fmt.Sprintf("invalid date %q: use YYYY-MM-DD or RFC 3339", date), nil)
	}
	return t, nil
}

func jobsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm JOB_ID",
		Aliases: []string{"remove"},
		Short:   "Remove a pending job",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(s *scheduler.Scheduler) error {
				if err := s.Remove(cmd.Context(), args[0]); err != nil {
					return err
				}
				slog.Info("Job removed", "id", args[0])
				return nil
			})
		},
	}
}

func jobsRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute due jobs once",
		Long: `Execute every job whose date has passed, then exit. Useful from cron when
'autopay run' is not kept running.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.scheduler.Check(cmd.Context())
			if err != nil {
				return err
			}
			slog.Info("Executed due jobs", "count", n)
			return nil
		},
	}

	cmd.Flags().BoolP("dry-run", "d", false, "Preview against a copy of the database without paying or notifying")

	return cmd
}

func jobsBrowseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Browse and remove jobs interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			themeName, _ := cmd.Flags().GetString("theme")
			return withScheduler(cmd.Context(), func(s *scheduler.Scheduler) error {
				return tui.RunJobsBrowser(cmd.Context(), s, themes.ByName(themeName))
			})
		},
	}

	cmd.Flags().String("theme", "default", "Color theme (default, catppuccin)")

	return cmd
}
