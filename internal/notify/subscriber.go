package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/autopay/internal/events"
	"github.com/Veraticus/autopay/internal/service"
)

// Subscriber turns bus events into notifications: a push for every committed
// payment and, when enabled, an email for failed payments and jobs.
type Subscriber struct {
	notifier       service.Notifier
	logger         *slog.Logger
	notifyFailures bool
}

// NewSubscriber creates a Subscriber.
func NewSubscriber(notifier service.Notifier, notifyFailures bool) *Subscriber {
	return &Subscriber{
		notifier:       notifier,
		notifyFailures: notifyFailures,
		logger:         slog.Default().With("component", "notify"),
	}
}

// Run handles events until ch is closed or ctx is canceled.
func (s *Subscriber) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := s.Handle(ctx, ev); err != nil {
				s.logger.Warn("Notification failed", "event", ev.Type, "error", err)
			}
		}
	}
}

// Handle sends the notification for a single event, if any.
func (s *Subscriber) Handle(ctx context.Context, ev events.Event) error {
	p := ev.Payload
	switch ev.Type {
	case events.PaymentMade:
		subject := "Payment sent"
		if p["dry_run"] == "true" {
			subject = "Payment simulated"
		}
		return s.notifier.SendPush(ctx, subject,
			fmt.Sprintf("%s %s to %s: %s", p["currency"], p["amount"], p["to"], p["description"]))

	case events.PaymentFailed:
		if !s.notifyFailures || p["duplicate"] == "true" {
			return nil
		}
		return s.notifier.SendEmail(ctx, "Payment failed",
			fmt.Sprintf("A payment of %s to %s (%s) failed while %s.\n\nError: %s\nHash: %s",
				p["amount"], p["to"], p["description"], p["phase"], ev.Error, p["hash"]))

	case events.JobExecuted:
		if !s.notifyFailures || ev.Error == "" {
			return nil
		}
		return s.notifier.SendEmail(ctx, "Scheduled job failed",
			fmt.Sprintf("Job %q (%s, due %s) failed and was not re-queued.\n\nError: %s",
				p["title"], p["type"], p["date"], ev.Error))
	}
	return nil
}
