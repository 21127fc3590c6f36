package notify

import (
	"context"
	"log/slog"

	"github.com/Veraticus/autopay/internal/service"
)

// Sender delivers one notification over a single channel.
type Sender interface {
	Send(ctx context.Context, subject, body string) error
}

// Service implements service.Notifier. A channel without a sender logs the
// notification instead.
type Service struct {
	email  Sender
	push   Sender
	logger *slog.Logger
}

// NewService creates a notifier. Either sender may be nil.
func NewService(email, push Sender) *Service {
	return &Service{
		email:  email,
		push:   push,
		logger: slog.Default().With("component", "notify"),
	}
}

// SendEmail implements service.Notifier.
func (s *Service) SendEmail(ctx context.Context, subject, message string) error {
	return s.send(ctx, "email", s.email, subject, message)
}

// SendPush implements service.Notifier.
func (s *Service) SendPush(ctx context.Context, subject, message string) error {
	return s.send(ctx, "push", s.push, subject, message)
}

func (s *Service) send(ctx context.Context, channel string, sender Sender, subject, message string) error {
	if sender == nil {
		s.logger.Info("Notification", "channel", channel, "subject", subject, "message", message)
		return nil
	}
	return sender.Send(ctx, subject, message)
}

var _ service.Notifier = (*Service)(nil)
