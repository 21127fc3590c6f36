package notify

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/Veraticus/autopay/internal/common"
	"google.golang.org/api/option"
)

// Multicaster is the part of the FCM client used for push delivery.
type Multicaster interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMSender pushes notifications to the user's registered devices.
type FCMSender struct {
	client Multicaster
	logger *slog.Logger
	tokens []string
}

// NewFCMSender initializes a Firebase app from credentialsFile, or from
// application default credentials when it is empty.
func NewFCMSender(ctx context.Context, credentialsFile string, tokens []string) (*FCMSender, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	return NewFCMSenderWithClient(client, tokens)
}

// NewFCMSenderWithClient wraps an existing messaging client.
func NewFCMSenderWithClient(client Multicaster, tokens []string) (*FCMSender, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: notify.push.tokens", common.ErrMissingConfig)
	}
	return &FCMSender{
		client: client,
		tokens: tokens,
		logger: slog.Default().With("component", "notify", "channel", "push"),
	}, nil
}

// Send delivers the notification to every device. It fails only when no
// device received it.
func (f *FCMSender) Send(ctx context.Context, subject, body string) error {
	message := &messaging.MulticastMessage{
		Tokens: f.tokens,
		Notification: &messaging.Notification{
			Title: subject,
			Body:  body,
		},
		Data: map[string]string{"source": "autopay"},
	}

	resp, err := f.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send FCM multicast message: %w", err)
	}

	for i, r := range resp.Responses {
		if !r.Success {
			f.logger.Warn("Push to device failed", "token", shortToken(f.tokens[i]), "error", r.Error)
		}
	}
	f.logger.Debug("Push sent", "success", resp.SuccessCount, "failure", resp.FailureCount)

	if resp.SuccessCount == 0 {
		return fmt.Errorf("push delivered to none of %d devices", len(f.tokens))
	}
	return nil
}

func shortToken(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:12] + "..."
}
