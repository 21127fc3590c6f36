// Package notify delivers email and push notifications to the user.
package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/autopay/internal/common"
	"github.com/emersion/go-message/mail"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailConfig holds the OAuth2 client and the addresses used for email.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	From         string
	To           string
	// Endpoint overrides the API base URL.
	Endpoint string
}

// GmailSender sends email through the Gmail API.
type GmailSender struct {
	svc    *gmail.Service
	logger *slog.Logger
	now    func() time.Time
	from   string
	to     string
}

// NewGmailSender creates a sender that refreshes its access token with the
// configured refresh token.
func NewGmailSender(ctx context.Context, cfg GmailConfig, opts ...option.ClientOption) (*GmailSender, error) {
	if cfg.To == "" {
		return nil, fmt.Errorf("%w: notify.email.to", common.ErrMissingConfig)
	}
	if cfg.From == "" {
		cfg.From = cfg.To
	}

	if cfg.RefreshToken != "" {
		conf := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gmail.GmailSendScope},
		}
		token := &oauth2.Token{RefreshToken: cfg.RefreshToken, Expiry: time.Now()}
		opts = append(opts, option.WithHTTPClient(oauth2.NewClient(ctx, conf.TokenSource(ctx, token))))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}

	return &GmailSender{
		svc:    svc,
		from:   cfg.From,
		to:     cfg.To,
		now:    time.Now,
		logger: slog.Default().With("component", "notify", "channel", "email"),
	}, nil
}

// Send emails subject and body to the configured recipient.
func (g *GmailSender) Send(ctx context.Context, subject, body string) error {
	raw, err := ComposeMessage(g.from, g.to, subject, body, g.now())
	if err != nil {
		return err
	}

	msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}
	sent, err := g.svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to send message: %w", err)
	}

	g.logger.Debug("Email sent", "id", sent.Id, "subject", subject)
	return nil
}

// ComposeMessage builds a plain-text RFC 5322 message.
func ComposeMessage(from, to, subject, body string, date time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Name: "autopay", Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	if _, err := w.Write([]byte(body)); err != nil {
		return nil, fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}
	return buf.Bytes(), nil
}
