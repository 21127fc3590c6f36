package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/Veraticus/autopay/internal/common"
	"github.com/Veraticus/autopay/internal/model"
	"github.com/Veraticus/autopay/internal/service"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

const (
	defaultMailbox     = "INBOX"
	defaultIMAPPort    = 993
	defaultIMAPTimeout = 30 * time.Second
	fetchBufferSize    = 10
)

// IMAPConfig describes one mail account.
type IMAPConfig struct {
	Name     string
	Host     string
	Username string
	Password string
	Mailbox  string
	Port     int
	// Insecure disables TLS; only meant for local test servers.
	Insecure bool
	Timeout  time.Duration
}

// Validate checks the required connection settings.
func (c IMAPConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: mail account name", common.ErrMissingConfig)
	}
	if c.Host == "" {
		return fmt.Errorf("%w: mail.accounts.%s.host", common.ErrMissingConfig, c.Name)
	}
	if c.Username == "" {
		return fmt.Errorf("%w: mail.accounts.%s.username", common.ErrMissingConfig, c.Name)
	}
	return nil
}

// IMAPSource fetches messages from one IMAP mailbox. Each fetch uses its own
// session.
type IMAPSource struct {
	logger *slog.Logger
	cfg    IMAPConfig
}

// NewIMAPSource creates a source for cfg.
func NewIMAPSource(cfg IMAPConfig) (*IMAPSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = defaultMailbox
	}
	if cfg.Port == 0 {
		cfg.Port = defaultIMAPPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultIMAPTimeout
	}
	return &IMAPSource{
		cfg:    cfg,
		logger: slog.Default().With("component", "mail", "account", cfg.Name),
	}, nil
}

// Name returns the account name.
func (s *IMAPSource) Name() string {
	return s.cfg.Name
}

// FetchSince returns messages received at or after since, oldest first.
// Messages are fetched with BODY.PEEK so their seen flag is left alone.
func (s *IMAPSource) FetchSince(ctx context.Context, since time.Time) ([]model.InboundMessage, error) {
	c, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := c.Logout(); err != nil {
			s.logger.Debug("IMAP logout failed", "error", err)
		}
	}()

	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()

	if _, err := c.Select(s.cfg.Mailbox, true); err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", s.cfg.Mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	// SINCE has day granularity; the exact cut happens below.
	criteria.Since = since.AddDate(0, 0, -1)
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search mailbox: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	fetched := make(chan *imap.Message, fetchBufferSize)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, fetched)
	}()

	var messages []model.InboundMessage
	for raw := range fetched {
		body := raw.GetBody(section)
		if body == nil {
			s.logger.Warn("Message without body", "uid", raw.Uid)
			continue
		}
		msg, err := Parse(body, raw.InternalDate)
		if err != nil {
			s.logger.Warn("Skipping unparsable message", "uid", raw.Uid, "error", err)
			continue
		}
		if msg.ReceivedAt.Before(since) {
			continue
		}
		msg.Account = s.cfg.Name
		messages = append(messages, msg)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].ReceivedAt.Before(messages[j].ReceivedAt)
	})

	s.logger.Debug("Fetched messages", "count", len(messages), "since", since)
	return messages, nil
}

func (s *IMAPSource) connect(ctx context.Context) (*client.Client, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}

	var (
		c   *client.Client
		err error
	)
	if s.cfg.Insecure {
		c, err = client.DialWithDialer(dialer, addr)
	} else {
		c, err = client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	c.Timeout = s.cfg.Timeout

	if err := ctx.Err(); err != nil {
		_ = c.Logout()
		return nil, err
	}

	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to log in as %s: %w", s.cfg.Username, err)
	}
	return c, nil
}

var _ service.MailSource = (*IMAPSource)(nil)
