package mail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/autopay/internal/model"
	"github.com/Veraticus/autopay/internal/service"
)

// Defaults for PollerConfig.
const (
	DefaultPollInterval = time.Minute
	DefaultLookback     = 24 * time.Hour
)

// Processor handles one inbound message.
type Processor interface {
	Process(ctx context.Context, msg model.InboundMessage) (*model.ProcessedMessage, error)
}

// PollerConfig controls a Poller.
type PollerConfig struct {
	Interval time.Duration
	// Lookback is how far back the first poll reaches when no cursor is stored.
	Lookback time.Duration
}

// Poller feeds the messages of one mail account to a Processor, one at a
// time and in receipt order.
type Poller struct {
	source    service.MailSource
	processor Processor
	kv        service.KeyValueStore
	logger    *slog.Logger
	now       func() time.Time
	cfg       PollerConfig
}

// NewPoller creates a poller for source.
func NewPoller(source service.MailSource, processor Processor, kv service.KeyValueStore, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	return &Poller{
		source:    source,
		processor: processor,
		kv:        kv,
		cfg:       cfg,
		now:       time.Now,
		logger:    slog.Default().With("component", "poller", "account", source.Name()),
	}
}

// CursorKey is the settings key holding the receipt time of the last
// processed message of account.
func CursorKey(account string) string {
	return "mail." + account + ".cursor"
}

// Cursor returns the time the next poll starts from.
func (p *Poller) Cursor(ctx context.Context) (time.Time, error) {
	value, ok, err := p.kv.Get(ctx, CursorKey(p.source.Name()))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read mail cursor: %w", err)
	}
	if !ok {
		return p.now().Add(-p.cfg.Lookback), nil
	}
	cursor, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		p.logger.Warn("Ignoring invalid mail cursor", "value", value, "error", err)
		return p.now().Add(-p.cfg.Lookback), nil
	}
	return cursor, nil
}

// Poll fetches new messages and processes them in order. The cursor only
// advances past messages whose processing returned without a storage error,
// so a failed message is fetched again on the next poll.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	since, err := p.Cursor(ctx)
	if err != nil {
		return 0, err
	}

	messages, err := p.source.FetchSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch mail: %w", err)
	}

	processed := 0
	cursor := since
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		if _, err := p.processor.Process(ctx, msg); err != nil {
			p.logger.Error("Failed to process message", "message_id", msg.NormalizedID(), "error", err)
			break
		}
		processed++
		if msg.ReceivedAt.After(cursor) {
			cursor = msg.ReceivedAt
		}
	}

	if cursor.After(since) {
		if err := p.kv.Set(ctx, CursorKey(p.source.Name()), cursor.UTC().Format(time.RFC3339Nano)); err != nil {
			return processed, fmt.Errorf("failed to store mail cursor: %w", err)
		}
	}
	return processed, ctx.Err()
}

// Run polls immediately and then every Interval until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("Starting mail poller", "interval", p.cfg.Interval)

	p.poll(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.poll(ctx)
		case <-ctx.Done():
			p.logger.Info("Mail poller stopped")
			return
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	n, err := p.Poll(ctx)
	if err != nil && ctx.Err() == nil {
		p.logger.Error("Mail poll failed", "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("Processed mail", "count", n)
	}
}
