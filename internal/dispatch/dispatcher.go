// Package dispatch runs the matching actions for each inbound message and
// records what they did.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/Veraticus/autopay/internal/actions"
	"github.com/Veraticus/autopay/internal/common"
	"github.com/Veraticus/autopay/internal/events"
	"github.com/Veraticus/autopay/internal/model"
	"github.com/Veraticus/autopay/internal/rules"
	"github.com/Veraticus/autopay/internal/service"
)

// PaymentMaker commits payment intents.
type PaymentMaker interface {
	MakePayment(ctx context.Context, intent model.PaymentIntent) (*model.PaymentRecord, error)
}

// JobQueuer persists scheduled jobs.
type JobQueuer interface {
	Queue(ctx context.Context, job *model.ScheduledJob) error
}

// Dispatcher processes one message at a time per caller. A message ID is held
// in memory only while it is being processed; the processed-message store is
// what keeps it from running twice.
type Dispatcher struct {
	store    service.MessageStore
	matcher  *rules.Matcher
	registry *actions.Registry
	payments PaymentMaker
	jobs     JobQueuer
	bus      events.Publisher
	logger   *slog.Logger
	inFlight map[string]struct{}
	mu       sync.Mutex
}

// New creates a Dispatcher.
func New(store service.MessageStore, matcher *rules.Matcher, registry *actions.Registry,
	payments PaymentMaker, jobs JobQueuer, bus events.Publisher) *Dispatcher {
	return &Dispatcher{
		store:    store,
		matcher:  matcher,
		registry: registry,
		payments: payments,
		jobs:     jobs,
		bus:      bus,
		logger:   slog.Default().With("component", "dispatch"),
		inFlight: make(map[string]struct{}),
	}
}

// Process runs every matching action for msg. It returns nil without error when
// the message was already handled, matched nothing, or failed security checks.
// Action failures are recorded in the returned record; the error return is
// reserved for storage faults.
func (d *Dispatcher) Process(ctx context.Context, msg model.InboundMessage) (*model.ProcessedMessage, error) {
	id := msg.NormalizedID()
	logger := d.logger.With("message_id", id)

	if !d.begin(id) {
		logger.Debug("Message already in flight")
		return nil, nil
	}
	defer d.end(id)

	done, err := d.store.HasProcessedMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("check processed message %s: %w", id, err)
	}
	if done {
		logger.Debug("Message already processed")
		return nil, nil
	}

	matches, err := d.matcher.Match(msg)
	if errors.Is(err, common.ErrSecurityCheckFailed) {
		logger.Warn("Dropping message", "from", msg.From, "subject", msg.Subject, "reason", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("match message %s: %w", id, err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	rec := model.NewProcessedMessage(msg)
	inserted, err := d.store.InsertProcessedMessage(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("record processed message %s: %w", id, err)
	}
	if !inserted {
		logger.Debug("Message claimed by another worker")
		return nil, nil
	}

	logger.Info("Processing message", "from", msg.From, "subject", msg.Subject, "matches", len(matches))

	var storeErrs []error
	for _, match := range matches {
		key := outcomeKey(rec.Actions, match.Rule.Action)
		outcome := d.run(ctx, msg, match)
		rec.Actions[key] = outcome

		logger.Info("Action finished",
			"action", key,
			"rule", match.Rule.Label(),
			"status", outcome.Status,
			"error", outcome.Error)

		if err := d.store.UpdateProcessedMessage(ctx, rec); err != nil {
			storeErrs = append(storeErrs, fmt.Errorf("update outcome of %s: %w", key, err))
		}
	}

	d.publish(ctx, rec)
	return rec, errors.Join(storeErrs...)
}

func (d *Dispatcher) run(ctx context.Context, msg model.InboundMessage, match rules.Match) (outcome model.ActionOutcome) {
	action, ok := d.registry.Get(match.Rule.Action)
	if !ok {
		return errorOutcome(fmt.Sprintf("unknown action %q", match.Rule.Action))
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Action panicked", "action", match.Rule.Action, "panic", r)
			outcome = errorOutcome(fmt.Sprintf("action panicked: %v", r))
		}
	}()

	result, err := action.Handle(ctx, msg, match.Rule)
	if err != nil {
		return errorOutcome(err.Error())
	}
	if result.Empty() {
		return model.ActionOutcome{Status: model.OutcomeNone}
	}

	switch {
	case result.Error != "":
		return errorOutcome(result.Error)

	case result.Payment != nil:
		rec, err := d.payments.MakePayment(ctx, *result.Payment)
		if err != nil {
			out := errorOutcome(err.Error())
			if rec != nil {
				out.PaymentID = rec.ID
			}
			return out
		}
		return model.ActionOutcome{Status: model.OutcomeSuccess, PaymentID: rec.ID, Info: result.Info}

	case result.Job != nil:
		if err := d.jobs.Queue(ctx, result.Job); err != nil {
			return errorOutcome(err.Error())
		}
		return model.ActionOutcome{Status: model.OutcomeSuccess, JobID: result.Job.ID, Info: result.Info}

	default:
		return model.ActionOutcome{Status: model.OutcomeSuccess, Info: result.Info}
	}
}

func (d *Dispatcher) publish(ctx context.Context, rec *model.ProcessedMessage) {
	if d.bus == nil {
		return
	}
	failed := 0
	for _, out := range rec.Actions {
		if out.Status == model.OutcomeError {
			failed++
		}
	}
	d.bus.Publish(ctx, events.Event{
		Type: events.MessageProcessed,
		Payload: map[string]string{
			"message_id": rec.MessageID,
			"from":       rec.From,
			"subject":    rec.Subject,
			"actions":    strconv.Itoa(len(rec.Actions)),
			"failed":     strconv.Itoa(failed),
		},
	})
}

// begin marks id as in flight. It returns false if another call holds it.
func (d *Dispatcher) begin(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inFlight[id]; ok {
		return false
	}
	d.inFlight[id] = struct{}{}
	return true
}

func (d *Dispatcher) end(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, id)
}

// outcomeKey returns action, or action#n when the message already has an
// outcome for that action.
func outcomeKey(existing map[string]model.ActionOutcome, action string) string {
	if _, ok := existing[action]; !ok {
		return action
	}
	for n := 2; ; n++ {
		key := action + "#" + strconv.Itoa(n)
		if _, ok := existing[key]; !ok {
			return key
		}
	}
}

func errorOutcome(msg string) model.ActionOutcome {
	return model.ActionOutcome{Status: model.OutcomeError, Error: msg}
}
