// Package payment validates, deduplicates and commits payment intents.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/Veraticus/autopay/internal/common"
	"github.com/Veraticus/autopay/internal/events"
	"github.com/Veraticus/autopay/internal/lock"
	"github.com/Veraticus/autopay/internal/model"
	"github.com/Veraticus/autopay/internal/service"
	"github.com/google/uuid"
)

const defaultTimeout = 30 * time.Second

// Config is the global payment policy.
type Config struct {
	// MinBalance, when set, is the lowest balance a debit may leave behind.
	MinBalance  *float64
	MainAccount string
	Currency    string
	MaxAmount   float64
	Timeout     time.Duration
	Draft       bool
	// Disabled turns every commit into a dry run.
	Disabled bool
}

// Gateway turns payment intents into committed payment records, at most once per reference.
type Gateway struct {
	api      service.PaymentAPI
	store    service.PaymentStore
	claimer  lock.Claimer
	bus      events.Publisher
	locks    *lock.KeyedMutex
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	accounts []model.Account
	cfg      Config
	retry    common.RetryOptions
	mu       sync.Mutex
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClaimer adds a cross-process claim taken before a payment is reserved.
func WithClaimer(c lock.Claimer) Option {
	return func(g *Gateway) { g.claimer = c }
}

// WithPublisher sets where payment events go.
func WithPublisher(p events.Publisher) Option {
	return func(g *Gateway) { g.bus = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithRetryOptions overrides the retry policy of read-only API calls.
func WithRetryOptions(opts common.RetryOptions) Option {
	return func(g *Gateway) { g.retry = opts }
}

// NewGateway creates a gateway.
func NewGateway(api service.PaymentAPI, store service.PaymentStore, cfg Config, opts ...Option) *Gateway {
	if cfg.Currency == "" {
		cfg.Currency = model.DefaultCurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	g := &Gateway{
		api:    api,
		store:  store,
		cfg:    cfg,
		locks:  lock.NewKeyedMutex(),
		logger: slog.Default().With("component", "payment"),
		now:    time.Now,
		newID:  uuid.NewString,
		retry:  common.DefaultRetryOptions(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// prepared is an intent that passed every local check.
type prepared struct {
	intent    model.PaymentIntent
	accountID string
	aliasType model.AliasType
	date      time.Time
}

// MakePayment validates intent and commits it. Errors are *common.PaymentError
// values whose Phase tells whether anything may have reached the bank.
func (g *Gateway) MakePayment(ctx context.Context, intent model.PaymentIntent) (*model.PaymentRecord, error) {
	p, err := g.prepare(ctx, intent)
	if err != nil {
		hash := ""
		if p != nil {
			hash = p.intent.Hash
		}
		g.publishFailure(ctx, intent, hash, common.PhasePreparing, err)
		return nil, common.NewPreparingError(hash, err)
	}

	rec, err := g.reserve(ctx, p)
	if err != nil {
		g.publishFailure(ctx, p.intent, p.intent.Hash, common.PhasePreparing, err)
		return nil, common.NewPreparingError(p.intent.Hash, err)
	}

	return g.commit(ctx, rec)
}

func (g *Gateway) prepare(ctx context.Context, intent model.PaymentIntent) (*prepared, error) {
	if math.IsNaN(intent.Amount) || math.IsInf(intent.Amount, 0) || intent.Amount <= 0 {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidAmount, intent.Amount)
	}
	intent.Amount = math.Round(intent.Amount*100) / 100
	if intent.Amount <= 0 {
		return nil, fmt.Errorf("%w: rounds to zero", common.ErrInvalidAmount)
	}
	if g.cfg.MaxAmount > 0 && intent.Amount > g.cfg.MaxAmount {
		return nil, fmt.Errorf("%w: %s > %s", common.ErrAmountTooHigh,
			model.FormatAmount(intent.Amount), model.FormatAmount(g.cfg.MaxAmount))
	}

	if intent.Currency == "" {
		intent.Currency = g.cfg.Currency
	}
	if intent.Draft == nil {
		draft := g.cfg.Draft
		intent.Draft = &draft
	}
	if intent.FromAlias == "" {
		intent.FromAlias = g.cfg.MainAccount
	}
	intent.ToAlias = strings.TrimSpace(intent.ToAlias)
	if intent.ToAlias == "" {
		return nil, common.ErrMissingCounterparty
	}
	if intent.FromAlias == "" {
		return nil, fmt.Errorf("%w: no source account and no main account configured", common.ErrUnknownAccount)
	}

	date := g.now()
	if intent.Reference == "" {
		intent.Reference = intent.DefaultReference(date)
	}
	intent.Hash = model.HashReference(intent.Reference)
	p := &prepared{
		intent:    intent,
		aliasType: model.ClassifyAlias(intent.ToAlias),
		date:      date,
	}

	if !g.cfg.Disabled {
		ok, err := g.api.IsAuthenticated(ctx)
		if err != nil {
			return p, fmt.Errorf("check authentication: %w", err)
		}
		if !ok {
			return p, common.ErrPaymentsUnauthenticated
		}
	}

	accountID, err := g.resolveAccount(ctx, intent.FromAlias)
	if err != nil {
		return p, err
	}
	p.accountID = accountID

	if g.cfg.MinBalance != nil {
		balance, err := g.balance(ctx, intent.FromAlias)
		if err != nil {
			return p, fmt.Errorf("read balance: %w", err)
		}
		if balance-intent.Amount < *g.cfg.MinBalance {
			return p, fmt.Errorf("%w: balance %s, payment %s, minimum %s", common.ErrInsufficientBalance,
				model.FormatAmount(balance), model.FormatAmount(intent.Amount), model.FormatAmount(*g.cfg.MinBalance))
		}
	}

	return p, nil
}

// reserve runs the per-hash critical section: duplicate lookup, optional
// distributed claim, then the atomic insert of a pending record.
func (g *Gateway) reserve(ctx context.Context, p *prepared) (*model.PaymentRecord, error) {
	unlock := g.locks.Lock(p.intent.Hash)
	defer unlock()

	existing, err := g.store.GetPaymentByHash(ctx, p.intent.Hash)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: reference %q already recorded as %s on %s", common.ErrDuplicatePayment,
			p.intent.Reference, existingID(existing), existing.Date.Format(time.RFC3339))
	case !errors.Is(err, common.ErrNotFound):
		return nil, fmt.Errorf("lookup payment: %w", err)
	}

	if g.claimer != nil {
		claimed, err := g.claimer.Claim(ctx, p.intent.Hash)
		if err != nil {
			return nil, err
		}
		if !claimed {
			return nil, fmt.Errorf("%w: reference %q is being paid by another process",
				common.ErrDuplicatePayment, p.intent.Reference)
		}
	}

	rec := &model.PaymentRecord{
		PaymentIntent: p.intent,
		AccountID:     p.accountID,
		AliasType:     p.aliasType,
		Date:          p.date,
		Error:         model.PaymentPending,
		DryRun:        g.cfg.Disabled,
	}
	if err := g.store.InsertPayment(ctx, rec); err != nil {
		if g.claimer != nil {
			if relErr := g.claimer.Release(ctx, p.intent.Hash); relErr != nil {
				g.logger.Warn("Failed to release payment claim", "hash", p.intent.Hash, "error", relErr)
			}
		}
		return nil, err
	}
	return rec, nil
}

func (g *Gateway) commit(ctx context.Context, rec *model.PaymentRecord) (*model.PaymentRecord, error) {
	if g.cfg.Disabled {
		rec.ID = "dryrun-" + g.newID()
		rec.Error = ""
		g.logger.Warn("Payments are disabled, recording dry run",
			"hash", rec.Hash,
			"amount", model.FormatAmount(rec.Amount),
			"to", rec.ToAlias,
			"description", rec.Description)
		if err := g.store.UpdatePayment(ctx, rec); err != nil {
			return rec, common.NewProcessingError(rec.Hash, fmt.Errorf("record dry run: %w", err))
		}
		g.publish(ctx, events.PaymentMade, rec, "", "")
		return rec, nil
	}

	submitCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	id, err := g.api.SubmitPayment(submitCtx, service.SubmitRequest{
		AccountID: rec.AccountID,
		Amount:    rec.Amount,
		Currency:  rec.Currency,
		Counterparty: model.Counterparty{
			Type:  rec.AliasType,
			Value: rec.ToAlias,
			Name:  rec.ToName,
		},
		Description: rec.Description,
		Reference:   rec.Reference,
		Draft:       rec.Draft != nil && *rec.Draft,
	})
	cancel()

	if err != nil {
		rec.Error = err.Error()
		if upErr := g.store.UpdatePayment(ctx, rec); upErr != nil {
			g.logger.Error("Failed to record payment failure", "hash", rec.Hash, "error", upErr)
		}
		g.logger.Error("Payment submission failed, manual reconciliation needed",
			"hash", rec.Hash, "reference", rec.Reference, "transient", common.IsRetryable(err), "error", err)
		g.publish(ctx, events.PaymentFailed, rec, common.PhaseProcessing, err.Error())
		return rec, common.NewProcessingError(rec.Hash, err)
	}

	rec.ID = id
	rec.Error = ""
	rec.Date = g.now()
	if err := g.store.UpdatePayment(ctx, rec); err != nil {
		g.logger.Error("Payment committed but not recorded", "hash", rec.Hash, "payment_id", id, "error", err)
		g.publish(ctx, events.PaymentFailed, rec, common.PhaseProcessing, err.Error())
		return rec, common.NewProcessingError(rec.Hash, fmt.Errorf("record payment %s: %w", id, err))
	}

	g.logger.Info("Payment committed",
		"payment_id", id,
		"amount", model.FormatAmount(rec.Amount),
		"currency", rec.Currency,
		"to", rec.ToAlias,
		"draft", rec.Draft != nil && *rec.Draft)
	g.publish(ctx, events.PaymentMade, rec, "", "")

	g.attachNotes(ctx, rec)
	return rec, nil
}

func (g *Gateway) attachNotes(ctx context.Context, rec *model.PaymentRecord) {
	draft := rec.Draft != nil && *rec.Draft
	for _, note := range rec.Notes {
		noteCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		ok, err := g.api.AddNote(noteCtx, rec.AccountID, rec.ID, note, draft)
		cancel()
		if err != nil || !ok {
			g.logger.Warn("Failed to attach note to payment",
				"payment_id", rec.ID, "note", note, "error", err)
		}
	}
}

// Refresh reloads the cached account list.
func (g *Gateway) Refresh(ctx context.Context) error {
	g.mu.Lock()
	g.accounts = nil
	g.mu.Unlock()
	_, err := g.loadAccounts(ctx)
	return err
}

func (g *Gateway) resolveAccount(ctx context.Context, alias string) (string, error) {
	if isNumeric(alias) {
		return alias, nil
	}

	accounts, err := g.loadAccounts(ctx)
	if err != nil {
		return "", fmt.Errorf("list accounts: %w", err)
	}
	for _, acct := range accounts {
		if acct.HasAlias(alias) {
			return acct.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", common.ErrUnknownAccount, alias)
}

func (g *Gateway) loadAccounts(ctx context.Context) ([]model.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.accounts != nil {
		return g.accounts, nil
	}

	var accounts []model.Account
	err := common.WithRetry(ctx, func() error {
		var err error
		accounts, err = g.api.ListAccounts(ctx)
		return err
	}, g.retry)
	if err != nil {
		return nil, err
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	g.accounts = accounts
	return accounts, nil
}

func (g *Gateway) balance(ctx context.Context, alias string) (float64, error) {
	var balance float64
	err := common.WithRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
		var err error
		balance, err = g.api.GetBalance(callCtx, alias)
		return err
	}, g.retry)
	return balance, err
}

func (g *Gateway) publish(ctx context.Context, typ events.Type, rec *model.PaymentRecord, phase common.PaymentPhase, errMsg string) {
	if g.bus == nil {
		return
	}
	payload := map[string]string{
		"hash":        rec.Hash,
		"payment_id":  rec.ID,
		"amount":      model.FormatAmount(rec.Amount),
		"currency":    rec.Currency,
		"to":          rec.ToAlias,
		"description": rec.Description,
	}
	if rec.DryRun {
		payload["dry_run"] = "true"
	}
	if phase != "" {
		payload["phase"] = string(phase)
	}
	g.bus.Publish(ctx, events.Event{Type: typ, Payload: payload, Error: errMsg})
}

func (g *Gateway) publishFailure(ctx context.Context, intent model.PaymentIntent, hash string, phase common.PaymentPhase, err error) {
	duplicate := errors.Is(err, common.ErrDuplicatePayment)
	if duplicate {
		g.logger.Info("Duplicate payment rejected", "hash", hash, "reference", intent.Reference)
	} else {
		g.logger.Warn("Payment rejected", "phase", phase, "to", intent.ToAlias, "error", err)
	}
	if g.bus == nil {
		return
	}

	payload := map[string]string{
		"hash":        hash,
		"amount":      model.FormatAmount(intent.Amount),
		"to":          intent.ToAlias,
		"description": intent.Description,
		"phase":       string(phase),
	}
	if duplicate {
		payload["duplicate"] = "true"
	}
	g.bus.Publish(ctx, events.Event{Type: events.PaymentFailed, Payload: payload, Error: err.Error()})
}

func existingID(rec *model.PaymentRecord) string {
	switch {
	case rec.Pending():
		return "a pending submission"
	case rec.ID != "":
		return rec.ID
	default:
		return "a failed submission"
	}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
