package actions

import (
	"context"
	"fmt"

	"github.com/Veraticus/autopay/internal/model"
)

const defaultDeferDays = 14

// Generic pays a fixed amount to a fixed counterparty.
type Generic struct{}

// DefaultRule has no defaults.
func (g *Generic) DefaultRule() model.Rule {
	return model.Rule{}
}

// Handle builds the payment intent described by the rule options.
func (g *Generic) Handle(_ context.Context, msg model.InboundMessage, rule model.Rule) (Result, error) {
	intent, reason := intentFromRule(msg, rule)
	if reason != "" {
		return Failed(reason), nil
	}
	return Result{Payment: intent}, nil
}

// Deferred queues the payment described by the rule options a number of days out.
type Deferred struct {
	deps Deps
}

// DefaultRule defers by two weeks unless the rule says otherwise.
func (d *Deferred) DefaultRule() model.Rule {
	return model.Rule{Options: map[string]any{"days": defaultDeferDays}}
}

// Handle returns a payment job due after the configured number of days.
func (d *Deferred) Handle(_ context.Context, msg model.InboundMessage, rule model.Rule) (Result, error) {
	intent, reason := intentFromRule(msg, rule)
	if reason != "" {
		return Failed(reason), nil
	}

	days := rule.OptInt("days", defaultDeferDays)
	if days < 0 {
		return Failed(fmt.Sprintf("days must not be negative, got %d", days)), nil
	}

	now := d.deps.Now()
	if intent.Reference == "" {
		// The hash must not depend on when the job runs.
		intent.Reference = intent.DefaultReference(messageDate(msg, now))
	}

	return Result{Job: &model.ScheduledJob{
		ID:        d.deps.NewID(),
		Title:     fmt.Sprintf("Pay %s %s to %s", model.FormatAmount(intent.Amount), currencyOrDefault(intent.Currency), intent.ToAlias),
		Type:      model.JobPayment,
		Date:      now.AddDate(0, 0, days),
		CreatedAt: now,
		Payment:   intent,
	}}, nil
}

// TopUp refills an account from another one when its balance drops below a threshold.
type TopUp struct {
	deps Deps
}

// DefaultRule requires security checks.
func (t *TopUp) DefaultRule() model.Rule {
	return model.Rule{RequireSecurityChecks: boolPtr(true)}
}

// Handle checks the balance of the target account and returns a top-up payment when needed.
func (t *TopUp) Handle(ctx context.Context, msg model.InboundMessage, rule model.Rule) (Result, error) {
	if t.deps.Balances == nil {
		return Result{}, fmt.Errorf("topup action requires a balance reader")
	}

	account := rule.OptString("account")
	if account == "" {
		return Failed("missing required option: account"), nil
	}
	threshold, ok := rule.OptFloat("threshold")
	if !ok {
		return Failed("missing required option: threshold"), nil
	}
	amount, ok := rule.OptFloat("amount")
	if !ok || amount <= 0 {
		return Failed("missing or invalid option: amount"), nil
	}

	balance, err := t.deps.Balances.GetBalance(ctx, account)
	if err != nil {
		return Failed(fmt.Sprintf("failed to read balance of %s: %v", account, err)), nil
	}

	if balance >= threshold {
		return Result{Info: fmt.Sprintf("balance %s of %s is above threshold %s",
			model.FormatAmount(balance), account, model.FormatAmount(threshold))}, nil
	}

	description := rule.OptString("description")
	if description == "" {
		description = "Top-up " + account
	}

	return Result{Payment: &model.PaymentIntent{
		Amount:      amount,
		Currency:    rule.OptString("currency"),
		FromAlias:   rule.OptString("from_alias"),
		ToAlias:     account,
		ToName:      rule.OptString("to_name"),
		Description: description,
		Notes:       rule.OptStrings("notes"),
		Draft:       optBoolPtr(rule, "draft"),
	}}, nil
}

func intentFromRule(msg model.InboundMessage, rule model.Rule) (*model.PaymentIntent, string) {
	amount, ok := rule.OptFloat("amount")
	if !ok {
		return nil, "missing or invalid option: amount"
	}
	toAlias := rule.OptString("to_alias")
	if toAlias == "" {
		return nil, "missing required option: to_alias"
	}

	description := rule.OptString("description")
	if description == "" {
		description = fmt.Sprintf("%s: %s", msg.From, msg.Subject)
	}

	return &model.PaymentIntent{
		Amount:      amount,
		Currency:    rule.OptString("currency"),
		FromAlias:   rule.OptString("from_alias"),
		ToAlias:     toAlias,
		ToName:      rule.OptString("to_name"),
		Description: description,
		Reference:   rule.OptString("reference"),
		Notes:       rule.OptStrings("notes"),
		Draft:       optBoolPtr(rule, "draft"),
	}, ""
}
