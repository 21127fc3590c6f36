package model

import (
	"crypto/sha1" //nolint:gosec // idempotency key, collisions are not adversarial
	"fmt"
	"strings"
	"time"
)

// DefaultCurrency is used when an intent does not name one.
const DefaultCurrency = "EUR"

// AliasType classifies a counterparty or account alias.
type AliasType string

// Alias types understood by the payment API.
const (
	AliasEmail AliasType = "EMAIL"
	AliasPhone AliasType = "PHONE_NUMBER"
	AliasIBAN  AliasType = "IBAN"
)

// ClassifyAlias guesses the alias type from its shape: anything with an @ is an
// email address, short values are phone numbers, and the rest are IBANs.
func ClassifyAlias(alias string) AliasType {
	alias = strings.TrimSpace(alias)
	switch {
	case strings.Contains(alias, "@"):
		return AliasEmail
	case len(alias) < 15:
		return AliasPhone
	default:
		return AliasIBAN
	}
}

// Alias is one identifier of a bank account.
type Alias struct {
	Type  AliasType `json:"type"`
	Value string    `json:"value"`
}

// Account is a bank account owned by the user.
type Account struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Aliases     []Alias `json:"aliases"`
	Balance     float64 `json:"balance"`
}

// HasAlias reports whether any registered alias equals value, ignoring case and spaces.
func (a Account) HasAlias(value string) bool {
	want := normalizeAlias(value)
	if want == "" {
		return false
	}
	if normalizeAlias(a.ID) == want {
		return true
	}
	for _, alias := range a.Aliases {
		if normalizeAlias(alias.Value) == want {
			return true
		}
	}
	return false
}

func normalizeAlias(v string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(v), " ", ""))
}

// Counterparty is the receiving side of a payment.
type Counterparty struct {
	Type  AliasType `json:"type"`
	Value string    `json:"value"`
	Name  string    `json:"name,omitempty"`
}

// PaymentIntent is a request to move money, produced by actions and scheduled jobs.
type PaymentIntent struct {
	Draft       *bool    `json:"draft,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	FromAlias   string   `json:"from_alias,omitempty"`
	ToAlias     string   `json:"to_alias"`
	ToName      string   `json:"to_name,omitempty"`
	Description string   `json:"description"`
	Reference   string   `json:"reference,omitempty"`
	Hash        string   `json:"hash,omitempty"`
	Notes       []string `json:"notes,omitempty"`
	Amount      float64  `json:"amount"`
}

// DefaultReference builds the reference used when the caller supplies none.
func (p PaymentIntent) DefaultReference(date time.Time) string {
	return fmt.Sprintf("%s-%s-%s", date.Format("2006-01-02"), FormatAmount(p.Amount), p.Description)
}

// HashReference returns the idempotency key for a reference.
func HashReference(reference string) string {
	sum := sha1.Sum([]byte(reference)) //nolint:gosec // see import
	return fmt.Sprintf("%x", sum)
}

// FormatAmount renders an amount with two decimals.
func FormatAmount(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

// PaymentRecord is the persisted result of a committed or attempted payment.
type PaymentRecord struct {
	Date         time.Time
	ReconciledAt *time.Time
	PaymentIntent
	ID           string
	AccountID    string
	AliasType    AliasType
	Error        string
	ReverseID    string
	StatementRef string
	DryRun       bool
}

// PaymentPending marks a reserved record whose submission has not finished.
// A record left in this state after a crash needs manual reconciliation.
const PaymentPending = "pending submission"

// Pending reports whether the record is still reserved without a result.
func (r PaymentRecord) Pending() bool {
	return r.Error == PaymentPending
}

// Succeeded reports whether the payment API accepted the payment.
func (r PaymentRecord) Succeeded() bool {
	return r.Error == "" && r.ID != ""
}
