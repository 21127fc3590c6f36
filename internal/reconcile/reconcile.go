// Package reconcile confirms recorded payments against bank statement lines.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/Veraticus/autopay/internal/model"
	"github.com/Veraticus/autopay/internal/service"
)

// DefaultWindow is how far a statement date may be from the payment date.
const DefaultWindow = 3 * 24 * time.Hour

// Match pairs a payment record with the statement entry that confirms it.
type Match struct {
	Entry  model.StatementEntry
	Record model.PaymentRecord
}

// Report summarizes a reconciliation run.
type Report struct {
	Matched   []Match
	Unmatched []model.PaymentRecord
}

// Reconciler marks payments reconciled when a statement shows them.
type Reconciler struct {
	store  service.PaymentStore
	now    func() time.Time
	logger *slog.Logger
	window time.Duration
}

// New creates a Reconciler with the default date window.
func New(store service.PaymentStore) *Reconciler {
	return &Reconciler{
		store:  store,
		window: DefaultWindow,
		now:    time.Now,
		logger: slog.Default().With("component", "reconcile"),
	}
}

// Run matches every unreconciled, non-simulated payment against entries. Each
// entry confirms at most one payment. With dryRun set nothing is written.
func (r *Reconciler) Run(ctx context.Context, entries []model.StatementEntry, dryRun bool) (*Report, error) {
	records, err := r.store.ListPayments(ctx, service.PaymentFilter{UnreconciledOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}

	used := make([]bool, len(entries))
	report := &Report{}
	now := r.now().UTC()

	for _, rec := range records {
		if rec.DryRun {
			continue
		}

		idx := r.find(rec, entries, used)
		if idx < 0 {
			report.Unmatched = append(report.Unmatched, rec)
			continue
		}
		used[idx] = true
		entry := entries[idx]

		if !dryRun {
			if err := r.store.MarkPaymentReconciled(ctx, rec.Hash, entry.FITID, now); err != nil {
				return report, fmt.Errorf("failed to mark payment %s reconciled: %w", rec.Hash, err)
			}
		}
		r.logger.Info("Payment reconciled",
			"hash", rec.Hash,
			"amount", model.FormatAmount(rec.Amount),
			"fitid", entry.FITID,
			"uncertain", !rec.Succeeded())
		report.Matched = append(report.Matched, Match{Record: rec, Entry: entry})
	}

	return report, nil
}

func (r *Reconciler) find(rec model.PaymentRecord, entries []model.StatementEntry, used []bool) int {
	want := toCents(rec.Amount)
	for i, e := range entries {
		if used[i] || e.Amount >= 0 || toCents(-e.Amount) != want {
			continue
		}
		if delta := e.Date.Sub(rec.Date); delta > r.window || delta < -r.window {
			continue
		}
		if !textMatches(rec, e) {
			continue
		}
		return i
	}
	return -1
}

// textMatches requires the reference or description to appear in the
// statement name or memo. Entries without any text match on amount and date.
func textMatches(rec model.PaymentRecord, e model.StatementEntry) bool {
	haystack := squash(e.Name + " " + e.Memo)
	if haystack == "" {
		return true
	}
	for _, needle := range []string{rec.Reference, rec.Description} {
		if n := squash(needle); n != "" && strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// squash lower-cases s and keeps only letters and digits.
func squash(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
