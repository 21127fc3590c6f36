package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/autopay/internal/common"
	"github.com/Veraticus/autopay/internal/model"
	"github.com/Veraticus/autopay/internal/service"
)

const paymentColumns = `hash, payment_id, account_id, from_alias, to_alias, to_name, alias_type,
	amount, currency, description, reference, notes, draft, dry_run, error, reverse_id, date,
	reconciled_at, statement_ref`

// InsertPayment stores a payment record. The UNIQUE hash column makes this an
// atomic insert-if-absent; a taken hash yields common.ErrDuplicatePayment.
func (s *SQLiteStorage) InsertPayment(ctx context.Context, rec *model.PaymentRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePaymentRecord(rec); err != nil {
		return err
	}

	notes, err := json.Marshal(nonNilNotes(rec.Notes))
	if err != nil {
		return fmt.Errorf("failed to marshal notes: %w", err)
	}

	draft := rec.Draft != nil && *rec.Draft

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Hash, rec.ID, rec.AccountID, rec.FromAlias, rec.ToAlias, rec.ToName, string(rec.AliasType),
		rec.Amount, rec.Currency, rec.Description, rec.Reference, string(notes), draft, rec.DryRun,
		rec.Error, rec.ReverseID, rec.Date.UTC(), nullableTime(rec.ReconciledAt), rec.StatementRef,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("hash %s: %w", rec.Hash, common.ErrDuplicatePayment)
	}
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// UpdatePayment writes the commit outcome of a reserved payment.
func (s *SQLiteStorage) UpdatePayment(ctx context.Context, rec *model.PaymentRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePaymentRecord(rec); err != nil {
		return err
	}

	notes, err := json.Marshal(nonNilNotes(rec.Notes))
	if err != nil {
		return fmt.Errorf("failed to marshal notes: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET payment_id = ?, account_id = ?, notes = ?, dry_run = ?, error = ?, reverse_id = ?, date = ?
		WHERE hash = ?`,
		rec.ID, rec.AccountID, string(notes), rec.DryRun, rec.Error, rec.ReverseID, rec.Date.UTC(), rec.Hash,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("payment %s: %w", rec.Hash, common.ErrNotFound)
	}
	return nil
}

// GetPaymentByHash loads a payment by its idempotency hash.
func (s *SQLiteStorage) GetPaymentByHash(ctx context.Context, hash string) (*model.PaymentRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(hash, "hash"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE hash = ?`, hash)
	rec, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %s: %w", hash, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListPayments returns payments newest first.
func (s *SQLiteStorage) ListPayments(ctx context.Context, filter service.PaymentFilter) ([]model.PaymentRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		conditions []string
		args       []any
	)
	if filter.Since != nil {
		conditions = append(conditions, "date >= ?")
		args = append(args, filter.Since.UTC())
	}
	if filter.UnreconciledOnly {
		conditions = append(conditions, "reconciled_at IS NULL", "dry_run = 0")
	}

	query := `SELECT ` + paymentColumns + ` FROM payments`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY date DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer closeRows(rows)

	var payments []model.PaymentRecord
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return payments, nil
}

// MarkPaymentReconciled records that a statement line confirmed the payment.
func (s *SQLiteStorage) MarkPaymentReconciled(ctx context.Context, hash, statementRef string, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(hash, "hash"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE payments SET reconciled_at = ?, statement_ref = ? WHERE hash = ?`,
		at.UTC(), statementRef, hash)
	if err != nil {
		return fmt.Errorf("failed to mark payment reconciled: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("payment %s: %w", hash, common.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*model.PaymentRecord, error) {
	var (
		rec        model.PaymentRecord
		aliasType  string
		notes      string
		draft      bool
		reconciled sql.NullTime
	)

	err := row.Scan(
		&rec.Hash, &rec.ID, &rec.AccountID, &rec.FromAlias, &rec.ToAlias, &rec.ToName, &aliasType,
		&rec.Amount, &rec.Currency, &rec.Description, &rec.Reference, &notes, &draft, &rec.DryRun,
		&rec.Error, &rec.ReverseID, &rec.Date, &reconciled, &rec.StatementRef,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}

	rec.AliasType = model.AliasType(aliasType)
	rec.Draft = &draft
	if reconciled.Valid {
		t := reconciled.Time
		rec.ReconciledAt = &t
	}
	if err := json.Unmarshal([]byte(notes), &rec.Notes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notes: %w", err)
	}
	if len(rec.Notes) == 0 {
		rec.Notes = nil
	}
	return &rec, nil
}

func nonNilNotes(notes []string) []string {
	if notes == nil {
		return []string{}
	}
	return notes
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
