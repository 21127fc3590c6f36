package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/autopay/internal/common"
	"github.com/Veraticus/autopay/internal/model"
)

// InsertProcessedMessage stores rec unless the message ID is already recorded.
func (s *SQLiteStorage) InsertProcessedMessage(ctx context.Context, rec *model.ProcessedMessage) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateProcessedMessage(rec); err != nil {
		return false, err
	}

	actions, err := marshalActions(rec.Actions)
	if err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_messages (message_id, sender, subject, date, actions)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		rec.MessageID, rec.From, rec.Subject, rec.Date.UTC(), actions,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert processed message: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected == 1, nil
}

// UpdateProcessedMessage rewrites the action outcomes of an existing record.
func (s *SQLiteStorage) UpdateProcessedMessage(ctx context.Context, rec *model.ProcessedMessage) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateProcessedMessage(rec); err != nil {
		return err
	}

	actions, err := marshalActions(rec.Actions)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE processed_messages
		SET actions = ?, updated_at = ?
		WHERE message_id = ?`,
		actions, time.Now().UTC(), rec.MessageID,
	)
	if err != nil {
		return fmt.Errorf("failed to update processed message: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("processed message %s: %w", rec.MessageID, common.ErrNotFound)
	}
	return nil
}

// GetProcessedMessage loads the record for a message ID.
func (s *SQLiteStorage) GetProcessedMessage(ctx context.Context, messageID string) (*model.ProcessedMessage, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(messageID, "messageID"); err != nil {
		return nil, err
	}

	rec := &model.ProcessedMessage{}
	var actions string
	err := s.db.QueryRowContext(ctx, `
		SELECT message_id, sender, subject, date, actions
		FROM processed_messages
		WHERE message_id = ?`, messageID,
	).Scan(&rec.MessageID, &rec.From, &rec.Subject, &rec.Date, &actions)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("processed message %s: %w", messageID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query processed message: %w", err)
	}

	if err := json.Unmarshal([]byte(actions), &rec.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}
	if rec.Actions == nil {
		rec.Actions = make(map[string]model.ActionOutcome)
	}
	return rec, nil
}

// HasProcessedMessage reports whether a record exists for the message ID.
func (s *SQLiteStorage) HasProcessedMessage(ctx context.Context, messageID string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_messages WHERE message_id = ?)`, messageID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed message: %w", err)
	}
	return exists == 1, nil
}

func marshalActions(actions map[string]model.ActionOutcome) (string, error) {
	if actions == nil {
		return "{}", nil
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return "", fmt.Errorf("failed to marshal actions: %w", err)
	}
	return string(data), nil
}
