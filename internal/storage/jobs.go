package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Veraticus/autopay/internal/common"
	"github.com/Veraticus/autopay/internal/model"
)

// jobOptions is the type-tagged payload stored in the options column.
type jobOptions struct {
	Payment      *model.PaymentIntent `json:"payment,omitempty"`
	Notification *model.Notification  `json:"notification,omitempty"`
	Type         model.JobType        `json:"type"`
}

// InsertJob persists a scheduled job.
func (s *SQLiteStorage) InsertJob(ctx context.Context, job *model.ScheduledJob) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateJob(job); err != nil {
		return err
	}

	options, err := json.Marshal(jobOptions{
		Type:         job.Type,
		Payment:      job.Payment,
		Notification: job.Notification,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal job options: %w", err)
	}

	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, date, title, type, options, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.Date.UTC(), job.Title, string(job.Type), string(options), createdAt.UTC(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("job %s: %w", job.ID, common.ErrDuplicateEntry)
	}
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// ListJobs returns all queued jobs ordered by due date.
func (s *SQLiteStorage) ListJobs(ctx context.Context) ([]model.ScheduledJob, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.queryJobs(ctx, `
		SELECT id, date, title, type, options, created_at
		FROM scheduled_jobs
		ORDER BY date, created_at`)
}

// DueJobs returns jobs whose date is at or before now.
func (s *SQLiteStorage) DueJobs(ctx context.Context, now time.Time) ([]model.ScheduledJob, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.queryJobs(ctx, `
		SELECT id, date, title, type, options, created_at
		FROM scheduled_jobs
		WHERE date <= ?
		ORDER BY date, created_at`, now.UTC())
}

// RemoveJob deletes a job and reports whether it existed.
func (s *SQLiteStorage) RemoveJob(ctx context.Context, id string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(id, "id"); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to remove job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected == 1, nil
}

func (s *SQLiteStorage) queryJobs(ctx context.Context, query string, args ...any) ([]model.ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer closeRows(rows)

	var jobs []model.ScheduledJob
	for rows.Next() {
		var (
			job     model.ScheduledJob
			jobType string
			options string
		)
		if err := rows.Scan(&job.ID, &job.Date, &job.Title, &jobType, &options, &job.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		var opts jobOptions
		if err := json.Unmarshal([]byte(options), &opts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal options of job %s: %w", job.ID, err)
		}
		job.Type = model.JobType(jobType)
		job.Payment = opts.Payment
		job.Notification = opts.Notification
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}
