// Package scheduler persists deferred jobs and runs them once they are due.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Veraticus/autopay/internal/common"
	"github.com/Veraticus/autopay/internal/events"
	"github.com/Veraticus/autopay/internal/model"
	"github.com/Veraticus/autopay/internal/service"
	"github.com/google/uuid"
)

// Defaults for Config.
const (
	DefaultInterval       = 5 * time.Minute
	DefaultDelayThreshold = 60 * time.Minute
)

// Config controls the check loop.
type Config struct {
	Interval time.Duration
	// DelayThreshold is how late a job may run before it counts as delayed.
	DelayThreshold time.Duration
	// IgnoreDelayed drops delayed jobs instead of running them late.
	IgnoreDelayed bool
}

// PaymentMaker commits the payment of a due payment job.
type PaymentMaker interface {
	MakePayment(ctx context.Context, intent model.PaymentIntent) (*model.PaymentRecord, error)
}

// Scheduler queues jobs and executes the due ones.
type Scheduler struct {
	store    service.JobStore
	payments PaymentMaker
	notifier service.Notifier
	bus      events.Publisher
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	stopChan chan struct{}
	done     chan struct{}
	cfg      Config
	checking atomic.Bool
	started  atomic.Bool
	stopOnce sync.Once
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithPublisher sets the event bus.
func WithPublisher(p events.Publisher) Option {
	return func(s *Scheduler) { s.bus = p }
}

// New creates a Scheduler. notifier may be nil when no email or push jobs are used.
func New(store service.JobStore, payments PaymentMaker, notifier service.Notifier, cfg Config, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.DelayThreshold <= 0 {
		cfg.DelayThreshold = DefaultDelayThreshold
	}
	s := &Scheduler{
		store:    store,
		payments: payments,
		notifier: notifier,
		logger:   slog.Default().With("component", "scheduler"),
		now:      time.Now,
		newID:    uuid.NewString,
		cfg:      cfg,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Queue validates and persists job. The ID and CreatedAt are assigned here.
func (s *Scheduler) Queue(ctx context.Context, job *model.ScheduledJob) error {
	if job == nil {
		return fmt.Errorf("%w: nil job", common.ErrInvalidJobType)
	}
	if !job.Type.Valid() {
		return fmt.Errorf("%w: %q", common.ErrInvalidJobType, job.Type)
	}
	if job.ID == "" {
		job.ID = s.newID()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	if err := s.store.InsertJob(ctx, job); err != nil {
		return fmt.Errorf("failed to queue job: %w", err)
	}

	s.logger.Info("Job queued", "id", job.ID, "type", job.Type, "title", job.Title, "date", job.Date)
	s.publish(ctx, events.JobQueued, job, nil)
	return nil
}

// List returns every pending job ordered by due date.
func (s *Scheduler) List(ctx context.Context) ([]model.ScheduledJob, error) {
	return s.store.ListJobs(ctx)
}

// Remove deletes a pending job without running it.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	removed, err := s.store.RemoveJob(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to remove job %s: %w", id, err)
	}
	if !removed {
		return fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// Check executes every job due at the current time and returns how many ran.
// Overlapping calls fail with common.ErrCheckInProgress.
func (s *Scheduler) Check(ctx context.Context) (int, error) {
	if !s.checking.CompareAndSwap(false, true) {
		return 0, common.ErrCheckInProgress
	}
	defer s.checking.Store(false)

	due, err := s.store.DueJobs(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to load due jobs: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	s.logger.Debug("Found due jobs", "count", len(due))

	executed := 0
	for i := range due {
		if ctx.Err() != nil {
			return executed, ctx.Err()
		}
		ran, err := s.Execute(ctx, &due[i])
		if err != nil {
			s.logger.Error("Job failed", "id", due[i].ID, "type", due[i].Type, "error", err)
		}
		if ran {
			executed++
		}
	}
	return executed, nil
}

// Execute removes job from the store and then runs it. ran is false when the
// job was already taken by someone else or dropped for being delayed. A failed
// job is not re-queued.
func (s *Scheduler) Execute(ctx context.Context, job *model.ScheduledJob) (ran bool, err error) {
	logger := s.logger.With("id", job.ID, "type", job.Type, "title", job.Title)

	removed, err := s.store.RemoveJob(ctx, job.ID)
	if err != nil {
		return false, fmt.Errorf("failed to remove job before execution: %w", err)
	}
	if !removed {
		logger.Info("Job already taken, skipping")
		s.publishSkipped(ctx, job, "already taken")
		return false, nil
	}

	if late := s.now().Sub(job.Date); late > s.cfg.DelayThreshold {
		if s.cfg.IgnoreDelayed {
			logger.Warn("Dropping delayed job", "late", late.Round(time.Second))
			s.publishSkipped(ctx, job, "delayed")
			return false, nil
		}
		logger.Warn("Running delayed job", "late", late.Round(time.Second))
	}

	err = s.run(ctx, job)
	s.publish(ctx, events.JobExecuted, job, err)
	if err != nil {
		return true, err
	}

	logger.Info("Job executed")
	return true, nil
}

func (s *Scheduler) run(ctx context.Context, job *model.ScheduledJob) error {
	switch job.Type {
	case model.JobPayment:
		if job.Payment == nil {
			return errors.New("payment job without payment")
		}
		if s.payments == nil {
			return errors.New("no payment gateway configured")
		}
		_, err := s.payments.MakePayment(ctx, *job.Payment)
		return err

	case model.JobEmail, model.JobPush:
		if job.Notification == nil {
			return fmt.Errorf("%s job without notification", job.Type)
		}
		if s.notifier == nil {
			return errors.New("no notifier configured")
		}
		if job.Type == model.JobEmail {
			return s.notifier.SendEmail(ctx, job.Notification.Subject, job.Notification.Message)
		}
		return s.notifier.SendPush(ctx, job.Notification.Subject, job.Notification.Message)
	}
	return fmt.Errorf("%w: %q", common.ErrInvalidJobType, job.Type)
}

// Start runs Check immediately and then every Interval until Stop is called
// or ctx is canceled. Only the first call starts a loop.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("Starting scheduler", "interval", s.cfg.Interval)

	go func() {
		defer close(s.done)

		s.tick(ctx)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.tick(ctx)
			case <-ctx.Done():
				s.logger.Info("Scheduler stopped", "reason", ctx.Err())
				return
			case <-s.stopChan:
				s.logger.Info("Scheduler stopped")
				return
			}
		}
	}()
}

// Stop ends the loop started by Start and waits for the current check to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.started.Load() {
			<-s.done
		}
	})
}

func (s *Scheduler) tick(ctx context.Context) {
	n, err := s.Check(ctx)
	switch {
	case errors.Is(err, common.ErrCheckInProgress):
		s.logger.Debug("Previous check still running")
	case err != nil:
		s.logger.Error("Scheduler check failed", "error", err)
	case n > 0:
		s.logger.Info("Executed due jobs", "count", n)
	}
}

func (s *Scheduler) publish(ctx context.Context, typ events.Type, job *model.ScheduledJob, err error) {
	if s.bus == nil {
		return
	}
	ev := events.Event{
		Type: typ,
		Payload: map[string]string{
			"id":    job.ID,
			"type":  string(job.Type),
			"title": job.Title,
			"date":  job.Date.UTC().Format(time.RFC3339),
		},
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(ctx, ev)
}

func (s *Scheduler) publishSkipped(ctx context.Context, job *model.ScheduledJob, reason string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.Event{
		Type: events.JobSkipped,
		Payload: map[string]string{
			"id":     job.ID,
			"type":   string(job.Type),
			"title":  job.Title,
			"reason": reason,
		},
	})
}
