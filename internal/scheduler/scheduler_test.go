package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/autopay/internal/common"
	"github.com/Veraticus/autopay/internal/events"
	"github.com/Veraticus/autopay/internal/model"
	"github.com/Veraticus/autopay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	now time.Time
	mu  sync.Mutex
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakePayments struct {
	err     error
	block   chan struct{}
	intents []model.PaymentIntent
	mu      sync.Mutex
}

func (f *fakePayments) MakePayment(_ context.Context, intent model.PaymentIntent) (*model.PaymentRecord, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, intent)
	if f.err != nil {
		return nil, f.err
	}
	return &model.PaymentRecord{PaymentIntent: intent, ID: "p1"}, nil
}

func (f *fakePayments) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.intents)
}

type fakeNotifier struct {
	emails []model.Notification
	pushes []model.Notification
}

func (f *fakeNotifier) SendEmail(_ context.Context, subject, message string) error {
	f.emails = append(f.emails, model.Notification{Subject: subject, Message: message})
	return nil
}

func (f *fakeNotifier) SendPush(_ context.Context, subject, message string) error {
	f.pushes = append(f.pushes, model.Notification{Subject: subject, Message: message})
	return nil
}

type fixture struct {
	db       *testutil.TestDB
	clock    *clock
	payments *fakePayments
	notifier *fakeNotifier
	bus      *events.Bus
	sched    *Scheduler
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		db:       testutil.SetupTestDB(t),
		clock:    &clock{now: time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)},
		payments: &fakePayments{},
		notifier: &fakeNotifier{},
		bus:      events.NewBus(),
	}
	t.Cleanup(f.bus.Close)
	f.sched = New(f.db.Storage, f.payments, f.notifier, cfg,
		WithClock(f.clock.Now),
		WithPublisher(f.bus))
	return f
}

func paymentJob(date time.Time) *model.ScheduledJob {
	return &model.ScheduledJob{
		Type:    model.JobPayment,
		Title:   "Rent",
		Date:    date,
		Payment: &model.PaymentIntent{Amount: 50, ToAlias: "NL91ABNA0417164300", Description: "Rent", Reference: "R1"},
	}
}

func TestScheduler_PaymentJobRunsOnceWhenDue(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	job := paymentJob(f.clock.Now().Add(5 * 24 * time.Hour))
	require.NoError(t, f.sched.Queue(ctx, job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 1, f.db.MustJobCount())

	n, err := f.sched.Check(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.payments.count())

	f.clock.Advance(5 * 24 * time.Hour)

	n, err = f.sched.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.payments.count())
	assert.Equal(t, "R1", f.payments.intents[0].Reference)
	assert.Zero(t, f.db.MustJobCount())

	n, err = f.sched.Check(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.payments.count())
}

func TestScheduler_QueueRejectsInvalidJobs(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	date := f.clock.Now()

	tests := []struct {
		name   string
		job    *model.ScheduledJob
		target error
	}{
		{name: "nil job", job: nil, target: common.ErrInvalidJobType},
		{name: "unknown type", job: &model.ScheduledJob{Type: "sms", Date: date}, target: common.ErrInvalidJobType},
		{name: "payment without payload", job: &model.ScheduledJob{Type: model.JobPayment, Date: date}},
		{name: "push without payload", job: &model.ScheduledJob{Type: model.JobPush, Date: date}},
		{name: "missing date", job: &model.ScheduledJob{Type: model.JobPush, Notification: &model.Notification{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.sched.Queue(ctx, tt.job)
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
	assert.Zero(t, f.db.MustJobCount())
}

func TestScheduler_NotificationJobs(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	now := f.clock.Now()

	require.NoError(t, f.sched.Queue(ctx, &model.ScheduledJob{
		Type: model.JobEmail, Date: now, Notification: &model.Notification{Subject: "s1", Message: "m1"},
	}))
	require.NoError(t, f.sched.Queue(ctx, &model.ScheduledJob{
		Type: model.JobPush, Date: now, Notification: &model.Notification{Subject: "s2", Message: "m2"},
	}))

	n, err := f.sched.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []model.Notification{{Subject: "s1", Message: "m1"}}, f.notifier.emails)
	assert.Equal(t, []model.Notification{{Subject: "s2", Message: "m2"}}, f.notifier.pushes)
}

func TestScheduler_FailedJobIsNotRequeued(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.payments.err = errors.New("bank down")

	require.NoError(t, f.sched.Queue(ctx, paymentJob(f.clock.Now())))

	n, err := f.sched.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, f.db.MustJobCount())
}

func TestScheduler_DelayedJobs(t *testing.T) {
	tests := []struct {
		name          string
		ignoreDelayed bool
		wantPayments  int
	}{
		{name: "run late by default", ignoreDelayed: false, wantPayments: 1},
		{name: "drop when ignoring delayed", ignoreDelayed: true, wantPayments: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{IgnoreDelayed: tt.ignoreDelayed})
			ctx := context.Background()

			require.NoError(t, f.sched.Queue(ctx, paymentJob(f.clock.Now())))
			f.clock.Advance(2 * time.Hour)

			_, err := f.sched.Check(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPayments, f.payments.count())
			assert.Zero(t, f.db.MustJobCount())
		})
	}
}

func TestScheduler_ExecuteSkipsTakenJob(t *testing.T) {
	f := newFixture(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsubscribe := f.bus.Subscribe(ctx, 8)
	defer unsubscribe()

	job := paymentJob(f.clock.Now())
	require.NoError(t, f.sched.Queue(ctx, job))
	<-ch // job.queued

	ran, err := f.sched.Execute(ctx, job)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, events.JobExecuted, (<-ch).Type)

	ran, err = f.sched.Execute(ctx, job)
	require.NoError(t, err)
	assert.False(t, ran)
	skipped := <-ch
	assert.Equal(t, events.JobSkipped, skipped.Type)
	assert.Equal(t, "already taken", skipped.Payload["reason"])

	assert.Equal(t, 1, f.payments.count())
}

func TestScheduler_CheckIsSingleFlight(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.payments.block = make(chan struct{})

	require.NoError(t, f.sched.Queue(ctx, paymentJob(f.clock.Now())))

	done := make(chan struct{})
	go func() {
		defer close(done)
		n, err := f.sched.Check(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 1, n)
	}()

	require.Eventually(t, func() bool { return f.db.MustJobCount() == 0 }, time.Second, 5*time.Millisecond)

	_, err := f.sched.Check(ctx)
	assert.ErrorIs(t, err, common.ErrCheckInProgress)

	close(f.payments.block)
	<-done

	_, err = f.sched.Check(ctx)
	assert.NoError(t, err)
}

func TestScheduler_ListAndRemove(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	later := paymentJob(f.clock.Now().Add(48 * time.Hour))
	sooner := paymentJob(f.clock.Now().Add(24 * time.Hour))
	require.NoError(t, f.sched.Queue(ctx, later))
	require.NoError(t, f.sched.Queue(ctx, sooner))

	jobs, err := f.sched.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, sooner.ID, jobs[0].ID)

	require.NoError(t, f.sched.Remove(ctx, sooner.ID))
	assert.ErrorIs(t, f.sched.Remove(ctx, sooner.ID), common.ErrNotFound)
	assert.Equal(t, 1, f.db.MustJobCount())
}

func TestScheduler_StartRunsImmediately(t *testing.T) {
	f := newFixture(t, Config{Interval: time.Hour})
	ctx := context.Background()

	require.NoError(t, f.sched.Queue(ctx, paymentJob(f.clock.Now())))

	f.sched.Start(ctx)
	require.Eventually(t, func() bool { return f.payments.count() == 1 }, time.Second, 5*time.Millisecond)
	f.sched.Stop()
	f.sched.Stop()
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	f := newFixture(t, Config{})
	f.sched.Stop()
}
