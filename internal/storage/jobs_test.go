package storage

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/autopay/internal/common"
	"github.com/Veraticus/autopay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobs_InsertListRemove(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	payment := &model.ScheduledJob{
		ID:    "job-payment",
		Title: "Pay invoice",
		Type:  model.JobPayment,
		Date:  now.AddDate(0, 0, 5),
		Payment: &model.PaymentIntent{
			Amount:      50,
			ToAlias:     "NL91ABNA0417164300",
			Description: "Invoice 7",
		},
	}
	push := &model.ScheduledJob{
		ID:           "job-push",
		Title:        "Reminder",
		Type:         model.JobPush,
		Date:         now.Add(-time.Minute),
		Notification: &model.Notification{Subject: "Reminder", Message: "Check your balance"},
	}

	require.NoError(t, store.InsertJob(ctx, payment))
	require.NoError(t, store.InsertJob(ctx, push))

	jobs, err := store.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-push", jobs[0].ID)
	assert.Equal(t, "job-payment", jobs[1].ID)
	require.NotNil(t, jobs[1].Payment)
	assert.Equal(t, 50.0, jobs[1].Payment.Amount)
	assert.Nil(t, jobs[1].Notification)
	require.NotNil(t, jobs[0].Notification)
	assert.Equal(t, "Check your balance", jobs[0].Notification.Message)

	due, err := store.DueJobs(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "job-push", due[0].ID)

	due, err = store.DueJobs(ctx, now.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.Len(t, due, 2)

	removed, err := store.RemoveJob(ctx, "job-push")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.RemoveJob(ctx, "job-push")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestInsertJob_Rejects(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	valid := func() *model.ScheduledJob {
		return &model.ScheduledJob{
			ID:           "job-1",
			Type:         model.JobEmail,
			Date:         time.Now(),
			Notification: &model.Notification{Subject: "s", Message: "m"},
		}
	}

	badType := valid()
	badType.Type = "sms"
	noPayload := valid()
	noPayload.Notification = nil
	noID := valid()
	noID.ID = ""

	tests := []struct {
		job     *model.ScheduledJob
		wantErr error
		name    string
	}{
		{name: "unknown type", job: badType, wantErr: ErrInvalidJob},
		{name: "missing payload", job: noPayload, wantErr: ErrInvalidJob},
		{name: "missing id", job: noID, wantErr: ErrInvalidJob},
		{name: "nil", job: nil, wantErr: ErrNilParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, store.InsertJob(ctx, tt.job), tt.wantErr)
		})
	}

	require.NoError(t, store.InsertJob(ctx, valid()))
	assert.ErrorIs(t, store.InsertJob(ctx, valid()), common.ErrDuplicateEntry)
}
