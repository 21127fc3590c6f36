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

func testProcessedMessage(id string) *model.ProcessedMessage {
	return &model.ProcessedMessage{
		MessageID: id,
		From:      "billing@example.com",
		Subject:   "Your invoice",
		Date:      time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		Actions:   map[string]model.ActionOutcome{},
	}
}

func TestInsertProcessedMessage(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	inserted, err := store.InsertProcessedMessage(ctx, testProcessedMessage("msg-1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	second := testProcessedMessage("msg-1")
	second.Subject = "Different subject"
	inserted, err = store.InsertProcessedMessage(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted, "second insert for the same message must be a no-op")

	got, err := store.GetProcessedMessage(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "Your invoice", got.Subject)
	assert.True(t, got.Date.Equal(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)))
	assert.Empty(t, got.Actions)
}

func TestUpdateProcessedMessage(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	rec := testProcessedMessage("msg-2")
	_, err := store.InsertProcessedMessage(ctx, rec)
	require.NoError(t, err)

	rec.Actions["generic"] = model.ActionOutcome{Status: model.OutcomeSuccess, PaymentID: "p-1"}
	rec.Actions["notify"] = model.ActionOutcome{Status: model.OutcomeError, Error: "missing subject"}
	require.NoError(t, store.UpdateProcessedMessage(ctx, rec))

	got, err := store.GetProcessedMessage(ctx, "msg-2")
	require.NoError(t, err)
	require.Len(t, got.Actions, 2)
	assert.Equal(t, model.OutcomeSuccess, got.Actions["generic"].Status)
	assert.Equal(t, "p-1", got.Actions["generic"].PaymentID)
	assert.Equal(t, "missing subject", got.Actions["notify"].Error)
}

func TestUpdateProcessedMessage_Missing(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	err := store.UpdateProcessedMessage(context.Background(), testProcessedMessage("nope"))
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestHasProcessedMessage(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	ok, err := store.HasProcessedMessage(ctx, "msg-3")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.InsertProcessedMessage(ctx, testProcessedMessage("msg-3"))
	require.NoError(t, err)

	ok, err = store.HasProcessedMessage(ctx, "msg-3")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.GetProcessedMessage(ctx, "msg-4")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestInsertProcessedMessage_Validation(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tests := []struct {
		rec     *model.ProcessedMessage
		wantErr error
		name    string
	}{
		{name: "nil record", rec: nil, wantErr: ErrNilParameter},
		{name: "blank id", rec: testProcessedMessage(" "), wantErr: ErrInvalidMessageItem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.InsertProcessedMessage(ctx, tt.rec)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
