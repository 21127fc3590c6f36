package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/autopay/internal/common"
	"github.com/Veraticus/autopay/internal/model"
	"github.com/Veraticus/autopay/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPaymentRecord(reference string, date time.Time) *model.PaymentRecord {
	draft := false
	return &model.PaymentRecord{
		PaymentIntent: model.PaymentIntent{
			Amount:      25.5,
			Currency:    "EUR",
			FromAlias:   "me@example.com",
			ToAlias:     "NL91ABNA0417164300",
			ToName:      "Landlord",
			Description: "Rent",
			Reference:   reference,
			Hash:        model.HashReference(reference),
			Notes:       []string{"march"},
			Draft:       &draft,
		},
		ID:        "pay-" + reference,
		AccountID: "42",
		AliasType: model.AliasIBAN,
		Date:      date,
	}
}

func TestInsertPayment_RoundTrip(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := testPaymentRecord("R1", date)
	require.NoError(t, store.InsertPayment(ctx, rec))

	got, err := store.GetPaymentByHash(ctx, rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Amount, got.Amount)
	assert.Equal(t, model.AliasIBAN, got.AliasType)
	assert.Equal(t, []string{"march"}, got.Notes)
	require.NotNil(t, got.Draft)
	assert.False(t, *got.Draft)
	assert.True(t, got.Date.Equal(date))
	assert.Nil(t, got.ReconciledAt)
}

func TestInsertPayment_DuplicateHash(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	date := time.Now()
	require.NoError(t, store.InsertPayment(ctx, testPaymentRecord("R1", date)))

	err := store.InsertPayment(ctx, testPaymentRecord("R1", date.Add(time.Hour)))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrDuplicatePayment)
}

func TestInsertPayment_ConcurrentSameHash(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		dupes     int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.InsertPayment(ctx, testPaymentRecord("same", time.Now()))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if common.IsDuplicate(err) {
				dupes++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, dupes)
}

func TestUpdatePayment(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	rec := testPaymentRecord("R2", time.Now())
	rec.ID = ""
	rec.Error = model.PaymentPending
	require.NoError(t, store.InsertPayment(ctx, rec))

	rec.ID = "12345"
	rec.Error = ""
	require.NoError(t, store.UpdatePayment(ctx, rec))

	got, err := store.GetPaymentByHash(ctx, rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, "12345", got.ID)
	assert.True(t, got.Succeeded())

	missing := testPaymentRecord("R3", time.Now())
	assert.ErrorIs(t, store.UpdatePayment(ctx, missing), common.ErrNotFound)
}

func TestGetPaymentByHash_NotFound(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	_, err := store.GetPaymentByHash(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestListPayments(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertPayment(ctx, testPaymentRecord("old", base.AddDate(0, 0, -10))))
	require.NoError(t, store.InsertPayment(ctx, testPaymentRecord("mid", base.AddDate(0, 0, -2))))
	require.NoError(t, store.InsertPayment(ctx, testPaymentRecord("new", base)))

	dry := testPaymentRecord("dry", base.Add(time.Hour))
	dry.DryRun = true
	require.NoError(t, store.InsertPayment(ctx, dry))

	require.NoError(t, store.MarkPaymentReconciled(ctx, model.HashReference("mid"), "FIT-1", base))

	since := base.AddDate(0, 0, -5)
	tests := []struct {
		name   string
		want   []string
		filter service.PaymentFilter
	}{
		{name: "all newest first", filter: service.PaymentFilter{}, want: []string{"dry", "new", "mid", "old"}},
		{name: "limit", filter: service.PaymentFilter{Limit: 2}, want: []string{"dry", "new"}},
		{name: "since", filter: service.PaymentFilter{Since: &since}, want: []string{"dry", "new", "mid"}},
		{name: "unreconciled skips dry runs", filter: service.PaymentFilter{UnreconciledOnly: true}, want: []string{"new", "old"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payments, err := store.ListPayments(ctx, tt.filter)
			require.NoError(t, err)

			refs := make([]string, 0, len(payments))
			for _, p := range payments {
				refs = append(refs, p.Reference)
			}
			assert.Equal(t, tt.want, refs)
		})
	}
}

func TestMarkPaymentReconciled(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	rec := testPaymentRecord("R9", time.Now())
	require.NoError(t, store.InsertPayment(ctx, rec))

	at := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.MarkPaymentReconciled(ctx, rec.Hash, "FIT-9", at))

	got, err := store.GetPaymentByHash(ctx, rec.Hash)
	require.NoError(t, err)
	require.NotNil(t, got.ReconciledAt)
	assert.True(t, got.ReconciledAt.Equal(at))
	assert.Equal(t, "FIT-9", got.StatementRef)

	err = store.MarkPaymentReconciled(ctx, "unknown", "FIT-0", at)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestInsertPayment_Validation(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	noHash := testPaymentRecord("R1", time.Now())
	noHash.Hash = ""
	noDate := testPaymentRecord("R2", time.Time{})

	tests := []struct {
		rec     *model.PaymentRecord
		wantErr error
		name    string
	}{
		{name: "nil", rec: nil, wantErr: ErrNilParameter},
		{name: "missing hash", rec: noHash, wantErr: ErrInvalidPayment},
		{name: "missing date", rec: noDate, wantErr: ErrInvalidPayment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, store.InsertPayment(ctx, tt.rec), tt.wantErr)
		})
	}
}
