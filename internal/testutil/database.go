// Package testutil provides shared test helpers for autopay packages.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/autopay/internal/service"
	"github.com/Veraticus/autopay/internal/storage"
)

// TestDB wraps a migrated in-memory database.
type TestDB struct {
	Storage service.Storage
	t       *testing.T
}

// SetupTestDB creates a new in-memory test database.
// It automatically handles migrations and cleanup.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{})
}

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	CustomSetup    func(context.Context, service.Storage) error
	SkipMigrations bool
}

// SetupTestDBWithOptions creates a test database with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	ctx := context.Background()

	if !opts.SkipMigrations {
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{
		Storage: store,
		t:       t,
	}
}

// MustJobCount returns the number of queued jobs or fails the test.
func (db *TestDB) MustJobCount() int {
	db.t.Helper()
	jobs, err := db.Storage.ListJobs(context.Background())
	if err != nil {
		db.t.Fatalf("failed to list jobs: %v", err)
	}
	return len(jobs)
}

// MustPaymentCount returns the number of stored payment records or fails the test.
func (db *TestDB) MustPaymentCount() int {
	db.t.Helper()
	payments, err := db.Storage.ListPayments(context.Background(), service.PaymentFilter{})
	if err != nil {
		db.t.Fatalf("failed to list payments: %v", err)
	}
	return len(payments)
}
