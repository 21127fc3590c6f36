// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/autopay/internal/model"
)

// MessageStore persists processed-message records.
type MessageStore interface {
	// InsertProcessedMessage stores rec unless a record for the same message ID
	// exists; inserted is false in that case.
	InsertProcessedMessage(ctx context.Context, rec *model.ProcessedMessage) (inserted bool, err error)
	UpdateProcessedMessage(ctx context.Context, rec *model.ProcessedMessage) error
	GetProcessedMessage(ctx context.Context, messageID string) (*model.ProcessedMessage, error)
	HasProcessedMessage(ctx context.Context, messageID string) (bool, error)
}

// PaymentStore is the idempotency store for payment records.
type PaymentStore interface {
	GetPaymentByHash(ctx context.Context, hash string) (*model.PaymentRecord, error)
	// InsertPayment fails with common.ErrDuplicatePayment when the hash is taken.
	InsertPayment(ctx context.Context, rec *model.PaymentRecord) error
	// UpdatePayment stores the commit result for an existing hash.
	UpdatePayment(ctx context.Context, rec *model.PaymentRecord) error
	ListPayments(ctx context.Context, filter PaymentFilter) ([]model.PaymentRecord, error)
	MarkPaymentReconciled(ctx context.Context, hash, statementRef string, at time.Time) error
}

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	Since            *time.Time
	Limit            int
	UnreconciledOnly bool
}

// JobStore persists scheduled jobs.
type JobStore interface {
	InsertJob(ctx context.Context, job *model.ScheduledJob) error
	ListJobs(ctx context.Context) ([]model.ScheduledJob, error)
	DueJobs(ctx context.Context, now time.Time) ([]model.ScheduledJob, error)
	// RemoveJob deletes the job; removed is false if it was already gone.
	RemoveJob(ctx context.Context, id string) (removed bool, err error)
}

// KeyValueStore is a small durable settings store.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Unset(ctx context.Context, key string) error
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	MessageStore
	PaymentStore
	JobStore
	KeyValueStore

	Migrate(ctx context.Context) error
	Close() error
}

// PaymentAPI is the external banking API boundary.
type PaymentAPI interface {
	IsAuthenticated(ctx context.Context) (bool, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	GetBalance(ctx context.Context, alias string) (float64, error)
	SubmitPayment(ctx context.Context, req SubmitRequest) (paymentID string, err error)
	AddNote(ctx context.Context, accountID, paymentID, note string, draft bool) (bool, error)
}

// SubmitRequest carries everything the payment API needs to move money.
type SubmitRequest struct {
	Counterparty model.Counterparty
	AccountID    string
	Currency     string
	Description  string
	Reference    string
	Amount       float64
	Draft        bool
}

// Notifier delivers messages to the user.
type Notifier interface {
	SendEmail(ctx context.Context, subject, message string) error
	SendPush(ctx context.Context, subject, message string) error
}

// MailSource delivers inbound messages.
type MailSource interface {
	Name() string
	FetchSince(ctx context.Context, since time.Time) ([]model.InboundMessage, error)
}
