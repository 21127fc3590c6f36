package bank

import (
	"context"
	"fmt"
	"sync"

	"github.com/Veraticus/autopay/internal/model"
	"github.com/Veraticus/autopay/internal/service"
)

// MockClient is a mock implementation of service.PaymentAPI for testing.
type MockClient struct {
	// Functions that can be set by tests to control behavior
	IsAuthenticatedFn func(ctx context.Context) (bool, error)
	ListAccountsFn    func(ctx context.Context) ([]model.Account, error)
	GetBalanceFn      func(ctx context.Context, alias string) (float64, error)
	SubmitPaymentFn   func(ctx context.Context, req service.SubmitRequest) (string, error)
	AddNoteFn         func(ctx context.Context, accountID, paymentID, note string, draft bool) (bool, error)

	// Call tracking
	SubmitCalls       []service.SubmitRequest
	NoteCalls         []NoteCall
	ListAccountsCalls int
	GetBalanceCalls   int

	mu sync.Mutex
}

// NoteCall records the parameters of an AddNote call.
type NoteCall struct {
	AccountID string
	PaymentID string
	Note      string
	Draft     bool
}

// NewMockClient creates a mock that is authenticated and accepts every payment.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// IsAuthenticated implements service.PaymentAPI.
func (m *MockClient) IsAuthenticated(ctx context.Context) (bool, error) {
	if m.IsAuthenticatedFn != nil {
		return m.IsAuthenticatedFn(ctx)
	}
	return true, nil
}

// ListAccounts implements service.PaymentAPI.
func (m *MockClient) ListAccounts(ctx context.Context) ([]model.Account, error) {
	m.mu.Lock()
	m.ListAccountsCalls++
	m.mu.Unlock()

	if m.ListAccountsFn != nil {
		return m.ListAccountsFn(ctx)
	}
	return []model.Account{}, nil
}

// GetBalance implements service.PaymentAPI.
func (m *MockClient) GetBalance(ctx context.Context, alias string) (float64, error) {
	m.mu.Lock()
	m.GetBalanceCalls++
	m.mu.Unlock()

	if m.GetBalanceFn != nil {
		return m.GetBalanceFn(ctx, alias)
	}
	return 0, nil
}

// SubmitPayment implements service.PaymentAPI.
func (m *MockClient) SubmitPayment(ctx context.Context, req service.SubmitRequest) (string, error) {
	m.mu.Lock()
	m.SubmitCalls = append(m.SubmitCalls, req)
	n := len(m.SubmitCalls)
	m.mu.Unlock()

	if m.SubmitPaymentFn != nil {
		return m.SubmitPaymentFn(ctx, req)
	}
	return fmt.Sprintf("mock-%d", n), nil
}

// AddNote implements service.PaymentAPI.
func (m *MockClient) AddNote(ctx context.Context, accountID, paymentID, note string, draft bool) (bool, error) {
	m.mu.Lock()
	m.NoteCalls = append(m.NoteCalls, NoteCall{AccountID: accountID, PaymentID: paymentID, Note: note, Draft: draft})
	m.mu.Unlock()

	if m.AddNoteFn != nil {
		return m.AddNoteFn(ctx, accountID, paymentID, note, draft)
	}
	return true, nil
}

// SubmitCount returns the number of SubmitPayment calls so far.
func (m *MockClient) SubmitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SubmitCalls)
}

// Ensure MockClient implements service.PaymentAPI.
var _ service.PaymentAPI = (*MockClient)(nil)
