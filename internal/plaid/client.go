// Package plaid implements the payment API on top of Plaid payment initiation.
package plaid

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/autopay/internal/common"
	"github.com/Veraticus/autopay/internal/model"
	"github.com/Veraticus/autopay/internal/service"
	"github.com/plaid/plaid-go/v20/plaid"
)

// AliasName marks an account alias taken from the institution's account name.
const AliasName model.AliasType = "NAME"

// maxReferenceLength is the longest payment reference Plaid accepts.
const maxReferenceLength = 18

// Config holds Plaid API configuration.
type Config struct {
	ClientID    string
	Secret      string
	Environment string // sandbox or production
	AccessToken string
	// BaseURL overrides the environment host.
	BaseURL string
}

// Validate ensures all required fields are present.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("%w: plaid client ID is required", common.ErrMissingConfig)
	}
	if c.Secret == "" {
		return fmt.Errorf("%w: plaid secret is required", common.ErrMissingConfig)
	}
	if c.AccessToken == "" {
		return fmt.Errorf("%w: plaid access token is required", common.ErrMissingConfig)
	}
	if c.Environment == "" && c.BaseURL == "" {
		return fmt.Errorf("%w: plaid environment is required", common.ErrMissingConfig)
	}
	if c.BaseURL == "" && c.Environment != "sandbox" && c.Environment != "production" {
		return fmt.Errorf("%w: invalid Plaid environment: must be sandbox or production", common.ErrInvalidConfig)
	}
	return nil
}

// Client implements service.PaymentAPI.
type Client struct {
	client      *plaid.APIClient
	logger      *slog.Logger
	recipients  map[string]string // IBAN -> recipient id
	retryOpts   common.RetryOptions
	accessToken string
	mu          sync.Mutex
}

// NewClient creates a new Plaid client with the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)

	switch {
	case cfg.BaseURL != "":
		configuration.UseEnvironment(plaid.Environment(strings.TrimRight(cfg.BaseURL, "/")))
	case cfg.Environment == "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case cfg.Environment == "production":
		configuration.UseEnvironment(plaid.Production)
	}

	return &Client{
		client:      plaid.NewAPIClient(configuration),
		accessToken: cfg.AccessToken,
		recipients:  make(map[string]string),
		logger:      slog.Default().With("component", "plaid"),
		retryOpts: common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}, nil
}

// IsAuthenticated reports whether the item behind the access token is usable.
func (c *Client) IsAuthenticated(ctx context.Context) (bool, error) {
	request := plaid.NewItemGetRequest(c.accessToken)
	_, _, err := c.client.PlaidApi.ItemGet(ctx).ItemGetRequest(*request).Execute()
	if err == nil {
		return true, nil
	}
	if plaidError := extractPlaidError(err); plaidError != nil {
		switch plaidError.ErrorCode {
		case "ITEM_LOGIN_REQUIRED", "INVALID_ACCESS_TOKEN", "INVALID_API_KEYS":
			c.logger.Warn("Plaid item needs attention", "code", plaidError.ErrorCode)
			return false, nil
		}
	}
	return false, c.wrapError("check item", err)
}

// ListAccounts returns the linked accounts, with their names as aliases.
func (c *Client) ListAccounts(ctx context.Context) ([]model.Account, error) {
	var accounts []plaid.AccountBase
	retryErr := common.WithRetry(ctx, func() error {
		request := plaid.NewAccountsGetRequest(c.accessToken)
		resp, _, err := c.client.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*request).Execute()
		if err != nil {
			return c.wrapError("fetch accounts", err)
		}
		accounts = resp.GetAccounts()
		return nil
	}, c.retryOpts)
	if retryErr != nil {
		return nil, retryErr
	}

	c.logger.Debug("Fetched accounts", "count", len(accounts))

	out := make([]model.Account, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, mapAccount(account))
	}
	return out, nil
}

// GetBalance returns the available balance of the account matching alias,
// falling back to the current balance when the institution reports none.
func (c *Client) GetBalance(ctx context.Context, alias string) (float64, error) {
	var accounts []plaid.AccountBase
	retryErr := common.WithRetry(ctx, func() error {
		request := plaid.NewAccountsBalanceGetRequest(c.accessToken)
		resp, _, err := c.client.PlaidApi.AccountsBalanceGet(ctx).AccountsBalanceGetRequest(*request).Execute()
		if err != nil {
			return c.wrapError("fetch balances", err)
		}
		accounts = resp.GetAccounts()
		return nil
	}, c.retryOpts)
	if retryErr != nil {
		return 0, retryErr
	}

	for _, account := range accounts {
		mapped := mapAccount(account)
		if mapped.HasAlias(alias) {
			return mapped.Balance, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", common.ErrUnknownAccount, alias)
}

// SubmitPayment creates a payment initiation to an IBAN counterparty. Plaid
// pays from the account the user authorizes, so req.AccountID is only logged.
func (c *Client) SubmitPayment(ctx context.Context, req service.SubmitRequest) (string, error) {
	if req.Draft {
		return "", fmt.Errorf("%w: draft payments", common.ErrUnsupportedOperation)
	}
	if req.Counterparty.Type != model.AliasIBAN {
		return "", fmt.Errorf("%w: %s", common.ErrUnsupportedAlias, req.Counterparty.Type)
	}

	currency := plaid.PaymentAmountCurrency(strings.ToUpper(req.Currency))
	if !currency.IsValid() {
		return "", fmt.Errorf("%w: currency %s", common.ErrUnsupportedOperation, req.Currency)
	}

	recipientID, err := c.recipient(ctx, req.Counterparty)
	if err != nil {
		return "", err
	}

	amount := plaid.NewPaymentAmount(currency, req.Amount)
	request := plaid.NewPaymentInitiationPaymentCreateRequest(recipientID, SanitizeReference(req.Reference), *amount)

	resp, _, err := c.client.PlaidApi.PaymentInitiationPaymentCreate(ctx).PaymentInitiationPaymentCreateRequest(*request).Execute()
	if err != nil {
		return "", c.wrapError("create payment", err)
	}

	c.logger.Info("Payment initiated",
		"payment_id", resp.GetPaymentId(),
		"status", resp.GetStatus(),
		"account", req.AccountID)
	return resp.GetPaymentId(), nil
}

// AddNote is not supported by Plaid; it always reports false.
func (c *Client) AddNote(_ context.Context, _, paymentID, _ string, _ bool) (bool, error) {
	c.logger.Debug("Plaid payments carry no notes", "payment_id", paymentID)
	return false, nil
}

func (c *Client) recipient(ctx context.Context, cp model.Counterparty) (string, error) {
	iban := strings.ToUpper(strings.ReplaceAll(cp.Value, " ", ""))

	c.mu.Lock()
	id, ok := c.recipients[iban]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	name := cp.Name
	if name == "" {
		name = iban
	}
	request := plaid.NewPaymentInitiationRecipientCreateRequest(name)
	request.SetIban(iban)

	resp, _, err := c.client.PlaidApi.PaymentInitiationRecipientCreate(ctx).PaymentInitiationRecipientCreateRequest(*request).Execute()
	if err != nil {
		return "", c.wrapError("create recipient", err)
	}

	id = resp.GetRecipientId()
	c.mu.Lock()
	c.recipients[iban] = id
	c.mu.Unlock()
	return id, nil
}

// wrapError turns Plaid errors into ours; rate limits become retryable.
func (c *Client) wrapError(op string, err error) error {
	if plaidError := extractPlaidError(err); plaidError != nil {
		if plaidError.ErrorCode == "RATE_LIMIT_EXCEEDED" {
			c.logger.Warn("Rate limit hit, will retry", "error", plaidError.ErrorMessage)
			return &common.RetryableError{Err: fmt.Errorf("%w: %s", common.ErrRateLimit, op), Retryable: true}
		}
		return fmt.Errorf("plaid API error: %s - %s", plaidError.ErrorCode, plaidError.ErrorMessage)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func mapAccount(account plaid.AccountBase) model.Account {
	balances := account.GetBalances()
	balance := balances.GetCurrent()
	if available, ok := balances.GetAvailableOk(); ok && available != nil {
		balance = *available
	}

	out := model.Account{
		ID:          account.GetAccountId(),
		Description: account.GetName(),
		Balance:     balance,
	}
	if name := account.GetName(); name != "" {
		out.Aliases = append(out.Aliases, model.Alias{Type: AliasName, Value: name})
	}
	if official := account.GetOfficialName(); official != "" && official != account.GetName() {
		out.Aliases = append(out.Aliases, model.Alias{Type: AliasName, Value: official})
	}
	return out
}

// SanitizeReference keeps the characters Plaid allows in a reference and
// truncates it to the maximum length.
func SanitizeReference(ref string) string {
	var b strings.Builder
	for _, r := range ref {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		case r == '-' || r == '.' || r == '_':
			b.WriteRune(' ')
		}
		if b.Len() >= maxReferenceLength {
			break
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "autopay"
	}
	return out
}

// extractPlaidError attempts to extract a Plaid error from a generic error.
func extractPlaidError(err error) *plaid.PlaidError {
	plaidErr, convErr := plaid.ToPlaidError(err)
	if convErr != nil {
		return nil
	}
	return &plaidErr
}

var _ service.PaymentAPI = (*Client)(nil)
