// Package bank provides a REST client for the payment API.
package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/autopay/internal/common"
	"github.com/Veraticus/autopay/internal/model"
	"github.com/Veraticus/autopay/internal/service"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Config holds the connection settings of the REST payment API.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	AccessToken  string
	Scopes       []string
	Timeout      time.Duration
}

// Client talks to the bank's JSON API.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	logger     *slog.Logger
}

// NewClient creates a client. With a token URL the client uses the OAuth2
// client-credentials flow; otherwise it sends the static access token.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: bank.rest.base_url", common.ErrMissingConfig)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("%w: bank.rest.base_url: %w", common.ErrInvalidConfig, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var httpClient *http.Client
	switch {
	case cfg.TokenURL != "":
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		httpClient = cc.Client(ctx)
	case cfg.AccessToken != "":
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.AccessToken,
			TokenType:   "Bearer",
		}))
	default:
		return nil, fmt.Errorf("%w: bank.rest.token_url or bank.rest.access_token", common.ErrMissingConfig)
	}
	httpClient.Timeout = timeout

	return &Client{
		httpClient: httpClient,
		baseURL:    base,
		logger:     slog.Default().With("component", "bank"),
	}, nil
}

type apiAmount struct {
	Value    json.Number `json:"value"`
	Currency string      `json:"currency,omitempty"`
}

type apiAlias struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

type apiAccount struct {
	ID          json.RawMessage `json:"id"`
	Description string          `json:"description"`
	Balance     apiAmount       `json:"balance"`
	Aliases     []apiAlias      `json:"aliases"`
}

type paymentRequest struct {
	Amount            apiAmount `json:"amount"`
	CounterpartyAlias apiAlias  `json:"counterparty_alias"`
	Description       string    `json:"description"`
	Reference         string    `json:"reference,omitempty"`
}

type noteRequest struct {
	Content string `json:"content"`
}

// IsAuthenticated reports whether the API accepts the client's credentials.
func (c *Client) IsAuthenticated(ctx context.Context) (bool, error) {
	status, _, err := c.do(ctx, http.MethodGet, "user", nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
			return false, nil
		}
		return false, err
	}
	return status == http.StatusOK, nil
}

// ListAccounts returns the accounts and their aliases.
func (c *Client) ListAccounts(ctx context.Context) ([]model.Account, error) {
	_, body, err := c.do(ctx, http.MethodGet, "accounts", nil)
	if err != nil {
		return nil, err
	}

	var raw []apiAccount
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode accounts: %w", err)
	}

	accounts := make([]model.Account, 0, len(raw))
	for _, a := range raw {
		id, err := NormalizeID(a.ID)
		if err != nil {
			return nil, fmt.Errorf("account id: %w", err)
		}
		balance, _ := a.Balance.Value.Float64()
		acct := model.Account{
			ID:          id,
			Description: a.Description,
			Balance:     balance,
		}
		for _, alias := range a.Aliases {
			acct.Aliases = append(acct.Aliases, model.Alias{Type: model.AliasType(alias.Type), Value: alias.Value})
		}
		accounts = append(accounts, acct)
	}

	c.logger.Debug("Fetched accounts", "count", len(accounts))
	return accounts, nil
}

// GetBalance returns the balance of the account owning alias.
func (c *Client) GetBalance(ctx context.Context, alias string) (float64, error) {
	_, body, err := c.do(ctx, http.MethodGet, "accounts/balance?alias="+url.QueryEscape(alias), nil)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Balance apiAmount `json:"balance"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("failed to decode balance: %w", err)
	}
	balance, err := resp.Balance.Value.Float64()
	if err != nil {
		return 0, fmt.Errorf("invalid balance %q: %w", resp.Balance.Value, err)
	}
	return balance, nil
}

// SubmitPayment creates a regular or draft payment and returns its id.
func (c *Client) SubmitPayment(ctx context.Context, req service.SubmitRequest) (string, error) {
	if req.AccountID == "" {
		return "", fmt.Errorf("%w: empty account id", common.ErrUnknownAccount)
	}

	payload := paymentRequest{
		Amount: apiAmount{
			Value:    json.Number(model.FormatAmount(req.Amount)),
			Currency: req.Currency,
		},
		CounterpartyAlias: apiAlias{
			Type:  string(req.Counterparty.Type),
			Value: req.Counterparty.Value,
			Name:  req.Counterparty.Name,
		},
		Description: req.Description,
		Reference:   req.Reference,
	}

	_, body, err := c.do(ctx, http.MethodPost, paymentPath(req.AccountID, req.Draft), payload)
	if err != nil {
		return "", err
	}

	id, err := NormalizeID(body)
	if err != nil {
		return "", fmt.Errorf("payment created but id unreadable: %w", err)
	}
	return id, nil
}

// AddNote attaches a free-text note to a payment.
func (c *Client) AddNote(ctx context.Context, accountID, paymentID, note string, draft bool) (bool, error) {
	path := paymentPath(accountID, draft) + "/" + url.PathEscape(paymentID) + "/notes"
	status, _, err := c.do(ctx, http.MethodPost, path, noteRequest{Content: note})
	if err != nil {
		return false, err
	}
	return status >= 200 && status < 300, nil
}

func paymentPath(accountID string, draft bool) string {
	kind := "payments"
	if draft {
		kind = "draft-payments"
	}
	return "accounts/" + url.PathEscape(accountID) + "/" + kind
}

// APIError is a non-2xx response from the bank.
type APIError struct {
	Body   string
	Status int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bank API error: %d - %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid path %s: %w", path, err)
	}
	target := c.baseURL.ResolveReference(ref)

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("Failed to close response body", "error", cerr)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, data, &common.RetryableError{Err: fmt.Errorf("%w: %s", common.ErrRateLimit, path), Retryable: true}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		return resp.StatusCode, data, &common.RetryableError{Err: apiErr, Retryable: resp.StatusCode >= 500}
	}
	return resp.StatusCode, data, nil
}

// NormalizeID reduces the id shapes the API returns to a scalar string:
// a bare string or number, {"id": ...} or {"Id": ...} objects nested to any
// depth, and arrays whose first element holds the id.
func NormalizeID(raw json.RawMessage) (string, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("decode id: %w", err)
	}
	id, ok := scalarID(v)
	if !ok || id == "" {
		return "", fmt.Errorf("no id in %s", strings.TrimSpace(string(raw)))
	}
	return id, nil
}

func scalarID(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case []any:
		if len(t) == 0 {
			return "", false
		}
		return scalarID(t[0])
	case map[string]any:
		for _, key := range []string{"id", "Id", "ID"} {
			if inner, ok := t[key]; ok {
				return scalarID(inner)
			}
		}
		for _, key := range []string{"Response", "response", "data"} {
			if inner, ok := t[key]; ok {
				return scalarID(inner)
			}
		}
	}
	return "", false
}

var _ service.PaymentAPI = (*Client)(nil)
