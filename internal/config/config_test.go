package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/autopay/internal/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
bank:
  provider: rest
  rest:
    base_url: https://bank.example.com/api
    token_url: https://bank.example.com/oauth/token
    client_id: autopay
payments:
  main_account: NL91ABNA0417164300
  max_amount: 500
  min_balance: 100
  draft: true
scheduler:
  interval: 1m
  ignore_delayed: true
mail:
  poll_interval: 30s
  accounts:
    - name: personal
      host: imap.example.com
      username: me@example.com
      password: ${AUTOPAY_TEST_IMAP_PASSWORD}
notify:
  failures: true
  push:
    tokens: device-token
rules:
  - action: generic
    from: billing@shop.com
    subject: [Invoice, Factuur]
    amount: 10
    to_alias: NL02RABO0123456789
  - action: deferred
    name: rent
    body: rent due
    days: 7
`

func loadFrom(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yaml)))
	return Load(v)
}

func TestLoad(t *testing.T) {
	t.Setenv("AUTOPAY_TEST_IMAP_PASSWORD", "hunter2")

	cfg, err := loadFrom(t, sampleConfig)
	require.NoError(t, err)

	assert.Equal(t, ProviderREST, cfg.Bank.Provider)
	assert.Equal(t, "https://bank.example.com/api", cfg.RESTConfig().BaseURL)

	pc := cfg.PaymentConfig()
	assert.Equal(t, "EUR", pc.Currency)
	assert.Equal(t, 500.0, pc.MaxAmount)
	require.NotNil(t, pc.MinBalance)
	assert.Equal(t, 100.0, *pc.MinBalance)
	assert.True(t, pc.Draft)
	assert.Equal(t, 30*time.Second, pc.Timeout)

	sc := cfg.SchedulerConfig()
	assert.Equal(t, time.Minute, sc.Interval)
	assert.Equal(t, 60*time.Minute, sc.DelayThreshold)
	assert.True(t, sc.IgnoreDelayed)

	assert.Equal(t, 30*time.Second, cfg.PollerConfig().Interval)
	assert.Equal(t, 24*time.Hour, cfg.PollerConfig().Lookback)

	require.Len(t, cfg.Mail.Accounts, 1)
	imap := cfg.Mail.Accounts[0].IMAPConfig()
	assert.Equal(t, "personal", imap.Name)
	assert.Equal(t, "hunter2", imap.Password)

	assert.True(t, cfg.Notify.Failures)
	assert.Equal(t, []string{"device-token"}, cfg.Notify.Push.Tokens)

	require.Len(t, cfg.Rules, 2)
	generic := cfg.Rules[0]
	assert.Equal(t, "generic", generic.Action)
	assert.Equal(t, []string{"billing@shop.com"}, generic.From)
	assert.Equal(t, []string{"Invoice", "Factuur"}, generic.Subject)
	assert.Nil(t, generic.Body)
	assert.EqualValues(t, 10, generic.Options["amount"])
	assert.Equal(t, "NL02RABO0123456789", generic.Options["to_alias"])

	rent := cfg.Rules[1]
	assert.Equal(t, "rent", rent.Name)
	assert.Equal(t, []string{"rent due"}, rent.Body)
	assert.EqualValues(t, 7, rent.Options["days"])
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("AUTOPAY_BANK_REST_CLIENT_SECRET", "s3cret")
	t.Setenv("AUTOPAY_PAYMENTS_DISABLED", "true")

	v := viper.New()
	Setup(v, filepath.Join(t.TempDir(), "missing.yaml"))
	v.Set("bank.rest.base_url", "https://bank.example.com")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Bank.REST.ClientSecret)
	assert.True(t, cfg.Payments.Disabled)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{
			name:    "rest without base url",
			yaml:    "bank: {provider: rest}",
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "unknown provider",
			yaml:    "bank: {provider: carrier-pigeon}",
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "plaid without credentials",
			yaml:    "bank: {provider: plaid}",
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "negative max amount",
			yaml:    "bank: {provider: mock}\npayments: {max_amount: -1}",
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "mail account without host",
			yaml:    "bank: {provider: mock}\nmail: {accounts: [{name: a, username: me}]}",
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "duplicate mail account",
			yaml:    "bank: {provider: mock}\nmail: {accounts: [{name: a, host: h, username: u}, {name: a, host: h, username: u}]}",
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "rule without action",
			yaml:    "bank: {provider: mock}\nrules: [{from: x@y.z}]",
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "bad duration",
			yaml:    "bank: {provider: mock}\nscheduler: {interval: soon}",
			wantErr: common.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadFrom(t, tt.yaml)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("AUTOPAY_TEST_DOTENV=from-file\nAUTOPAY_TEST_DOTENV_KEEP=from-file\n"), 0o600))

	t.Setenv("AUTOPAY_TEST_DOTENV_KEEP", "from-env")
	t.Setenv("AUTOPAY_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("AUTOPAY_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("AUTOPAY_TEST_DOTENV"))
	assert.Equal(t, "from-env", os.Getenv("AUTOPAY_TEST_DOTENV_KEEP"))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("AUTOPAY_TEST_DIR", "/srv/autopay")

	tests := []struct {
		input string
		want  string
	}{
		{input: "", want: ""},
		{input: "~", want: home},
		{input: "~/autopay.db", want: filepath.Join(home, "autopay.db")},
		{input: "$AUTOPAY_TEST_DIR/autopay.db", want: "/srv/autopay/autopay.db"},
		{input: "/abs/path", want: "/abs/path"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.input))
		})
	}
}
