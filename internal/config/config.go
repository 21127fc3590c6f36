// Package config loads the autopay configuration from file, environment and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/Veraticus/autopay/internal/bank"
	"github.com/Veraticus/autopay/internal/common"
	"github.com/Veraticus/autopay/internal/mail"
	"github.com/Veraticus/autopay/internal/model"
	"github.com/Veraticus/autopay/internal/notify"
	"github.com/Veraticus/autopay/internal/payment"
	"github.com/Veraticus/autopay/internal/plaid"
	"github.com/Veraticus/autopay/internal/scheduler"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. AUTOPAY_PAYMENTS_DRAFT.
const EnvPrefix = "AUTOPAY"

// Bank providers.
const (
	ProviderREST  = "rest"
	ProviderPlaid = "plaid"
	ProviderMock  = "mock"
)

// Config is the full application configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Bank      BankConfig      `mapstructure:"bank"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Mail      MailConfig      `mapstructure:"mail"`
	Rules     []model.Rule    `mapstructure:"rules"`
	Payments  PaymentsConfig  `mapstructure:"payments"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig selects the log level and handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RedisConfig enables the cross-process payment claim when URL is set.
type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	ClaimTTL time.Duration `mapstructure:"claim_ttl"`
}

// BankConfig selects and configures the payment API.
type BankConfig struct {
	Provider string          `mapstructure:"provider"`
	REST     RESTBankConfig  `mapstructure:"rest"`
	Plaid    PlaidBankConfig `mapstructure:"plaid"`
}

// RESTBankConfig configures the JSON bank API client.
type RESTBankConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	TokenURL     string        `mapstructure:"token_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	AccessToken  string        `mapstructure:"access_token"`
	Scopes       []string      `mapstructure:"scopes"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// PlaidBankConfig configures the Plaid payment initiation client.
type PlaidBankConfig struct {
	ClientID    string `mapstructure:"client_id"`
	Secret      string `mapstructure:"secret"`
	Environment string `mapstructure:"environment"`
	AccessToken string `mapstructure:"access_token"`
}

// PaymentsConfig is the global payment policy.
type PaymentsConfig struct {
	MinBalance  *float64      `mapstructure:"min_balance"`
	MainAccount string        `mapstructure:"main_account"`
	Currency    string        `mapstructure:"currency"`
	MaxAmount   float64       `mapstructure:"max_amount"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Draft       bool          `mapstructure:"draft"`
	Disabled    bool          `mapstructure:"disabled"`
}

// SchedulerConfig tunes the deferred job loop.
type SchedulerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	DelayThreshold time.Duration `mapstructure:"delay_threshold"`
	IgnoreDelayed  bool          `mapstructure:"ignore_delayed"`
}

// SecurityConfig tunes header authentication checks.
type SecurityConfig struct {
	MinScore int `mapstructure:"min_score"`
}

// MailConfig lists the polled mail accounts.
type MailConfig struct {
	Accounts     []MailAccount `mapstructure:"accounts"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Lookback     time.Duration `mapstructure:"lookback"`
}

// MailAccount is one IMAP mailbox.
type MailAccount struct {
	Name     string        `mapstructure:"name"`
	Host     string        `mapstructure:"host"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Mailbox  string        `mapstructure:"mailbox"`
	Port     int           `mapstructure:"port"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Insecure bool          `mapstructure:"insecure"`
}

// NotifyConfig configures the notification channels.
type NotifyConfig struct {
	Email EmailConfig `mapstructure:"email"`
	Push  PushConfig  `mapstructure:"push"`
	// Failures emails failed payments and jobs.
	Failures bool `mapstructure:"failures"`
}

// EmailConfig configures Gmail delivery. Email is disabled without To.
type EmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	From         string `mapstructure:"from"`
	To           string `mapstructure:"to"`
}

// PushConfig configures FCM delivery. Push is disabled without tokens.
type PushConfig struct {
	CredentialsFile string   `mapstructure:"credentials_file"`
	Tokens          []string `mapstructure:"tokens"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "~/.local/share/autopay/autopay.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("bank.provider", ProviderREST)
	v.SetDefault("bank.plaid.environment", "sandbox")
	v.SetDefault("payments.currency", model.DefaultCurrency)
	v.SetDefault("payments.timeout", "30s")
	v.SetDefault("payments.draft", false)
	v.SetDefault("payments.disabled", false)
	v.SetDefault("scheduler.interval", scheduler.DefaultInterval.String())
	v.SetDefault("scheduler.delay_threshold", scheduler.DefaultDelayThreshold.String())
	v.SetDefault("mail.poll_interval", mail.DefaultPollInterval.String())
	v.SetDefault("mail.lookback", mail.DefaultLookback.String())
	v.SetDefault("redis.claim_ttl", "10m")

	// AutomaticEnv only reaches keys viper already knows about.
	for _, key := range []string{
		"bank.rest.client_secret",
		"bank.rest.access_token",
		"bank.plaid.client_id",
		"bank.plaid.secret",
		"bank.plaid.access_token",
		"notify.email.client_secret",
		"notify.email.refresh_token",
		"redis.url",
	} {
		v.SetDefault(key, "")
	}
}

// Setup wires the environment and config file search path into v.
func Setup(v *viper.Viper, cfgFile string) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "autopay"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are skipped and existing variables win.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		path = ExpandPath(path)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// ReadInConfig reads the config file, tolerating its absence.
func ReadInConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

// Load decodes v into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToListHookFunc(),
	)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}

	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	cfg.Notify.Push.CredentialsFile = ExpandPath(cfg.Notify.Push.CredentialsFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// stringToListHookFunc lets a single string stand in for a one-element list,
// so `from: billing@shop.com` means the same as `from: [billing@shop.com]`.
func stringToListHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}
		return []string{data.(string)}, nil
	}
}

// Validate checks settings that have no sensible default.
func (c *Config) Validate() error {
	switch c.Bank.Provider {
	case ProviderREST:
		if c.Bank.REST.BaseURL == "" {
			return fmt.Errorf("%w: bank.rest.base_url", common.ErrMissingConfig)
		}
	case ProviderPlaid:
		if err := c.PlaidConfig().Validate(); err != nil {
			return err
		}
	case ProviderMock:
	default:
		return fmt.Errorf("%w: unknown bank provider %q", common.ErrInvalidConfig, c.Bank.Provider)
	}

	if c.Payments.MaxAmount < 0 {
		return fmt.Errorf("%w: payments.max_amount must not be negative", common.ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Mail.Accounts))
	for i, acct := range c.Mail.Accounts {
		if err := acct.IMAPConfig().Validate(); err != nil {
			return fmt.Errorf("mail.accounts[%d]: %w", i, err)
		}
		if seen[acct.Name] {
			return fmt.Errorf("%w: duplicate mail account %q", common.ErrInvalidConfig, acct.Name)
		}
		seen[acct.Name] = true
	}

	for i, rule := range c.Rules {
		if rule.Action == "" {
			return fmt.Errorf("%w: rules[%d] has no action", common.ErrInvalidConfig, i)
		}
	}
	return nil
}

// RESTConfig returns the settings of the JSON bank client.
func (c *Config) RESTConfig() bank.Config {
	r := c.Bank.REST
	return bank.Config{
		BaseURL:      r.BaseURL,
		TokenURL:     r.TokenURL,
		ClientID:     r.ClientID,
		ClientSecret: r.ClientSecret,
		AccessToken:  r.AccessToken,
		Scopes:       r.Scopes,
		Timeout:      r.Timeout,
	}
}

// PlaidConfig returns the settings of the Plaid client.
func (c *Config) PlaidConfig() *plaid.Config {
	p := c.Bank.Plaid
	return &plaid.Config{
		ClientID:    p.ClientID,
		Secret:      p.Secret,
		Environment: p.Environment,
		AccessToken: p.AccessToken,
	}
}

// PaymentConfig returns the gateway policy.
func (c *Config) PaymentConfig() payment.Config {
	p := c.Payments
	return payment.Config{
		MinBalance:  p.MinBalance,
		MainAccount: p.MainAccount,
		Currency:    p.Currency,
		MaxAmount:   p.MaxAmount,
		Timeout:     p.Timeout,
		Draft:       p.Draft,
		Disabled:    p.Disabled,
	}
}

// SchedulerConfig returns the scheduler settings.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Interval:       c.Scheduler.Interval,
		DelayThreshold: c.Scheduler.DelayThreshold,
		IgnoreDelayed:  c.Scheduler.IgnoreDelayed,
	}
}

// PollerConfig returns the mail polling settings.
func (c *Config) PollerConfig() mail.PollerConfig {
	return mail.PollerConfig{
		Interval: c.Mail.PollInterval,
		Lookback: c.Mail.Lookback,
	}
}

// GmailConfig returns the email channel settings.
func (c *Config) GmailConfig() notify.GmailConfig {
	e := c.Notify.Email
	return notify.GmailConfig{
		ClientID:     e.ClientID,
		ClientSecret: e.ClientSecret,
		RefreshToken: e.RefreshToken,
		From:         e.From,
		To:           e.To,
	}
}

// IMAPConfig returns the connection settings of the account. Environment
// references in the password are expanded.
func (a MailAccount) IMAPConfig() mail.IMAPConfig {
	return mail.IMAPConfig{
		Name:     a.Name,
		Host:     a.Host,
		Username: a.Username,
		Password: os.ExpandEnv(a.Password),
		Mailbox:  a.Mailbox,
		Port:     a.Port,
		Timeout:  a.Timeout,
		Insecure: a.Insecure,
	}
}
