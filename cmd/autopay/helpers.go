package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Veraticus/autopay/internal/actions"
	"github.com/Veraticus/autopay/internal/bank"
	"github.com/Veraticus/autopay/internal/config"
	"github.com/Veraticus/autopay/internal/dispatch"
	"github.com/Veraticus/autopay/internal/events"
	"github.com/Veraticus/autopay/internal/lock"
	"github.com/Veraticus/autopay/internal/model"
	"github.com/Veraticus/autopay/internal/notify"
	"github.com/Veraticus/autopay/internal/payment"
	"github.com/Veraticus/autopay/internal/plaid"
	"github.com/Veraticus/autopay/internal/rules"
	"github.com/Veraticus/autopay/internal/scheduler"
	"github.com/Veraticus/autopay/internal/service"
	"github.com/Veraticus/autopay/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// mockBalance is the balance reported by the mock provider's main account.
const mockBalance = 10000

// initStorage opens the database at path and runs migrations.
func initStorage(ctx context.Context, path string) (*storage.SQLiteStorage, error) {
	if path == "" {
		path = viper.GetString("database.path")
	}

	// Expand tilde and environment variables
	path = config.ExpandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// usePreviewDatabase points cfg at a throwaway copy of the database and turns
// off payments, redis claims and notification delivery, so a dry run leaves
// jobs, payment hashes and processed messages of the real database alone.
// The returned func removes the copy.
func usePreviewDatabase(ctx context.Context, cfg *config.Config) (func(), error) {
	store, err := initStorage(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	dir, err := os.MkdirTemp("", "autopay-preview-")
	if err != nil {
		return nil, fmt.Errorf("failed to create preview directory: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("Failed to remove preview database", "dir", dir, "error", err)
		}
	}

	dest := filepath.Join(dir, "autopay.db")
	if err := store.Snapshot(ctx, dest); err != nil {
		cleanup()
		return nil, err
	}

	cfg.Database.Path = dest
	cfg.Payments.Disabled = true
	cfg.Redis.URL = ""
	cfg.Notify = config.NotifyConfig{}

	slog.Info("Dry run uses a copy of the database", "path", dest)
	return cleanup, nil
}

// app holds the wired services of one command invocation.
type app struct {
	cfg        *config.Config
	store      *storage.SQLiteStorage
	api        service.PaymentAPI
	bus        *events.Bus
	redis      *redis.Client
	gateway    *payment.Gateway
	registry   *actions.Registry
	matcher    *rules.Matcher
	notifier   *notify.Service
	scheduler  *scheduler.Scheduler
	dispatcher *dispatch.Dispatcher
}

// newApp builds every service from cfg. Callers must call close.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, bus: events.NewBus()}

	store, err := initStorage(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.store = store

	a.api, err = newPaymentAPI(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	gatewayOpts := []payment.Option{payment.WithPublisher(a.bus)}
	if cfg.Redis.URL != "" {
		a.redis, err = lock.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		gatewayOpts = append(gatewayOpts, payment.WithClaimer(lock.NewRedisClaimer(a.redis, cfg.Redis.ClaimTTL)))
	}
	a.gateway = payment.NewGateway(a.api, a.store, cfg.PaymentConfig(), gatewayOpts...)

	a.registry = actions.NewRegistry(actions.Deps{Balances: a.api})
	a.matcher = rules.NewMatcher(cfg.Rules, a.registry, rules.WithMinSecurityScore(cfg.Security.MinScore))

	a.notifier, err = newNotifier(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	a.scheduler = scheduler.New(a.store, a.gateway, a.notifier, cfg.SchedulerConfig(), scheduler.WithPublisher(a.bus))
	a.dispatcher = dispatch.New(a.store, a.matcher, a.registry, a.gateway, a.scheduler, a.bus)

	return a, nil
}

func (a *app) close() {
	a.bus.Close()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Error("failed to close redis", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Error("failed to close storage", "error", err)
		}
	}
}

func newPaymentAPI(ctx context.Context, cfg *config.Config) (service.PaymentAPI, error) {
	switch cfg.Bank.Provider {
	case config.ProviderPlaid:
		client, err := plaid.NewClient(*cfg.PlaidConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create plaid client: %w", err)
		}
		return client, nil
	case config.ProviderMock:
		return newMockAPI(cfg.Payments.MainAccount), nil
	default:
		client, err := bank.NewClient(ctx, cfg.RESTConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create bank client: %w", err)
		}
		return client, nil
	}
}

// newMockAPI returns an in-memory bank with a single funded account that
// answers to the configured main account alias.
func newMockAPI(mainAccount string) *bank.MockClient {
	mock := bank.NewMockClient()
	account := model.Account{ID: "1", Description: "Mock checking", Balance: mockBalance}
	if mainAccount != "" {
		account.Aliases = []model.Alias{{Type: model.ClassifyAlias(mainAccount), Value: mainAccount}}
	}
	mock.ListAccountsFn = func(context.Context) ([]model.Account, error) {
		return []model.Account{account}, nil
	}
	mock.GetBalanceFn = func(context.Context, string) (float64, error) {
		return mockBalance, nil
	}
	return mock
}

func newNotifier(ctx context.Context, cfg *config.Config) (*notify.Service, error) {
	var email, push notify.Sender

	if cfg.Notify.Email.To != "" {
		sender, err := notify.NewGmailSender(ctx, cfg.GmailConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create email sender: %w", err)
		}
		email = sender
	}

	if len(cfg.Notify.Push.Tokens) > 0 {
		sender, err := notify.NewFCMSender(ctx, cfg.Notify.Push.CredentialsFile, cfg.Notify.Push.Tokens)
		if err != nil {
			return nil, fmt.Errorf("failed to create push sender: %w", err)
		}
		push = sender
	}

	return notify.NewService(email, push), nil
}
