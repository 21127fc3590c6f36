package main

import (
	"fmt"
	"log/slog"

	"github.com/Veraticus/autopay/internal/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

Every command migrates on startup; run this to prepare a fresh database or
to check the schema after an upgrade.`,
		RunE: runMigrate,
	}

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	dbPath := viper.GetString("database.path")

	slog.Info("🗄️  Running database migrations...", "database", dbPath)

	store, err := initStorage(cmd.Context(), dbPath)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer func() { _ = store.Close() }()

	slog.Info("✅ Database migrations completed successfully!",
		"path", store.Path(),
		"schema_version", storage.ExpectedSchemaVersion)

	return nil
}
