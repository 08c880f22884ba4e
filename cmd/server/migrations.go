package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/phrazzld/docsage-api/internal/config"
	"github.com/phrazzld/docsage-api/internal/platform/postgres"
)

// handleMigrations runs one goose command against the configured database.
func handleMigrations(cfg *config.Config, command string, logger *slog.Logger) error {
	if cfg.Database.URL == "" {
		return errors.New("migrations require database.url to be set")
	}

	db, err := setupAppDatabase(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Error closing database connection", "error", err)
		}
	}()

	logger.Info("Executing migrations", "command", command)
	return postgres.Migrate(db, command, logger)
}
