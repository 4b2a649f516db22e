// Package cmd provides maintenance commands for stackform-server.
package cmd

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/logging"
	"github.com/yaroslav/stackform/internal/store"
)

// OpenStore opens the SQLite store at path, applying the schema if needed.
func OpenStore(ctx context.Context, path string, logger *zap.Logger) (*store.Store, error) {
	st, err := store.Open(ctx, path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return st, nil
}

// newLogger builds the console logger used by maintenance commands.
func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := logging.DefaultConfig()
	cfg.OutputPaths = []string{"stderr"}
	if verbose {
		cfg.Level = "debug"
	}
	logger, err := logging.NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// ExecuteUtil runs a utility command with the given arguments.
func ExecuteUtil(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("util command requires a subcommand\n\nAvailable subcommands:\n  load-bundle     Load a bundle archive or definition file\n  verify-bundles  Re-validate stored bundle archives\n  compact-db      Compact and optimize database")
	}

	subcommand := args[0]
	subArgs := args[1:]

	switch subcommand {
	case "load-bundle":
		return ExecuteLoadBundle(subArgs)
	case "verify-bundles":
		return ExecuteVerifyBundles(subArgs)
	case "compact-db":
		return ExecuteCompactDB(subArgs)
	default:
		return fmt.Errorf("unknown util subcommand: %s", subcommand)
	}
}

// getEnv retrieves an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
