// Package main provides the stackform server.
//
// This is the main entrypoint for the stackform-server binary which serves
// the topology and upgrade HTTP API over a SQLite store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yaroslav/stackform/cmd/stackform-server/cmd"
	"github.com/yaroslav/stackform/internal/api"
	"github.com/yaroslav/stackform/internal/logging"
	"github.com/yaroslav/stackform/internal/metrics"
	"github.com/yaroslav/stackform/internal/ratelimit"
	"github.com/yaroslav/stackform/internal/store"
)

// Version is set at build time.
var Version = "dev"

// Config holds server configuration from flags and environment variables.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080").
	ListenAddr string

	// DatabasePath is the path to the SQLite database file.
	DatabasePath string

	// InstanceID is this server instance's UUID.
	InstanceID string

	// LogLevel is the logging level (debug, info, warn, error).
	LogLevel string

	// LogFormat is the log format (json, console).
	LogFormat string

	// GlobalRPS and GlobalBurst bound the request rate per client IP.
	GlobalRPS   float64
	GlobalBurst int

	// RateLimit holds the per-operation budgets.
	RateLimit ratelimit.Config

	// ShutdownTimeout bounds how long in-flight requests may drain.
	ShutdownTimeout time.Duration
}

// parseFlags parses command-line flags and environment variables.
func parseFlags(args []string) (*Config, error) {
	config := &Config{RateLimit: ratelimit.DefaultConfig()}
	fs := flag.NewFlagSet("stackform-server", flag.ContinueOnError)

	fs.StringVar(&config.ListenAddr, "listen", getEnv("STACKFORM_LISTEN_ADDR", ":8080"),
		"Address to listen on")
	fs.StringVar(&config.DatabasePath, "db", getEnv("STACKFORM_DB_PATH", "./stackform.db"),
		"Path to SQLite database file")
	fs.StringVar(&config.InstanceID, "instance-id", getEnv("STACKFORM_INSTANCE_ID", ""),
		"Server instance UUID (auto-generated if not provided)")
	fs.StringVar(&config.LogLevel, "log-level", getEnv("STACKFORM_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	fs.StringVar(&config.LogFormat, "log-format", getEnv("STACKFORM_LOG_FORMAT", "console"),
		"Log format (json, console)")
	fs.Float64Var(&config.GlobalRPS, "rps", getEnvFloat("STACKFORM_RPS", 100),
		"Requests per second allowed per client IP")
	fs.IntVar(&config.GlobalBurst, "burst", getEnvInt("STACKFORM_BURST", 200),
		"Request burst allowed per client IP")
	fs.IntVar(&config.RateLimit.RequestsPerMin, "mutations-per-min",
		getEnvInt("STACKFORM_MUTATIONS_PER_MIN", config.RateLimit.RequestsPerMin),
		"Mutating requests allowed per minute per client IP")
	fs.IntVar(&config.RateLimit.BundleUploadsPerMin, "uploads-per-min",
		getEnvInt("STACKFORM_UPLOADS_PER_MIN", config.RateLimit.BundleUploadsPerMin),
		"Bundle uploads allowed per minute per client IP")
	fs.IntVar(&config.RateLimit.UpgradesPerMin, "upgrades-per-min",
		getEnvInt("STACKFORM_UPGRADES_PER_MIN", config.RateLimit.UpgradesPerMin),
		"Upgrade runs allowed per minute per object")
	fs.DurationVar(&config.ShutdownTimeout, "shutdown-timeout", 15*time.Second,
		"Time allowed for in-flight requests on shutdown")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config, nil
}

// getEnv retrieves an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultValue
}

// validateConfig validates the server configuration.
func validateConfig(config *Config) error {
	if config.InstanceID == "" {
		config.InstanceID = uuid.New().String()
	}
	if _, err := uuid.Parse(config.InstanceID); err != nil {
		return fmt.Errorf("invalid instance ID format: %w", err)
	}
	if _, err := logging.ParseFormat(config.LogFormat); err != nil {
		return err
	}
	if config.RateLimit.RequestsPerMin <= 0 || config.RateLimit.BundleUploadsPerMin <= 0 || config.RateLimit.UpgradesPerMin <= 0 {
		return errors.New("rate limit budgets must be positive")
	}
	return nil
}

func run(config *Config) error {
	format, err := logging.ParseFormat(config.LogFormat)
	if err != nil {
		return err
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = config.LogLevel
	logCfg.Format = format
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting stackform-server",
		zap.String("version", Version),
		zap.String("instance_id", config.InstanceID),
		zap.String("listen_addr", config.ListenAddr),
		zap.String("log_level", config.LogLevel),
	)

	metrics.MustInit()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, config.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	router, stopRouter := api.SetupRouter(&api.RouterConfig{
		Store:       st,
		Logger:      logger,
		InstanceID:  config.InstanceID,
		RateLimit:   config.RateLimit,
		GlobalRPS:   config.GlobalRPS,
		GlobalBurst: config.GlobalBurst,
	})
	defer stopRouter()

	srv := &http.Server{
		Addr:              config.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", config.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", config.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "util" {
		if err := cmd.ExecuteUtil(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	config, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if err := validateConfig(config); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if err := run(config); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
