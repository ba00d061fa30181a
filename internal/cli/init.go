// Package cli consolidates the initialization shared by the carfond
// binary's subcommands: logging, .env loading, store setup and
// signal-driven cancellation.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"carfond/internal/log"
	"carfond/internal/storage"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger initializes structured logging at the configured level and
// sets it as the process default.
func SetupLogger(level string) *log.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return log.New(l)
}

// InitStore opens the snapshot database, exiting the process on failure.
func InitStore(logger *log.Logger, dbPath string) *storage.Store {
	store, err := storage.Open(dbPath)
	if err != nil {
		logger.Error("failed to open snapshot database", "error", err, "path", dbPath)
		os.Exit(1)
	}
	return store
}

// SignalContext returns a context cancelled on SIGINT/SIGTERM. Bulk loops
// check it between iterations; rows already committed stay committed,
// uncommitted transactions roll back.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
