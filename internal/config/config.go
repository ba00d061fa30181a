package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Config holds everything the binaries read from the environment.
type Config struct {
	// Database
	DBPath string

	// Monetary rules
	InterestPermille decimal.Decimal // extinction interest rate, per mille
	MaxExchangeRate  decimal.Decimal // sanity bound for the redenomination rate

	// Snapshots
	SnapshotDir string

	// Logging
	LogLevel string
}

func Load() *Config {
	return &Config{
		DBPath:           getEnv("CARFOND_DB_PATH", "./data/carfond.db"),
		InterestPermille: getEnvDecimal("CARFOND_INTEREST_PERMILLE", "4"),
		MaxExchangeRate:  getEnvDecimal("CARFOND_MAX_EXCHANGE_RATE", "10"),
		SnapshotDir:      getEnv("CARFOND_SNAPSHOT_DIR", "./data/snapshots"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}
}

// InterestRate converts the per-mille figure to the multiplicative rate
// (4 per mille -> 0.004).
func (c *Config) InterestRate() decimal.Decimal {
	return c.InterestPermille.Div(decimal.NewFromInt(1000))
}

// Validate returns an error describing every invalid field at once.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, "database path must not be empty")
	}
	if c.InterestPermille.IsNegative() {
		errs = append(errs, fmt.Sprintf("interest rate %s per mille: must not be negative", c.InterestPermille))
	}
	if !c.MaxExchangeRate.IsPositive() {
		errs = append(errs, fmt.Sprintf("max exchange rate %s: must be positive", c.MaxExchangeRate))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level %q: must be debug, info, warn or error", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDecimal(key, fallback string) decimal.Decimal {
	raw := getEnv(key, fallback)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		d, _ = decimal.NewFromString(fallback)
	}
	return d
}

// getEnvInt is kept for numeric knobs that arrive as plain integers.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
