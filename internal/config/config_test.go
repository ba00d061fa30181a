package config

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"CARFOND_DB_PATH", "CARFOND_INTEREST_PERMILLE", "CARFOND_MAX_EXCHANGE_RATE", "CARFOND_SNAPSHOT_DIR", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.DBPath != "./data/carfond.db" {
		t.Errorf("DBPath = %q, want the default", cfg.DBPath)
	}
	if !cfg.InterestPermille.Equal(decimal.NewFromInt(4)) {
		t.Errorf("InterestPermille = %s, want 4", cfg.InterestPermille)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CARFOND_DB_PATH", "/tmp/fund.db")
	t.Setenv("CARFOND_INTEREST_PERMILLE", "5")
	t.Setenv("CARFOND_MAX_EXCHANGE_RATE", "8")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()
	if cfg.DBPath != "/tmp/fund.db" {
		t.Errorf("DBPath = %q, want /tmp/fund.db", cfg.DBPath)
	}
	if !cfg.InterestRate().Equal(decimal.RequireFromString("0.005")) {
		t.Errorf("InterestRate() = %s, want 0.005", cfg.InterestRate())
	}
	if !cfg.MaxExchangeRate.Equal(decimal.NewFromInt(8)) {
		t.Errorf("MaxExchangeRate = %s, want 8", cfg.MaxExchangeRate)
	}
}

func TestLoadIgnoresMalformedDecimal(t *testing.T) {
	t.Setenv("CARFOND_INTEREST_PERMILLE", "four")
	cfg := Load()
	if !cfg.InterestPermille.Equal(decimal.NewFromInt(4)) {
		t.Errorf("InterestPermille = %s, want the fallback 4", cfg.InterestPermille)
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := &Config{
		DBPath:           "  ",
		InterestPermille: decimal.NewFromInt(-1),
		MaxExchangeRate:  decimal.Zero,
		LogLevel:         "verbose",
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, fragment := range []string{"database path", "interest rate", "max exchange rate", "log level"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("validation error lacks %q: %v", fragment, err)
		}
	}
}
