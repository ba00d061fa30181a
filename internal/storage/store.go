// Package storage persists the fund's relational snapshot in SQLite.
//
// One database file holds every logical table. The redenomination mirror
// lives in the same file under tables suffixed with the currency tag
// (ledger_eur, members_eur, ...), so a currency selects a whole table set.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"carfond/internal/core"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the snapshot database at path and
// applies pending migrations. Use ":memory:" for a scratch store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection keeps the in-memory database alive and matches
	// the single-writer model of the fund snapshot.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Queries returns a query set bound to the store's own connection.
// Bulk operations instead bind one to their transaction via New.
func (s *Store) Queries() *Queries {
	return New(s.db)
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// BeginTx starts a transaction. Bulk operations (advance, redenomination,
// benefit transfer) run inside one so a mid-loop failure leaves no partial
// writes behind.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// tableFor resolves a base table name for a currency set.
func tableFor(base string, cur core.Currency) string {
	if cur == core.EUR {
		return base + "_eur"
	}
	return base
}

// HasMirror reports whether any EUR mirror table exists. Its presence
// marks the one-time redenomination as applied and blocks re-entry.
func (s *Store) HasMirror(ctx context.Context) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('ledger_eur','members_eur','benefits_eur','liquidated_eur')`)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("check mirror tables: %w", err)
	}
	return n > 0, nil
}

// TableExists reports whether the named table is present.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}

// NextReceiptNumber returns the current receipt counter and advances it.
func (s *Store) NextReceiptNumber(ctx context.Context) (int64, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT next_number FROM receipts WHERE id=1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("read receipt counter: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE receipts SET next_number=? WHERE id=1`, n+1); err != nil {
		return 0, fmt.Errorf("advance receipt counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit receipt counter: %w", err)
	}
	return n, nil
}

// validIdent guards identifiers interpolated into DDL (snapshot and clone
// statements cannot use placeholders for table names).
func validIdent(name string) error {
	for _, r := range name {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return fmt.Errorf("invalid identifier %q", name)
		}
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("empty identifier")
	}
	return nil
}
