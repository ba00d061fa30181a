package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// snapshotTables is the canonical table set; mirror twins are exported
// too when the redenomination has been applied.
var snapshotTables = []string{"members", "ledger", "liquidated", "benefits", "receipts"}

// ExportSnapshot writes each logical table into its own SQLite file under
// dir (members.db, ledger.db, ...), one file per table like the paper-era
// books kept one binder per register. Tables are exported concurrently;
// reads from the store serialize on its single connection, the file
// writes do not.
func (s *Store) ExportSnapshot(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tables, err := s.presentTables(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, table := range tables {
		g.Go(func() error {
			return s.exportTable(ctx, table, filepath.Join(dir, table+".db"))
		})
	}
	return g.Wait()
}

// ImportSnapshot replaces the content of every table for which a snapshot
// file exists under dir. Missing files leave their tables untouched;
// mirror files recreate their _eur tables.
func (s *Store) ImportSnapshot(ctx context.Context, dir string) error {
	candidates := make([]string, 0, 2*len(snapshotTables))
	candidates = append(candidates, snapshotTables...)
	for _, t := range snapshotTables {
		candidates = append(candidates, t+"_eur")
	}

	for _, table := range candidates {
		path := filepath.Join(dir, table+".db")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := s.importTable(ctx, table, path); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) presentTables(ctx context.Context) ([]string, error) {
	var out []string
	for _, t := range snapshotTables {
		out = append(out, t)
		mirror := t + "_eur"
		ok, err := s.TableExists(ctx, mirror)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, mirror)
		}
	}
	return out, nil
}

func (s *Store) tableSchema(ctx context.Context, table string) (string, error) {
	var ddl string
	err := s.db.QueryRowContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&ddl)
	if err != nil {
		return "", fmt.Errorf("schema of %s: %w", table, err)
	}
	return ddl, nil
}

func (s *Store) exportTable(ctx context.Context, table, path string) error {
	ddl, err := s.tableSchema(ctx, table)
	if err != nil {
		return err
	}

	// Export is a full rewrite of the target file.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	dst, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer dst.Close()

	if _, err := dst.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create snapshot table %s: %w", table, err)
	}

	rows, cols, err := s.readAll(ctx, table)
	if err != nil {
		return err
	}

	tx, err := dst.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	ins := insertStmt(table, cols)
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, ins, row...); err != nil {
			return fmt.Errorf("write snapshot row of %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot %s: %w", table, err)
	}
	return nil
}

func (s *Store) importTable(ctx context.Context, table, path string) error {
	src, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer src.Close()

	var ddl string
	if err := src.QueryRowContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&ddl); err != nil {
		return fmt.Errorf("snapshot %s lacks table %s: %w", path, table, err)
	}

	rows, cols, err := readAllFrom(ctx, src, table)
	if err != nil {
		return err
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Existence must be checked through the transaction; the store holds
	// a single connection and it is owned by tx until commit.
	var present int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&present); err != nil {
		return fmt.Errorf("check table %s: %w", table, err)
	}
	if present == 0 {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("recreate table %s: %w", table, err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear table %s: %w", table, err)
		}
	}

	ins := insertStmt(table, cols)
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, ins, row...); err != nil {
			return fmt.Errorf("import row into %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import of %s: %w", table, err)
	}
	return nil
}

func (s *Store) readAll(ctx context.Context, table string) ([][]any, []string, error) {
	return readAllFrom(ctx, s.db, table)
}

func readAllFrom(ctx context.Context, db *sql.DB, table string) ([][]any, []string, error) {
	if err := validIdent(table); err != nil {
		return nil, nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT * FROM `+table)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("columns of %s: %w", table, err)
	}

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, vals)
	}
	return out, cols, rows.Err()
}

func insertStmt(table string, cols []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, table, strings.Join(cols, ", "), placeholders)
}
