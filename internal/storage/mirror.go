package storage

import (
	"context"
	"fmt"

	"carfond/internal/core"

	"github.com/shopspring/decimal"
)

// TableTotals summarizes one table's monetary content for the
// redenomination preview.
type TableTotals struct {
	Records         int
	DistinctMembers int
	MoneySum        decimal.Decimal
}

// LedgerTotals sums all seven monetary fields over the whole ledger.
func (q *Queries) LedgerTotals(ctx context.Context, cur core.Currency) (TableTotals, error) {
	stmt := fmt.Sprintf(`SELECT COUNT(*), COUNT(DISTINCT fisa),
		COALESCE(SUM(interest + loan_disbursed + loan_paid + loan_balance +
			deposit_debited + deposit_credited + deposit_balance), 0)
		FROM %s`, tableFor("ledger", cur))
	var t TableTotals
	var sum float64
	if err := q.db.QueryRowContext(ctx, stmt).Scan(&t.Records, &t.DistinctMembers, &sum); err != nil {
		return TableTotals{}, fmt.Errorf("ledger totals: %w", err)
	}
	t.MoneySum = dec(sum)
	return t, nil
}

// MemberTotals sums the standard contributions.
func (q *Queries) MemberTotals(ctx context.Context, cur core.Currency) (TableTotals, error) {
	stmt := fmt.Sprintf(`SELECT COUNT(*), COALESCE(SUM(standard_contribution), 0) FROM %s`, tableFor("members", cur))
	var t TableTotals
	var sum float64
	if err := q.db.QueryRowContext(ctx, stmt).Scan(&t.Records, &sum); err != nil {
		return TableTotals{}, fmt.Errorf("member totals: %w", err)
	}
	t.DistinctMembers = t.Records
	t.MoneySum = dec(sum)
	return t, nil
}

// BenefitTotals sums the monetary fields of the benefit set.
func (q *Queries) BenefitTotals(ctx context.Context, cur core.Currency) (TableTotals, error) {
	stmt := fmt.Sprintf(`SELECT COUNT(*),
		COALESCE(SUM(december_deposit_balance + annual_deposit_sum + allocated_benefit), 0)
		FROM %s`, tableFor("benefits", cur))
	var t TableTotals
	var sum float64
	if err := q.db.QueryRowContext(ctx, stmt).Scan(&t.Records, &sum); err != nil {
		return TableTotals{}, fmt.Errorf("benefit totals: %w", err)
	}
	t.DistinctMembers = t.Records
	t.MoneySum = dec(sum)
	return t, nil
}

// CloneToMirror copies a base table verbatim into its _eur twin.
// The original RON table is left untouched for audit.
func (q *Queries) CloneToMirror(ctx context.Context, base string) error {
	if err := validIdent(base); err != nil {
		return err
	}
	stmt := fmt.Sprintf(`CREATE TABLE %s_eur AS SELECT * FROM %s`, base, base)
	if _, err := q.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("clone %s: %w", base, err)
	}
	return nil
}

// MirrorStats carries the reconciliation figures of one converted table.
// RoundingDifference is the legitimate drift between the sum of
// independently rounded fields and the rounded aggregate sum; Regulation
// 1103/97 requires surfacing it, not correcting it.
type MirrorStats struct {
	Table              string
	Records            int
	SumRON             decimal.Decimal
	SumEUR             decimal.Decimal
	TheoreticalEUR     decimal.Decimal
	RoundingDifference decimal.Decimal
}

func (m *MirrorStats) finish(rate decimal.Decimal) {
	m.TheoreticalEUR = core.RoundHalfUp(m.SumRON.Div(rate))
	m.RoundingDifference = m.SumEUR.Sub(m.TheoreticalEUR)
}

type moneyRow struct {
	rowid  int64
	values []float64
}

// readMoneyRows materializes rowid plus the listed monetary columns.
// Rows are read fully before any update so the single connection is free
// for the writes that follow.
func (q *Queries) readMoneyRows(ctx context.Context, table string, cols []string) ([]moneyRow, error) {
	stmt := fmt.Sprintf(`SELECT rowid, %s FROM %s`, joinCols(cols), table)
	rows, err := q.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	var out []moneyRow
	for rows.Next() {
		r := moneyRow{values: make([]float64, len(cols))}
		dest := make([]any, 0, len(cols)+1)
		dest = append(dest, &r.rowid)
		for i := range r.values {
			dest = append(dest, &r.values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func joinCols(cols []string) string {
	s := ""
	for i, c := range cols {
		if i > 0 {
			s += ", "
		}
		s += c
	}
	return s
}

// ConvertMirror converts every monetary column of a mirror table in place,
// field by field, independently rounded half-up to two decimals. The
// cancellation flag is honored between rows; an abort mid-table raises and
// the surrounding transaction rolls the mirror back.
func (q *Queries) ConvertMirror(ctx context.Context, base string, cols []string, rate decimal.Decimal) (MirrorStats, error) {
	if err := validIdent(base); err != nil {
		return MirrorStats{}, err
	}
	table := base + "_eur"
	stats := MirrorStats{Table: table, SumRON: decimal.Zero, SumEUR: decimal.Zero}

	rows, err := q.readMoneyRows(ctx, table, cols)
	if err != nil {
		return MirrorStats{}, err
	}

	set := ""
	for i, c := range cols {
		if i > 0 {
			set += ", "
		}
		set += c + "=?"
	}
	update := fmt.Sprintf(`UPDATE %s SET %s WHERE rowid=?`, table, set)

	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return MirrorStats{}, fmt.Errorf("conversion of %s interrupted: %w", table, err)
		}
		args := make([]any, 0, len(cols)+1)
		for _, v := range r.values {
			ron := dec(v)
			eur := core.ConvertAtRate(ron, rate)
			stats.SumRON = stats.SumRON.Add(ron)
			stats.SumEUR = stats.SumEUR.Add(eur)
			args = append(args, f64(eur))
		}
		args = append(args, r.rowid)
		if _, err := q.db.ExecContext(ctx, update, args...); err != nil {
			return MirrorStats{}, fmt.Errorf("convert %s row %d: %w", table, r.rowid, err)
		}
		stats.Records++
	}

	stats.finish(rate)
	return stats, nil
}
