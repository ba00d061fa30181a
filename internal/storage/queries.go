package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"carfond/internal/core"

	"github.com/shopspring/decimal"
)

// DBTX is satisfied by *sql.DB and *sql.Tx. Bulk operations run their
// reads and writes through one transaction, everything else through the
// store's connection.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// dec converts a REAL column into a decimal. SQLite stores the monetary
// fields as floats, exactly like the original books did.
func dec(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func f64(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

// Members returns every registered member ordered by fisa number.
func (q *Queries) Members(ctx context.Context, cur core.Currency) ([]core.Member, error) {
	stmt := fmt.Sprintf(`SELECT fisa, name, standard_contribution FROM %s ORDER BY fisa`, tableFor("members", cur))
	rows, err := q.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var out []core.Member
	for rows.Next() {
		var m core.Member
		var contrib float64
		if err := rows.Scan(&m.Fisa, &m.Name, &contrib); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.StandardContribution = dec(contrib)
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertMember registers one member. The register is maintained
// externally; this exists for imports and fixtures.
func (q *Queries) InsertMember(ctx context.Context, cur core.Currency, m core.Member) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (fisa, name, standard_contribution) VALUES (?, ?, ?)`, tableFor("members", cur))
	if _, err := q.db.ExecContext(ctx, stmt, m.Fisa, m.Name, f64(m.StandardContribution)); err != nil {
		return fmt.Errorf("insert member %d: %w", m.Fisa, err)
	}
	return nil
}

// AddLiquidated marks a member as liquidated, permanently excluding them
// from ledger advancement.
func (q *Queries) AddLiquidated(ctx context.Context, cur core.Currency, fisa int) error {
	stmt := fmt.Sprintf(`INSERT OR IGNORE INTO %s (fisa) VALUES (?)`, tableFor("liquidated", cur))
	if _, err := q.db.ExecContext(ctx, stmt, fisa); err != nil {
		return fmt.Errorf("mark liquidated %d: %w", fisa, err)
	}
	return nil
}

// MemberNames maps fisa number to registered name.
func (q *Queries) MemberNames(ctx context.Context, cur core.Currency) (map[int]string, error) {
	stmt := fmt.Sprintf(`SELECT fisa, name FROM %s`, tableFor("members", cur))
	rows, err := q.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query member names: %w", err)
	}
	defer rows.Close()

	names := make(map[int]string)
	for rows.Next() {
		var fisa int
		var name string
		if err := rows.Scan(&fisa, &name); err != nil {
			return nil, fmt.Errorf("scan member name: %w", err)
		}
		names[fisa] = name
	}
	return names, rows.Err()
}

// LiquidatedSet returns the fisa numbers permanently excluded from
// ledger advancement.
func (q *Queries) LiquidatedSet(ctx context.Context, cur core.Currency) (map[int]struct{}, error) {
	stmt := fmt.Sprintf(`SELECT fisa FROM %s`, tableFor("liquidated", cur))
	rows, err := q.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query liquidated: %w", err)
	}
	defer rows.Close()

	set := make(map[int]struct{})
	for rows.Next() {
		var fisa int
		if err := rows.Scan(&fisa); err != nil {
			return nil, fmt.Errorf("scan liquidated: %w", err)
		}
		set[fisa] = struct{}{}
	}
	return set, rows.Err()
}

// LedgerRow point-reads one member's row at a period. Returns nil when the
// member has no row there.
func (q *Queries) LedgerRow(ctx context.Context, cur core.Currency, fisa int, p core.Period) (*core.LedgerEntry, error) {
	stmt := fmt.Sprintf(`SELECT interest, loan_disbursed, loan_paid, loan_balance,
		deposit_debited, deposit_credited, deposit_balance, is_latest
		FROM %s WHERE fisa=? AND month=? AND year=?`, tableFor("ledger", cur))

	var interest, loanDeb, loanCred, loanBal, depDeb, depCred, depBal float64
	var latest bool
	err := q.db.QueryRowContext(ctx, stmt, fisa, p.Month, p.Year).Scan(
		&interest, &loanDeb, &loanCred, &loanBal, &depDeb, &depCred, &depBal, &latest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger row %d@%s: %w", fisa, p, err)
	}

	return &core.LedgerEntry{
		Fisa:            fisa,
		Period:          p,
		Interest:        dec(interest),
		LoanDisbursed:   dec(loanDeb),
		LoanPaid:        dec(loanCred),
		LoanBalance:     dec(loanBal),
		DepositDebited:  dec(depDeb),
		DepositCredited: dec(depCred),
		DepositBalance:  dec(depBal),
		IsLatest:        latest,
	}, nil
}

// PeriodExists reports whether any row exists for the period.
func (q *Queries) PeriodExists(ctx context.Context, cur core.Currency, p core.Period) (bool, error) {
	stmt := fmt.Sprintf(`SELECT 1 FROM %s WHERE month=? AND year=? LIMIT 1`, tableFor("ledger", cur))
	var one int
	err := q.db.QueryRowContext(ctx, stmt, p.Month, p.Year).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check period %s: %w", p, err)
	}
	return true, nil
}

// MaxPeriod returns the most recent ledger period, if any rows exist.
func (q *Queries) MaxPeriod(ctx context.Context, cur core.Currency) (core.Period, bool, error) {
	stmt := fmt.Sprintf(`SELECT MAX(year*100+month) FROM %s`, tableFor("ledger", cur))
	var code sql.NullInt64
	if err := q.db.QueryRowContext(ctx, stmt).Scan(&code); err != nil {
		return core.Period{}, false, fmt.Errorf("query max period: %w", err)
	}
	if !code.Valid {
		return core.Period{}, false, nil
	}
	return core.PeriodFromCode(int(code.Int64)), true, nil
}

// ClearLatest drops the is_latest mark from every row in the table.
// Exactly one period's rows carry the mark, so this runs once per advance,
// before the first insert.
func (q *Queries) ClearLatest(ctx context.Context, cur core.Currency) error {
	stmt := fmt.Sprintf(`UPDATE %s SET is_latest=0 WHERE is_latest<>0`, tableFor("ledger", cur))
	if _, err := q.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("clear latest flags: %w", err)
	}
	return nil
}

// InsertEntry appends one ledger row.
func (q *Queries) InsertEntry(ctx context.Context, cur core.Currency, e core.LedgerEntry) error {
	stmt := fmt.Sprintf(`INSERT INTO %s
		(fisa, month, year, interest, loan_disbursed, loan_paid, loan_balance,
		 deposit_debited, deposit_credited, deposit_balance, is_latest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, tableFor("ledger", cur))
	_, err := q.db.ExecContext(ctx, stmt,
		e.Fisa, e.Period.Month, e.Period.Year,
		f64(e.Interest), f64(e.LoanDisbursed), f64(e.LoanPaid), f64(e.LoanBalance),
		f64(e.DepositDebited), f64(e.DepositCredited), f64(e.DepositBalance),
		e.IsLatest)
	if err != nil {
		return fmt.Errorf("insert ledger row %d@%s: %w", e.Fisa, e.Period, err)
	}
	return nil
}

// DeletePeriod removes every row of one period (undo-last-month).
// Returns the number of rows deleted; zero when the period was absent.
func (q *Queries) DeletePeriod(ctx context.Context, cur core.Currency, p core.Period) (int64, error) {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE month=? AND year=?`, tableFor("ledger", cur))
	res, err := q.db.ExecContext(ctx, stmt, p.Month, p.Year)
	if err != nil {
		return 0, fmt.Errorf("delete period %s: %w", p, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete period %s: %w", p, err)
	}
	return n, nil
}

// DividendFor reads a member's allocated annual benefit, zero when absent.
func (q *Queries) DividendFor(ctx context.Context, cur core.Currency, fisa int) (decimal.Decimal, error) {
	stmt := fmt.Sprintf(`SELECT allocated_benefit FROM %s WHERE fisa=?`, tableFor("benefits", cur))
	var v float64
	err := q.db.QueryRowContext(ctx, stmt, fisa).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read dividend for %d: %w", fisa, err)
	}
	return core.RoundHalfUp(dec(v)), nil
}

// LatestDisbursementPeriod finds the most recent period at or before upTo
// in which a new loan was disbursed to the member.
func (q *Queries) LatestDisbursementPeriod(ctx context.Context, cur core.Currency, fisa int, upTo core.Period) (core.Period, bool, error) {
	stmt := fmt.Sprintf(`SELECT MAX(year*100+month) FROM %s
		WHERE fisa=? AND loan_disbursed>0 AND year*100+month <= ?`, tableFor("ledger", cur))
	var code sql.NullInt64
	if err := q.db.QueryRowContext(ctx, stmt, fisa, upTo.Encode()).Scan(&code); err != nil {
		return core.Period{}, false, fmt.Errorf("query loan origin for %d: %w", fisa, err)
	}
	if !code.Valid {
		return core.Period{}, false, nil
	}
	return core.PeriodFromCode(int(code.Int64)), true, nil
}

// LastZeroBalancePeriod finds the most recent period strictly before the
// given one where the member's loan balance sat at the zero floor.
func (q *Queries) LastZeroBalancePeriod(ctx context.Context, cur core.Currency, fisa int, before core.Period) (core.Period, bool, error) {
	stmt := fmt.Sprintf(`SELECT MAX(year*100+month) FROM %s
		WHERE fisa=? AND loan_balance<=0.005 AND year*100+month < ?`, tableFor("ledger", cur))
	var code sql.NullInt64
	if err := q.db.QueryRowContext(ctx, stmt, fisa, before.Encode()).Scan(&code); err != nil {
		return core.Period{}, false, fmt.Errorf("query zero anchor for %d: %w", fisa, err)
	}
	if !code.Valid {
		return core.Period{}, false, nil
	}
	return core.PeriodFromCode(int(code.Int64)), true, nil
}

// SumPositiveLoanBalances totals loan_balance over [start, end] counting
// only strictly positive balances. A balance below the zero floor but
// above zero still counts; the books always worked that way.
func (q *Queries) SumPositiveLoanBalances(ctx context.Context, cur core.Currency, fisa int, start, end core.Period) (decimal.Decimal, error) {
	stmt := fmt.Sprintf(`SELECT COALESCE(SUM(loan_balance), 0) FROM %s
		WHERE fisa=? AND year*100+month BETWEEN ? AND ? AND loan_balance>0`, tableFor("ledger", cur))
	var sum float64
	if err := q.db.QueryRowContext(ctx, stmt, fisa, start.Encode(), end.Encode()).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum loan balances for %d: %w", fisa, err)
	}
	return dec(sum), nil
}

// DistinctMonths counts the distinct months present for a year.
func (q *Queries) DistinctMonths(ctx context.Context, cur core.Currency, year int) (int, error) {
	stmt := fmt.Sprintf(`SELECT COUNT(DISTINCT month) FROM %s WHERE year=?`, tableFor("ledger", cur))
	var n int
	if err := q.db.QueryRowContext(ctx, stmt, year).Scan(&n); err != nil {
		return 0, fmt.Errorf("count months of %d: %w", year, err)
	}
	return n, nil
}

// LedgerFisasInYear lists the distinct members with any ledger activity
// in the year.
func (q *Queries) LedgerFisasInYear(ctx context.Context, cur core.Currency, year int) ([]int, error) {
	stmt := fmt.Sprintf(`SELECT DISTINCT fisa FROM %s WHERE year=? ORDER BY fisa`, tableFor("ledger", cur))
	rows, err := q.db.QueryContext(ctx, stmt, year)
	if err != nil {
		return nil, fmt.Errorf("query ledger members of %d: %w", year, err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var fisa int
		if err := rows.Scan(&fisa); err != nil {
			return nil, fmt.Errorf("scan ledger member: %w", err)
		}
		out = append(out, fisa)
	}
	return out, rows.Err()
}

// AnnualDeposit aggregates one member's deposit standing over a year.
type AnnualDeposit struct {
	Fisa            int
	AnnualSum       decimal.Decimal
	DecemberBalance decimal.Decimal
}

// AnnualDeposits groups positive monthly deposit balances per member for
// a year, carrying the December balance used for eligibility.
func (q *Queries) AnnualDeposits(ctx context.Context, cur core.Currency, year int) ([]AnnualDeposit, error) {
	stmt := fmt.Sprintf(`SELECT fisa,
			SUM(deposit_balance) AS annual_sum,
			MAX(CASE WHEN month=12 THEN deposit_balance ELSE 0 END) AS december_balance
		FROM %s
		WHERE year=? AND deposit_balance>0
		GROUP BY fisa
		HAVING SUM(deposit_balance)>0
		ORDER BY fisa`, tableFor("ledger", cur))
	rows, err := q.db.QueryContext(ctx, stmt, year)
	if err != nil {
		return nil, fmt.Errorf("query annual deposits of %d: %w", year, err)
	}
	defer rows.Close()

	var out []AnnualDeposit
	for rows.Next() {
		var fisa int
		var annual, december float64
		if err := rows.Scan(&fisa, &annual, &december); err != nil {
			return nil, fmt.Errorf("scan annual deposit: %w", err)
		}
		out = append(out, AnnualDeposit{Fisa: fisa, AnnualSum: dec(annual), DecemberBalance: dec(december)})
	}
	return out, rows.Err()
}

// AddToDepositLeg adds an amount to both deposit_debited and
// deposit_balance of one existing row. This is the benefit transfer's
// single sanctioned mutation of an already-generated period. Returns
// false when the member has no row at the period.
func (q *Queries) AddToDepositLeg(ctx context.Context, cur core.Currency, fisa int, p core.Period, amount decimal.Decimal) (bool, error) {
	row, err := q.LedgerRow(ctx, cur, fisa, p)
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, nil
	}
	stmt := fmt.Sprintf(`UPDATE %s SET deposit_debited=?, deposit_balance=?
		WHERE fisa=? AND month=? AND year=?`, tableFor("ledger", cur))
	_, err = q.db.ExecContext(ctx, stmt,
		f64(row.DepositDebited.Add(amount)),
		f64(row.DepositBalance.Add(amount)),
		fisa, p.Month, p.Year)
	if err != nil {
		return false, fmt.Errorf("update deposit leg %d@%s: %w", fisa, p, err)
	}
	return true, nil
}

// ClearBenefits empties the benefit table prior to repopulation.
func (q *Queries) ClearBenefits(ctx context.Context, cur core.Currency) error {
	if _, err := q.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, tableFor("benefits", cur))); err != nil {
		return fmt.Errorf("clear benefits: %w", err)
	}
	return nil
}

// InsertBenefit appends one benefit record.
func (q *Queries) InsertBenefit(ctx context.Context, cur core.Currency, r core.BenefitRecord) error {
	stmt := fmt.Sprintf(`INSERT INTO %s
		(fisa, name, december_deposit_balance, annual_deposit_sum, allocated_benefit)
		VALUES (?, ?, ?, ?, ?)`, tableFor("benefits", cur))
	if _, err := q.db.ExecContext(ctx, stmt,
		r.Fisa, r.Name, f64(r.DecemberDepositBalance), f64(r.AnnualDepositSum), f64(r.AllocatedBenefit)); err != nil {
		return fmt.Errorf("insert benefit %d: %w", r.Fisa, err)
	}
	return nil
}

// BenefitRecords returns the current benefit set ordered by fisa.
func (q *Queries) BenefitRecords(ctx context.Context, cur core.Currency) ([]core.BenefitRecord, error) {
	stmt := fmt.Sprintf(`SELECT fisa, name, december_deposit_balance, annual_deposit_sum, allocated_benefit
		FROM %s ORDER BY fisa`, tableFor("benefits", cur))
	rows, err := q.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query benefits: %w", err)
	}
	defer rows.Close()

	var out []core.BenefitRecord
	for rows.Next() {
		var r core.BenefitRecord
		var december, annual, benefit float64
		if err := rows.Scan(&r.Fisa, &r.Name, &december, &annual, &benefit); err != nil {
			return nil, fmt.Errorf("scan benefit: %w", err)
		}
		r.DecemberDepositBalance = dec(december)
		r.AnnualDepositSum = dec(annual)
		r.AllocatedBenefit = dec(benefit)
		out = append(out, r)
	}
	return out, rows.Err()
}
