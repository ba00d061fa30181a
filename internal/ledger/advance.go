// Package ledger advances the fund's books one calendar month at a time.
//
// Each advance derives every member's next row from the previous period:
// the standard contribution enters the deposit debit leg (plus the annual
// dividend in January), the loan installment is inherited unless a new
// loan reset the schedule, and the extinction interest is charged in the
// exact month a loan balance reaches zero. The whole run is one
// transaction; a row-level failure leaves no partial month behind.
package ledger

import (
	"context"
	"fmt"

	"carfond/internal/core"
	"carfond/internal/log"
	"carfond/internal/storage"

	"github.com/shopspring/decimal"
)

type Engine struct {
	store    *storage.Store
	logger   *log.Logger
	rate     decimal.Decimal // extinction interest rate, e.g. 0.004
	currency core.Currency
}

func NewEngine(store *storage.Store, logger *log.Logger, rate decimal.Decimal, currency core.Currency) *Engine {
	return &Engine{
		store:    store,
		logger:   logger.WithComponent("advance"),
		rate:     rate,
		currency: currency,
	}
}

// AdvanceSummary is the audit view returned after a generation run.
type AdvanceSummary struct {
	Source               core.Period
	Target               core.Period
	ActiveMembers        int
	GeneratedRows        int
	SkippedMissingSource int
	InterestCount        int
	InterestSum          decimal.Decimal
	TotalLoanBalance     decimal.Decimal
	TotalDepositBalance  decimal.Decimal
}

// Advance generates the target period from the one before it.
//
// dividends optionally overrides the per-member January dividend; when
// nil the allocated benefits table is consulted. Liquidated members are
// skipped silently, members without a source row are skipped with a
// warning and counted. Any other failure aborts and rolls back the run.
func (e *Engine) Advance(ctx context.Context, target core.Period, dividends map[int]decimal.Decimal) (*AdvanceSummary, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	source := target.Prev()
	if source.Year <= 0 {
		return nil, fmt.Errorf("%w: no source year before %s", core.ErrInvalidPeriod, target)
	}

	q := e.store.Queries()

	members, err := q.Members(ctx, e.currency)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, core.ErrNoMembers
	}

	liquidated, err := q.LiquidatedSet(ctx, e.currency)
	if err != nil {
		return nil, err
	}

	if _, ok, err := q.MaxPeriod(ctx, e.currency); err != nil {
		return nil, err
	} else if !ok {
		return nil, core.ErrNoLedgerRows
	}

	if exists, err := q.PeriodExists(ctx, e.currency, target); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: %s", core.ErrPeriodExists, target)
	}

	e.logger.Info("generating period", "target", target.String(), "source", source.String(), "members", len(members))

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	qtx := storage.New(tx)

	// Exactly one period carries the latest mark; clear it once, before
	// the first insert of the run.
	if err := qtx.ClearLatest(ctx, e.currency); err != nil {
		return nil, err
	}

	summary := &AdvanceSummary{
		Source:              source,
		Target:              target,
		InterestSum:         decimal.Zero,
		TotalLoanBalance:    decimal.Zero,
		TotalDepositBalance: decimal.Zero,
	}

	for i, m := range members {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("advance interrupted at member %d: %w", m.Fisa, err)
		}
		if _, gone := liquidated[m.Fisa]; gone {
			continue
		}
		summary.ActiveMembers++

		src, err := qtx.LedgerRow(ctx, e.currency, m.Fisa, source)
		if err != nil {
			return nil, err
		}
		if src == nil {
			e.logger.Warn("no source row, member skipped", "fisa", m.Fisa, "period", source.String())
			summary.SkippedMissingSource++
			continue
		}

		entry, err := e.carryForward(ctx, qtx, m, src, target, dividends)
		if err != nil {
			return nil, err
		}

		if err := qtx.InsertEntry(ctx, e.currency, *entry); err != nil {
			return nil, err
		}

		summary.GeneratedRows++
		summary.TotalLoanBalance = summary.TotalLoanBalance.Add(entry.LoanBalance)
		summary.TotalDepositBalance = summary.TotalDepositBalance.Add(entry.DepositBalance)
		if entry.Interest.IsPositive() {
			summary.InterestCount++
			summary.InterestSum = summary.InterestSum.Add(entry.Interest)
		}

		if (i+1)%25 == 0 {
			e.logger.Debug("progress", "done", i+1, "total", len(members))
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit advance: %w", err)
	}

	e.logger.Info("period generated",
		"target", target.String(),
		"rows", summary.GeneratedRows,
		"skipped_missing_source", summary.SkippedMissingSource,
		"interest_count", summary.InterestCount,
		"interest_sum", summary.InterestSum.StringFixed(2),
		"loan_balance_total", summary.TotalLoanBalance.StringFixed(2),
		"deposit_balance_total", summary.TotalDepositBalance.StringFixed(2))

	return summary, nil
}

// carryForward derives one member's target row from the source row.
func (e *Engine) carryForward(ctx context.Context, q *storage.Queries, m core.Member, src *core.LedgerEntry, target core.Period, dividends map[int]decimal.Decimal) (*core.LedgerEntry, error) {
	depositDebited := core.RoundHalfUp(m.StandardContribution)

	// The annual dividend lands in January only, on the debit leg: it
	// increases the deposit, it is not a withdrawal.
	if target.Month == 1 {
		dividend, err := e.dividendFor(ctx, q, m.Fisa, dividends)
		if err != nil {
			return nil, err
		}
		if dividend.IsPositive() {
			e.logger.Info("january dividend",
				"fisa", m.Fisa, "name", m.Name,
				"contribution", depositDebited.StringFixed(2),
				"dividend", dividend.StringFixed(2))
			depositDebited = depositDebited.Add(dividend)
		}
	}

	// Installment inheritance: a new loan in the source month resets the
	// repayment schedule, so nothing is inherited then. Never pay more
	// than the remaining balance.
	loanPaid := decimal.Zero
	if !src.LoanDisbursed.IsPositive() {
		loanPaid = core.RoundHalfUp(src.LoanPaid)
	}
	if src.LoanBalance.Cmp(core.ZeroFloor) <= 0 {
		loanPaid = decimal.Zero
	} else if loanPaid.GreaterThan(src.LoanBalance) {
		loanPaid = src.LoanBalance
	}

	loanBalance := core.NormalizeNearZero(src.LoanBalance.Sub(loanPaid))
	depositBalance := core.NormalizeNearZero(src.DepositBalance.Add(depositDebited))

	interest := decimal.Zero
	if src.LoanBalance.GreaterThan(core.ZeroFloor) && loanBalance.IsZero() {
		var err error
		interest, err = e.extinctionInterest(ctx, q, m.Fisa, src.Period)
		if err != nil {
			return nil, err
		}
		if interest.IsPositive() {
			e.logger.Info("loan extinguished, interest charged",
				"fisa", m.Fisa, "name", m.Name, "interest", interest.StringFixed(2))
		}
	}

	return &core.LedgerEntry{
		Fisa:            m.Fisa,
		Period:          target,
		Interest:        interest,
		LoanDisbursed:   decimal.Zero, // disbursements come from a separate workflow
		LoanPaid:        loanPaid,
		LoanBalance:     loanBalance,
		DepositDebited:  depositDebited,
		DepositCredited: decimal.Zero, // withdrawals come from a separate workflow
		DepositBalance:  depositBalance,
		IsLatest:        true,
	}, nil
}

func (e *Engine) dividendFor(ctx context.Context, q *storage.Queries, fisa int, overrides map[int]decimal.Decimal) (decimal.Decimal, error) {
	if overrides != nil {
		if d, ok := overrides[fisa]; ok {
			return core.RoundHalfUp(d), nil
		}
		return decimal.Zero, nil
	}
	return q.DividendFor(ctx, e.currency, fisa)
}

// extinctionInterest sums the member's positive balances from the latest
// disbursement up to the source period and applies the fund rate.
func (e *Engine) extinctionInterest(ctx context.Context, q *storage.Queries, fisa int, source core.Period) (decimal.Decimal, error) {
	origin, ok, err := q.LatestDisbursementPeriod(ctx, e.currency, fisa, source)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, nil
	}
	sum, err := q.SumPositiveLoanBalances(ctx, e.currency, fisa, origin, source)
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.IsPositive() {
		return decimal.Zero, nil
	}
	return core.RoundHalfUp(sum.Mul(e.rate)), nil
}

// DeletePeriod bulk-deletes one period's rows (undo-last-month).
// Deleting a period that does not exist is a no-op.
func (e *Engine) DeletePeriod(ctx context.Context, p core.Period) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	n, err := e.store.Queries().DeletePeriod(ctx, e.currency, p)
	if err != nil {
		return 0, err
	}
	e.logger.Info("period deleted", "period", p.String(), "rows", n)
	return n, nil
}

// NextTarget returns the only period an advance may generate: the one
// after the current maximum.
func (e *Engine) NextTarget(ctx context.Context) (core.Period, error) {
	maxP, ok, err := e.store.Queries().MaxPeriod(ctx, e.currency)
	if err != nil {
		return core.Period{}, err
	}
	if !ok {
		return core.Period{}, core.ErrNoLedgerRows
	}
	return maxP.Next(), nil
}
