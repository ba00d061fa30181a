package ledger

import (
	"context"

	"carfond/internal/core"

	"github.com/shopspring/decimal"
)

// InterestResult is the ad-hoc accrued-interest view for one member.
type InterestResult struct {
	Interest    decimal.Decimal
	WindowStart core.Period // zero value when the member never borrowed
	BalanceSum  decimal.Decimal
}

// AccruedInterest computes the interest a member would owe if their loan
// were settled at the end of the given period.
//
// The summation window starts at the latest disbursement, with one
// empirically fixed wrinkle: when that month also recorded interest (a
// same-month payoff-and-new-loan event) the window starts right there;
// otherwise it is anchored at the last true zero-balance month before the
// disbursement, when one exists. The rule mirrors decades of hand-kept
// books and is replicated exactly, not improved.
func (e *Engine) AccruedInterest(ctx context.Context, fisa int, upTo core.Period, rate decimal.Decimal) (*InterestResult, error) {
	if err := upTo.Validate(); err != nil {
		return nil, err
	}
	if !rate.IsPositive() {
		return nil, core.ErrInvalidRate
	}

	q := e.store.Queries()

	origin, ok, err := q.LatestDisbursementPeriod(ctx, e.currency, fisa, upTo)
	if err != nil {
		return nil, err
	}
	if !ok {
		// No disbursement history, nothing accrues.
		return &InterestResult{Interest: decimal.Zero, BalanceSum: decimal.Zero}, nil
	}

	start := origin
	originRow, err := q.LedgerRow(ctx, e.currency, fisa, origin)
	if err != nil {
		return nil, err
	}
	concomitant := originRow != nil &&
		originRow.Interest.IsPositive() && originRow.LoanDisbursed.IsPositive()
	if !concomitant {
		if anchor, found, err := q.LastZeroBalancePeriod(ctx, e.currency, fisa, origin); err != nil {
			return nil, err
		} else if found {
			start = anchor
		}
	}

	sum, err := q.SumPositiveLoanBalances(ctx, e.currency, fisa, start, upTo)
	if err != nil {
		return nil, err
	}

	res := &InterestResult{
		Interest:    core.RoundHalfUp(sum.Mul(rate)),
		WindowStart: start,
		BalanceSum:  sum,
	}

	e.logger.Debug("accrued interest computed",
		"fisa", fisa,
		"window_start", start.String(),
		"up_to", upTo.String(),
		"balance_sum", sum.StringFixed(2),
		"interest", res.Interest.StringFixed(2))

	return res, nil
}
