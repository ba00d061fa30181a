// Package benefits distributes the fund's annual profit across members in
// proportion to their deposit standing through the year.
//
// Eligibility requires a positive December balance. The allocation set is
// regenerated wholesale on every calculation; the transfer step then folds
// each benefit into the member's January row of the following year, which
// is the one sanctioned mutation of an already-generated ledger period.
package benefits

import (
	"context"
	"fmt"
	"strings"

	"carfond/internal/core"
	"carfond/internal/log"
	"carfond/internal/storage"

	"github.com/shopspring/decimal"
)

// ProblemMembers enumerates the members that block a calculation: those
// with ledger activity but no registration, and those eligible for a
// benefit but lacking the January row the transfer would write into.
type ProblemMembers struct {
	Unregistered   []int
	MissingJanuary []int
}

func (e *ProblemMembers) Error() string {
	var parts []string
	if len(e.Unregistered) > 0 {
		parts = append(parts, fmt.Sprintf("%d unregistered members with ledger activity", len(e.Unregistered)))
	}
	if len(e.MissingJanuary) > 0 {
		parts = append(parts, fmt.Sprintf("%d eligible members missing their january row", len(e.MissingJanuary)))
	}
	return strings.Join(parts, "; ")
}

// Allocation is the result of one benefit calculation.
type Allocation struct {
	Year        int
	TotalProfit decimal.Decimal
	TotalAnnual decimal.Decimal // S_total over eligible members
	Records     []core.BenefitRecord
}

type Allocator struct {
	store    *storage.Store
	logger   *log.Logger
	currency core.Currency
}

func NewAllocator(store *storage.Store, logger *log.Logger, currency core.Currency) *Allocator {
	return &Allocator{
		store:    store,
		logger:   logger.WithComponent("benefits"),
		currency: currency,
	}
}

// Calculate distributes totalProfit across the members eligible for year:
// benefit = round_half_up(profit x S_member / S_total, 2). The benefit
// table is destructively replaced with the new set.
func (a *Allocator) Calculate(ctx context.Context, year int, totalProfit decimal.Decimal) (*Allocation, error) {
	if !totalProfit.IsPositive() {
		return nil, core.ErrInvalidProfit
	}

	q := a.store.Queries()

	months, err := q.DistinctMonths(ctx, a.currency, year)
	if err != nil {
		return nil, err
	}
	if months < 12 {
		return nil, fmt.Errorf("ledger year %d incomplete: %d of 12 months present", year, months)
	}

	names, err := q.MemberNames(ctx, a.currency)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, core.ErrNoMembers
	}

	liquidated, err := q.LiquidatedSet(ctx, a.currency)
	if err != nil {
		return nil, err
	}

	deposits, err := q.AnnualDeposits(ctx, a.currency, year)
	if err != nil {
		return nil, err
	}

	problems := &ProblemMembers{}

	// Orphaned activity blocks the run outright.
	active, err := q.LedgerFisasInYear(ctx, a.currency, year)
	if err != nil {
		return nil, err
	}
	for _, fisa := range active {
		if _, ok := names[fisa]; !ok {
			problems.Unregistered = append(problems.Unregistered, fisa)
		}
	}

	january := core.Period{Year: year + 1, Month: 1}
	totalAnnual := decimal.Zero
	var eligible []storage.AnnualDeposit

	for _, d := range deposits {
		if _, gone := liquidated[d.Fisa]; gone {
			continue
		}
		if d.DecemberBalance.Cmp(core.ZeroFloor) <= 0 {
			continue
		}
		row, err := q.LedgerRow(ctx, a.currency, d.Fisa, january)
		if err != nil {
			return nil, err
		}
		if row == nil {
			problems.MissingJanuary = append(problems.MissingJanuary, d.Fisa)
			continue
		}
		eligible = append(eligible, d)
		totalAnnual = totalAnnual.Add(d.AnnualSum)
	}

	if len(problems.Unregistered) > 0 || len(problems.MissingJanuary) > 0 {
		return nil, problems
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("no members with positive deposit balances in %d", year)
	}
	if !totalAnnual.IsPositive() {
		return nil, fmt.Errorf("total deposit sum for %d is zero or negative", year)
	}

	alloc := &Allocation{
		Year:        year,
		TotalProfit: totalProfit,
		TotalAnnual: totalAnnual,
	}
	for _, d := range eligible {
		benefit := core.RoundHalfUp(totalProfit.Mul(d.AnnualSum).Div(totalAnnual))
		alloc.Records = append(alloc.Records, core.BenefitRecord{
			Fisa:                   d.Fisa,
			Name:                   names[d.Fisa],
			DecemberDepositBalance: d.DecemberBalance,
			AnnualDepositSum:       d.AnnualSum,
			AllocatedBenefit:       benefit,
		})
	}

	if err := a.replaceBenefits(ctx, alloc.Records); err != nil {
		return nil, err
	}

	a.logger.Info("benefits calculated",
		"year", year,
		"eligible_members", len(alloc.Records),
		"profit", totalProfit.StringFixed(2),
		"deposit_sum_total", totalAnnual.StringFixed(2))

	return alloc, nil
}

func (a *Allocator) replaceBenefits(ctx context.Context, records []core.BenefitRecord) error {
	tx, err := a.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	qtx := storage.New(tx)

	if err := qtx.ClearBenefits(ctx, a.currency); err != nil {
		return err
	}
	for _, r := range records {
		if err := qtx.InsertBenefit(ctx, a.currency, r); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit benefit set: %w", err)
	}
	return nil
}

// Transfer folds each allocated benefit into the deposit debit leg and
// balance of the member's (year+1, January) row. Runs in one transaction;
// a member without a January row aborts and rolls everything back.
func (a *Allocator) Transfer(ctx context.Context, alloc *Allocation) error {
	if alloc == nil || len(alloc.Records) == 0 {
		return fmt.Errorf("no calculated benefits to transfer")
	}

	january := core.Period{Year: alloc.Year + 1, Month: 1}

	tx, err := a.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	qtx := storage.New(tx)

	missing := &ProblemMembers{}
	updated := 0
	for _, r := range alloc.Records {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("transfer interrupted at member %d: %w", r.Fisa, err)
		}
		ok, err := qtx.AddToDepositLeg(ctx, a.currency, r.Fisa, january, r.AllocatedBenefit)
		if err != nil {
			return err
		}
		if !ok {
			missing.MissingJanuary = append(missing.MissingJanuary, r.Fisa)
			continue
		}
		updated++
	}

	if len(missing.MissingJanuary) > 0 {
		return missing
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit benefit transfer: %w", err)
	}

	a.logger.Info("benefits transferred",
		"year", alloc.Year,
		"target_period", january.String(),
		"rows_updated", updated)

	return nil
}
