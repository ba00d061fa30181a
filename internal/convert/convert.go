// Package convert implements the one-time RON to EUR redenomination of
// the fund's books, modeled on EU Regulation 1103/97: every monetary
// field is converted independently with half-up rounding, and the drift
// between per-field rounding and the rounded aggregate is reported as a
// legitimate figure, never redistributed.
//
// The engine is a small state machine: a preview must be generated before
// apply, and once a mirror table set exists neither runs again.
package convert

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"carfond/internal/core"
	"carfond/internal/log"
	"carfond/internal/storage"

	"github.com/shopspring/decimal"
)

type State int

const (
	NotStarted State = iota
	PreviewGenerated
	Applied
)

var (
	ErrAlreadyConverted = errors.New("a mirror currency set already exists")
	ErrPreviewRequired  = errors.New("apply requires a prior preview")
)

// IntegrityError lists the members whose ledger activity has no matching
// member record. It blocks apply but not preview.
type IntegrityError struct {
	Missing []int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%d ledger members missing from the member table", len(e.Missing))
}

// IntegrityReport is the read-only member reconciliation run at preview.
type IntegrityReport struct {
	Valid              bool
	TotalMembers       int
	LedgerMembers      int
	MissingFromMembers []int // ledger activity without registration: critical
	WithoutActivity    []int // registered but idle this year: informational
}

// Preview carries the estimates shown before an irreversible apply.
type Preview struct {
	Rate                  decimal.Decimal
	Ledger                storage.TableTotals
	Members               storage.TableTotals
	Benefits              storage.TableTotals
	TotalRON              decimal.Decimal
	EstimatedEUR          decimal.Decimal // aggregate converted once
	ComponentsEUR         decimal.Decimal // per-table conversions summed
	EstimatedRoundingDiff decimal.Decimal
	Integrity             IntegrityReport
}

// ApplyResult reports the reconciliation of the applied conversion.
type ApplyResult struct {
	Rate               decimal.Decimal
	Tables             []storage.MirrorStats
	TotalRON           decimal.Decimal
	TotalEUR           decimal.Decimal
	TheoreticalEUR     decimal.Decimal
	RoundingDifference decimal.Decimal
}

type Engine struct {
	store   *storage.Store
	logger  *log.Logger
	maxRate decimal.Decimal
	state   State
}

func NewEngine(store *storage.Store, logger *log.Logger, maxRate decimal.Decimal) *Engine {
	return &Engine{
		store:   store,
		logger:  logger.WithComponent("convert"),
		maxRate: maxRate,
		state:   NotStarted,
	}
}

func (e *Engine) State() State { return e.state }

func (e *Engine) validateRate(rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return core.ErrInvalidRate
	}
	if rate.GreaterThan(e.maxRate) {
		return fmt.Errorf("%w: %s > %s", core.ErrRateTooLarge, rate, e.maxRate)
	}
	return nil
}

// Preview validates the rate, reconciles members against ledger activity
// and estimates the conversion without touching any table.
func (e *Engine) Preview(ctx context.Context, rate decimal.Decimal) (*Preview, error) {
	if err := e.validateRate(rate); err != nil {
		return nil, err
	}
	if applied, err := e.store.HasMirror(ctx); err != nil {
		return nil, err
	} else if applied {
		return nil, ErrAlreadyConverted
	}

	q := e.store.Queries()

	integrity, err := e.checkIntegrity(ctx, q)
	if err != nil {
		return nil, err
	}
	if !integrity.Valid {
		e.logger.Warn("member integrity check failed",
			"missing_from_members", len(integrity.MissingFromMembers))
	}

	p := &Preview{Rate: rate, Integrity: *integrity}
	if p.Ledger, err = q.LedgerTotals(ctx, core.RON); err != nil {
		return nil, err
	}
	if p.Members, err = q.MemberTotals(ctx, core.RON); err != nil {
		return nil, err
	}
	if p.Benefits, err = q.BenefitTotals(ctx, core.RON); err != nil {
		return nil, err
	}

	p.TotalRON = p.Ledger.MoneySum.Add(p.Members.MoneySum).Add(p.Benefits.MoneySum)
	p.EstimatedEUR = core.ConvertAtRate(p.TotalRON, rate)
	p.ComponentsEUR = core.ConvertAtRate(p.Ledger.MoneySum, rate).
		Add(core.ConvertAtRate(p.Members.MoneySum, rate)).
		Add(core.ConvertAtRate(p.Benefits.MoneySum, rate))
	p.EstimatedRoundingDiff = p.ComponentsEUR.Sub(p.EstimatedEUR)

	e.state = PreviewGenerated
	e.logger.Info("preview generated",
		"rate", rate.String(),
		"total_ron", p.TotalRON.StringFixed(2),
		"estimated_eur", p.EstimatedEUR.StringFixed(2),
		"rounding_diff", p.EstimatedRoundingDiff.StringFixed(2))

	return p, nil
}

// Apply performs the irreversible conversion: clones the member, ledger
// and benefit tables into their _eur twins (liquidated is copied
// verbatim, it holds no money) and converts every monetary field
// independently. The RON originals remain untouched for audit.
func (e *Engine) Apply(ctx context.Context, rate decimal.Decimal) (*ApplyResult, error) {
	if err := e.validateRate(rate); err != nil {
		return nil, err
	}
	if e.state == NotStarted {
		return nil, ErrPreviewRequired
	}
	if applied, err := e.store.HasMirror(ctx); err != nil {
		return nil, err
	} else if applied {
		return nil, ErrAlreadyConverted
	}

	// Integrity violations block the destructive path.
	integrity, err := e.checkIntegrity(ctx, e.store.Queries())
	if err != nil {
		return nil, err
	}
	if !integrity.Valid {
		return nil, &IntegrityError{Missing: integrity.MissingFromMembers}
	}

	e.logger.Info("applying redenomination", "rate", rate.String())

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	qtx := storage.New(tx)

	for _, base := range []string{"members", "ledger", "benefits", "liquidated"} {
		if err := qtx.CloneToMirror(ctx, base); err != nil {
			return nil, err
		}
	}

	result := &ApplyResult{
		Rate:     rate,
		TotalRON: decimal.Zero,
		TotalEUR: decimal.Zero,
	}

	conversions := []struct {
		base string
		cols []string
	}{
		{"ledger", []string{"interest", "loan_disbursed", "loan_paid", "loan_balance",
			"deposit_debited", "deposit_credited", "deposit_balance"}},
		{"members", []string{"standard_contribution"}},
		{"benefits", []string{"december_deposit_balance", "annual_deposit_sum", "allocated_benefit"}},
	}

	for _, c := range conversions {
		stats, err := qtx.ConvertMirror(ctx, c.base, c.cols, rate)
		if err != nil {
			return nil, err
		}
		e.logger.Info("table converted",
			"table", stats.Table,
			"records", stats.Records,
			"sum_ron", stats.SumRON.StringFixed(2),
			"sum_eur", stats.SumEUR.StringFixed(2),
			"rounding_diff", stats.RoundingDifference.StringFixed(2))
		result.Tables = append(result.Tables, stats)
		result.TotalRON = result.TotalRON.Add(stats.SumRON)
		result.TotalEUR = result.TotalEUR.Add(stats.SumEUR)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit redenomination: %w", err)
	}

	result.TheoreticalEUR = core.ConvertAtRate(result.TotalRON, rate)
	result.RoundingDifference = result.TotalEUR.Sub(result.TheoreticalEUR)

	e.state = Applied
	e.logger.Info("redenomination applied",
		"rate", rate.String(),
		"total_ron", result.TotalRON.StringFixed(2),
		"total_eur", result.TotalEUR.StringFixed(2),
		"theoretical_eur", result.TheoreticalEUR.StringFixed(2),
		"rounding_diff", result.RoundingDifference.StringFixed(2))

	return result, nil
}

// checkIntegrity reconciles the current bookkeeping year's ledger
// activity against the member register.
func (e *Engine) checkIntegrity(ctx context.Context, q *storage.Queries) (*IntegrityReport, error) {
	names, err := q.MemberNames(ctx, core.RON)
	if err != nil {
		return nil, err
	}

	report := &IntegrityReport{Valid: true, TotalMembers: len(names)}

	maxP, ok, err := q.MaxPeriod(ctx, core.RON)
	if err != nil {
		return nil, err
	}
	if !ok {
		return report, nil
	}

	active, err := q.LedgerFisasInYear(ctx, core.RON, maxP.Year)
	if err != nil {
		return nil, err
	}
	report.LedgerMembers = len(active)

	seen := make(map[int]struct{}, len(active))
	for _, fisa := range active {
		seen[fisa] = struct{}{}
		if _, registered := names[fisa]; !registered {
			report.MissingFromMembers = append(report.MissingFromMembers, fisa)
			report.Valid = false
		}
	}
	for fisa := range names {
		if _, found := seen[fisa]; !found {
			report.WithoutActivity = append(report.WithoutActivity, fisa)
		}
	}
	sort.Ints(report.MissingFromMembers)
	sort.Ints(report.WithoutActivity)

	return report, nil
}
