package core

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Currency tags the table set an operation works against. The EUR set only
// exists after the one-time redenomination has been applied.
type Currency string

const (
	RON Currency = "RON"
	EUR Currency = "EUR"
)

type (
	// Member is a fund member as registered externally; read-only to the
	// ledger engines. Fisa is the stable identity number.
	Member struct {
		Fisa                 int
		Name                 string
		StandardContribution decimal.Decimal
	}

	// LedgerEntry is one monthly snapshot row per member. History rows are
	// never mutated after creation, with a single exception: the benefit
	// transfer writes into an already-generated January row.
	LedgerEntry struct {
		Fisa            int
		Period          Period
		Interest        decimal.Decimal
		LoanDisbursed   decimal.Decimal
		LoanPaid        decimal.Decimal
		LoanBalance     decimal.Decimal
		DepositDebited  decimal.Decimal
		DepositCredited decimal.Decimal
		DepositBalance  decimal.Decimal
		IsLatest        bool
	}

	// BenefitRecord is one member's share of an annual profit allocation.
	// The whole set is regenerated on each calculation, never patched.
	BenefitRecord struct {
		Fisa                   int
		Name                   string
		DecemberDepositBalance decimal.Decimal
		AnnualDepositSum       decimal.Decimal
		AllocatedBenefit       decimal.Decimal
	}
)

var (
	ErrPeriodExists  = errors.New("ledger period already generated")
	ErrNoLedgerRows  = errors.New("ledger holds no rows")
	ErrNoMembers     = errors.New("no active members")
	ErrInvalidRate   = errors.New("exchange or interest rate must be positive")
	ErrRateTooLarge  = errors.New("exchange rate implausibly large")
	ErrInvalidProfit = errors.New("profit must be a positive amount")
)
