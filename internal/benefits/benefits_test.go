package benefits

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"carfond/internal/core"
	"carfond/internal/log"
	"carfond/internal/storage"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestAllocator(t *testing.T, store *storage.Store) *Allocator {
	t.Helper()
	return NewAllocator(store, log.New(slog.LevelError), core.RON)
}

func addMember(t *testing.T, store *storage.Store, fisa int, name string) {
	t.Helper()
	err := store.Queries().InsertMember(context.Background(), core.RON, core.Member{
		Fisa: fisa, Name: name, StandardContribution: d("50"),
	})
	if err != nil {
		t.Fatalf("seed member %d: %v", fisa, err)
	}
}

func addDeposit(t *testing.T, store *storage.Store, fisa, year, month int, balance string) {
	t.Helper()
	err := store.Queries().InsertEntry(context.Background(), core.RON, core.LedgerEntry{
		Fisa:            fisa,
		Period:          core.Period{Year: year, Month: month},
		Interest:        decimal.Zero,
		LoanDisbursed:   decimal.Zero,
		LoanPaid:        decimal.Zero,
		LoanBalance:     decimal.Zero,
		DepositDebited:  decimal.Zero,
		DepositCredited: decimal.Zero,
		DepositBalance:  d(balance),
	})
	if err != nil {
		t.Fatalf("seed ledger row %d@%d-%d: %v", fisa, month, year, err)
	}
}

// seedYear writes a flat monthly balance for all twelve months of year,
// plus the January row of the following year the transfer lands in.
func seedYear(t *testing.T, store *storage.Store, fisa, year int, monthly string) {
	t.Helper()
	for m := 1; m <= 12; m++ {
		addDeposit(t, store, fisa, year, m, monthly)
	}
	addDeposit(t, store, fisa, year+1, 1, monthly)
}

func TestCalculateProportionalAllocation(t *testing.T) {
	store := newTestStore(t)
	addMember(t, store, 1, "Pop Ion")
	addMember(t, store, 2, "Ionescu Maria")
	seedYear(t, store, 1, 2025, "100") // annual sum 1200
	seedYear(t, store, 2, 2025, "300") // annual sum 3600

	alloc, err := newTestAllocator(t, store).Calculate(context.Background(), 2025, d("480"))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	if !alloc.TotalAnnual.Equal(d("4800")) {
		t.Errorf("deposit sum total = %s, want 4800", alloc.TotalAnnual)
	}
	if len(alloc.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(alloc.Records))
	}
	if !alloc.Records[0].AllocatedBenefit.Equal(d("120")) {
		t.Errorf("member 1 benefit = %s, want 120 (quarter share)", alloc.Records[0].AllocatedBenefit)
	}
	if !alloc.Records[1].AllocatedBenefit.Equal(d("360")) {
		t.Errorf("member 2 benefit = %s, want 360 (three-quarter share)", alloc.Records[1].AllocatedBenefit)
	}

	// The calculation persists its result set.
	records, err := store.Queries().BenefitRecords(context.Background(), core.RON)
	if err != nil {
		t.Fatalf("read benefit set: %v", err)
	}
	if len(records) != 2 || records[0].Name != "Pop Ion" {
		t.Errorf("persisted set = %v, want both members with names", records)
	}
}

func TestCalculateExcludesDecemberZeroAndLiquidated(t *testing.T) {
	store := newTestStore(t)
	addMember(t, store, 1, "Pop Ion")
	addMember(t, store, 2, "Ionescu Maria")
	addMember(t, store, 3, "Georgescu Dan")
	seedYear(t, store, 1, 2025, "100")

	// Member 2 saved through November but withdrew before December.
	for m := 1; m <= 11; m++ {
		addDeposit(t, store, 2, 2025, m, "100")
	}
	addDeposit(t, store, 2, 2025, 12, "0")

	// Member 3 qualifies on paper but was liquidated.
	seedYear(t, store, 3, 2025, "100")
	if err := store.Queries().AddLiquidated(context.Background(), core.RON, 3); err != nil {
		t.Fatalf("seed liquidated: %v", err)
	}

	alloc, err := newTestAllocator(t, store).Calculate(context.Background(), 2025, d("120"))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if len(alloc.Records) != 1 || alloc.Records[0].Fisa != 1 {
		t.Fatalf("eligible set = %v, want member 1 only", alloc.Records)
	}
	// The sole eligible member takes the whole profit.
	if !alloc.Records[0].AllocatedBenefit.Equal(d("120")) {
		t.Errorf("benefit = %s, want 120", alloc.Records[0].AllocatedBenefit)
	}
}

func TestCalculateReplacesPreviousSet(t *testing.T) {
	store := newTestStore(t)
	addMember(t, store, 1, "Pop Ion")
	seedYear(t, store, 1, 2025, "100")

	a := newTestAllocator(t, store)
	if _, err := a.Calculate(context.Background(), 2025, d("100")); err != nil {
		t.Fatalf("first calculate: %v", err)
	}
	if _, err := a.Calculate(context.Background(), 2025, d("200")); err != nil {
		t.Fatalf("second calculate: %v", err)
	}

	records, err := store.Queries().BenefitRecords(context.Background(), core.RON)
	if err != nil {
		t.Fatalf("read benefit set: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (wholesale replacement)", len(records))
	}
	if !records[0].AllocatedBenefit.Equal(d("200")) {
		t.Errorf("benefit = %s, want the recalculated 200", records[0].AllocatedBenefit)
	}
}

func TestCalculateProblemMembers(t *testing.T) {
	store := newTestStore(t)
	addMember(t, store, 1, "Pop Ion")
	seedYear(t, store, 1, 2025, "100")

	// Activity for an unregistered member.
	seedYear(t, store, 99, 2025, "50")
	// Eligible member with no January row of the following year.
	addMember(t, store, 2, "Ionescu Maria")
	for m := 1; m <= 12; m++ {
		addDeposit(t, store, 2, 2025, m, "100")
	}

	_, err := newTestAllocator(t, store).Calculate(context.Background(), 2025, d("100"))
	var problems *ProblemMembers
	if !errors.As(err, &problems) {
		t.Fatalf("got %v, want ProblemMembers", err)
	}
	if len(problems.Unregistered) != 1 || problems.Unregistered[0] != 99 {
		t.Errorf("unregistered = %v, want [99]", problems.Unregistered)
	}
	if len(problems.MissingJanuary) != 1 || problems.MissingJanuary[0] != 2 {
		t.Errorf("missing january = %v, want [2]", problems.MissingJanuary)
	}
}

func TestCalculateRequiresCompleteYear(t *testing.T) {
	store := newTestStore(t)
	addMember(t, store, 1, "Pop Ion")
	for m := 1; m <= 7; m++ {
		addDeposit(t, store, 1, 2025, m, "100")
	}

	_, err := newTestAllocator(t, store).Calculate(context.Background(), 2025, d("100"))
	if err == nil {
		t.Fatal("a seven-month year must be rejected")
	}
}

func TestCalculateRejectsBadProfit(t *testing.T) {
	store := newTestStore(t)
	a := newTestAllocator(t, store)
	if _, err := a.Calculate(context.Background(), 2025, d("0")); !errors.Is(err, core.ErrInvalidProfit) {
		t.Errorf("zero profit: got %v, want ErrInvalidProfit", err)
	}
	if _, err := a.Calculate(context.Background(), 2025, d("-10")); !errors.Is(err, core.ErrInvalidProfit) {
		t.Errorf("negative profit: got %v, want ErrInvalidProfit", err)
	}
}

func TestTransferFoldsIntoJanuary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	addMember(t, store, 1, "Pop Ion")
	addMember(t, store, 2, "Ionescu Maria")
	seedYear(t, store, 1, 2025, "100")
	seedYear(t, store, 2, 2025, "300")

	a := newTestAllocator(t, store)
	alloc, err := a.Calculate(ctx, 2025, d("480"))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if err := a.Transfer(ctx, alloc); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	january := core.Period{Year: 2026, Month: 1}
	row, err := store.Queries().LedgerRow(ctx, core.RON, 1, january)
	if err != nil || row == nil {
		t.Fatalf("read january row: %v", err)
	}
	if !row.DepositDebited.Equal(d("120")) {
		t.Errorf("deposit debited = %s, want the transferred 120", row.DepositDebited)
	}
	if !row.DepositBalance.Equal(d("220")) {
		t.Errorf("deposit balance = %s, want 100 + 120", row.DepositBalance)
	}
}

func TestTransferRollsBackOnMissingRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	addMember(t, store, 1, "Pop Ion")
	seedYear(t, store, 1, 2025, "100")

	a := newTestAllocator(t, store)
	alloc, err := a.Calculate(ctx, 2025, d("100"))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	// Drop the January row after calculation; the transfer must refuse
	// and leave everything as it was.
	january := core.Period{Year: 2026, Month: 1}
	if _, err := store.Queries().DeletePeriod(ctx, core.RON, january); err != nil {
		t.Fatalf("delete january: %v", err)
	}

	err = a.Transfer(ctx, alloc)
	var problems *ProblemMembers
	if !errors.As(err, &problems) {
		t.Fatalf("got %v, want ProblemMembers", err)
	}
	if len(problems.MissingJanuary) != 1 || problems.MissingJanuary[0] != 1 {
		t.Errorf("missing january = %v, want [1]", problems.MissingJanuary)
	}

	// December is untouched.
	row, err := store.Queries().LedgerRow(ctx, core.RON, 1, core.Period{Year: 2025, Month: 12})
	if err != nil || row == nil {
		t.Fatalf("read december row: %v", err)
	}
	if !row.DepositDebited.IsZero() {
		t.Errorf("december deposit debited = %s, want untouched 0", row.DepositDebited)
	}
}

func TestTransferRequiresCalculation(t *testing.T) {
	store := newTestStore(t)
	a := newTestAllocator(t, store)
	if err := a.Transfer(context.Background(), nil); err == nil {
		t.Error("transfer without a calculation must fail")
	}
	if err := a.Transfer(context.Background(), &Allocation{Year: 2025}); err == nil {
		t.Error("transfer of an empty allocation must fail")
	}
}
