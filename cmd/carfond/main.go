// Command carfond manages the mutual-aid fund's monthly ledger snapshot:
// month generation, accrued-interest queries, the one-time RON to EUR
// redenomination, annual benefit allocation and per-table snapshot
// import/export.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"carfond/internal/benefits"
	"carfond/internal/cli"
	"carfond/internal/config"
	"carfond/internal/convert"
	"carfond/internal/core"
	"carfond/internal/ledger"
	"carfond/internal/log"
	"carfond/internal/storage"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: carfond <command> [flags]

commands:
  advance          generate the next ledger month
  delete-period    delete one generated month (undo)
  interest         accrued interest for one member at a period
  convert-preview  preview the RON -> EUR redenomination
  convert-apply    apply the RON -> EUR redenomination
  benefits         calculate (and optionally transfer) annual benefits
  export           export every table to per-table snapshot files
  import           import per-table snapshot files
  receipt          draw the next receipt number
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cli.LoadEnvFile()
	cfg := config.Load()
	logger := cli.SetupLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("configuration validation failed", "error", err)
		os.Exit(1)
	}

	store := cli.InitStore(logger, cfg.DBPath)
	defer store.Close()

	ctx, cancel := cli.SignalContext()
	defer cancel()

	var err error
	switch os.Args[1] {
	case "advance":
		err = runAdvance(ctx, cfg, logger, store, os.Args[2:])
	case "delete-period":
		err = runDeletePeriod(ctx, cfg, logger, store, os.Args[2:])
	case "interest":
		err = runInterest(ctx, cfg, logger, store, os.Args[2:])
	case "convert-preview", "convert-apply":
		err = runConvert(ctx, cfg, logger, store, os.Args[1], os.Args[2:])
	case "benefits":
		err = runBenefits(ctx, cfg, logger, store, os.Args[2:])
	case "export":
		err = runExport(ctx, cfg, store, os.Args[2:])
	case "import":
		err = runImport(ctx, cfg, store, os.Args[2:])
	case "receipt":
		err = runReceipt(ctx, store)
	default:
		usage()
	}

	if err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func currencyFlag(fs *flag.FlagSet) *string {
	return fs.String("currency", string(core.RON), "table set to operate on (RON or EUR)")
}

func parseCurrency(s string) (core.Currency, error) {
	switch core.Currency(s) {
	case core.RON, core.EUR:
		return core.Currency(s), nil
	}
	return "", fmt.Errorf("unknown currency %q", s)
}

func runAdvance(ctx context.Context, cfg *config.Config, logger *log.Logger, store *storage.Store, args []string) error {
	fs := flag.NewFlagSet("advance", flag.ExitOnError)
	month := fs.Int("month", 0, "target month (default: month after the latest period)")
	year := fs.Int("year", 0, "target year")
	curFlag := currencyFlag(fs)
	fs.Parse(args)

	cur, err := parseCurrency(*curFlag)
	if err != nil {
		return err
	}
	eng := ledger.NewEngine(store, logger, cfg.InterestRate(), cur)

	var target core.Period
	if *month == 0 && *year == 0 {
		if target, err = eng.NextTarget(ctx); err != nil {
			return err
		}
	} else {
		if target, err = core.NewPeriod(*year, *month); err != nil {
			return err
		}
	}

	summary, err := eng.Advance(ctx, target, nil)
	if err != nil {
		return err
	}
	fmt.Printf("generated %s: %d rows (%d skipped), interest %s on %d loans, loan total %s, deposit total %s\n",
		summary.Target, summary.GeneratedRows, summary.SkippedMissingSource,
		summary.InterestSum.StringFixed(2), summary.InterestCount,
		summary.TotalLoanBalance.StringFixed(2), summary.TotalDepositBalance.StringFixed(2))
	return nil
}

func runDeletePeriod(ctx context.Context, cfg *config.Config, logger *log.Logger, store *storage.Store, args []string) error {
	fs := flag.NewFlagSet("delete-period", flag.ExitOnError)
	month := fs.Int("month", 0, "month to delete")
	year := fs.Int("year", 0, "year to delete")
	curFlag := currencyFlag(fs)
	fs.Parse(args)

	cur, err := parseCurrency(*curFlag)
	if err != nil {
		return err
	}
	p, err := core.NewPeriod(*year, *month)
	if err != nil {
		return err
	}

	n, err := ledger.NewEngine(store, logger, cfg.InterestRate(), cur).DeletePeriod(ctx, p)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d rows of %s\n", n, p)
	return nil
}

func runInterest(ctx context.Context, cfg *config.Config, logger *log.Logger, store *storage.Store, args []string) error {
	fs := flag.NewFlagSet("interest", flag.ExitOnError)
	fisa := fs.Int("fisa", 0, "member fisa number")
	month := fs.Int("month", 0, "period month")
	year := fs.Int("year", 0, "period year")
	rate := fs.String("rate", "", "interest rate override (e.g. 0.004)")
	curFlag := currencyFlag(fs)
	fs.Parse(args)

	cur, err := parseCurrency(*curFlag)
	if err != nil {
		return err
	}
	p, err := core.NewPeriod(*year, *month)
	if err != nil {
		return err
	}

	r := cfg.InterestRate()
	if *rate != "" {
		if r, err = decimal.NewFromString(*rate); err != nil {
			return fmt.Errorf("invalid rate %q: %w", *rate, err)
		}
	}

	res, err := ledger.NewEngine(store, logger, cfg.InterestRate(), cur).AccruedInterest(ctx, *fisa, p, r)
	if err != nil {
		return err
	}
	fmt.Printf("fisa %d up to %s: interest %s (balance sum %s, window start %s)\n",
		*fisa, p, res.Interest.StringFixed(2), res.BalanceSum.StringFixed(2), res.WindowStart)
	return nil
}

func runConvert(ctx context.Context, cfg *config.Config, logger *log.Logger, store *storage.Store, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	rateStr := fs.String("rate", "", "exchange rate, RON per EUR (e.g. 4.9435)")
	fs.Parse(args)

	rate, err := decimal.NewFromString(*rateStr)
	if err != nil {
		return fmt.Errorf("invalid exchange rate %q: %w", *rateStr, err)
	}

	eng := convert.NewEngine(store, logger, cfg.MaxExchangeRate)

	preview, err := eng.Preview(ctx, rate)
	if err != nil {
		return err
	}
	fmt.Printf("preview at %s RON/EUR: total %s RON, estimated %s EUR, components %s EUR, rounding diff %s EUR\n",
		rate, preview.TotalRON.StringFixed(2), preview.EstimatedEUR.StringFixed(2),
		preview.ComponentsEUR.StringFixed(2), preview.EstimatedRoundingDiff.StringFixed(2))
	if !preview.Integrity.Valid {
		fmt.Printf("integrity: %d ledger members missing from the register: %v\n",
			len(preview.Integrity.MissingFromMembers), preview.Integrity.MissingFromMembers)
	}

	if command == "convert-preview" {
		return nil
	}

	result, err := eng.Apply(ctx, rate)
	if err != nil {
		var integrity *convert.IntegrityError
		if errors.As(err, &integrity) {
			fmt.Printf("apply blocked, unregistered members: %v\n", integrity.Missing)
		}
		return err
	}
	for _, t := range result.Tables {
		fmt.Printf("%s: %d records, %s RON -> %s EUR (theoretical %s, diff %s)\n",
			t.Table, t.Records, t.SumRON.StringFixed(2), t.SumEUR.StringFixed(2),
			t.TheoreticalEUR.StringFixed(2), t.RoundingDifference.StringFixed(2))
	}
	fmt.Printf("total: %s RON -> %s EUR, legitimate rounding difference %s EUR\n",
		result.TotalRON.StringFixed(2), result.TotalEUR.StringFixed(2),
		result.RoundingDifference.StringFixed(2))
	return nil
}

func runBenefits(ctx context.Context, cfg *config.Config, logger *log.Logger, store *storage.Store, args []string) error {
	fs := flag.NewFlagSet("benefits", flag.ExitOnError)
	year := fs.Int("year", 0, "allocation year")
	profitStr := fs.String("profit", "", "total profit to distribute")
	transfer := fs.Bool("transfer", false, "also transfer benefits into january of the following year")
	curFlag := currencyFlag(fs)
	fs.Parse(args)

	cur, err := parseCurrency(*curFlag)
	if err != nil {
		return err
	}
	profit, err := decimal.NewFromString(*profitStr)
	if err != nil {
		return fmt.Errorf("invalid profit %q: %w", *profitStr, err)
	}

	alloc := benefits.NewAllocator(store, logger, cur)
	res, err := alloc.Calculate(ctx, *year, profit)
	if err != nil {
		var problems *benefits.ProblemMembers
		if errors.As(err, &problems) {
			if len(problems.Unregistered) > 0 {
				fmt.Printf("unregistered members with activity: %v\n", problems.Unregistered)
			}
			if len(problems.MissingJanuary) > 0 {
				fmt.Printf("eligible members missing january %d: %v\n", *year+1, problems.MissingJanuary)
			}
		}
		return err
	}

	fmt.Printf("allocated %s across %d members (deposit sum %s)\n",
		res.TotalProfit.StringFixed(2), len(res.Records), res.TotalAnnual.StringFixed(2))

	if *transfer {
		if err := alloc.Transfer(ctx, res); err != nil {
			return err
		}
		fmt.Printf("transferred into january %d\n", res.Year+1)
	}
	return nil
}

func runExport(ctx context.Context, cfg *config.Config, store *storage.Store, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dir := fs.String("dir", cfg.SnapshotDir, "snapshot directory")
	fs.Parse(args)
	if err := store.ExportSnapshot(ctx, *dir); err != nil {
		return err
	}
	fmt.Printf("snapshot exported to %s\n", *dir)
	return nil
}

func runImport(ctx context.Context, cfg *config.Config, store *storage.Store, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dir := fs.String("dir", cfg.SnapshotDir, "snapshot directory")
	fs.Parse(args)
	if err := store.ImportSnapshot(ctx, *dir); err != nil {
		return err
	}
	fmt.Printf("snapshot imported from %s\n", *dir)
	return nil
}

func runReceipt(ctx context.Context, store *storage.Store) error {
	n, err := store.NextReceiptNumber(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("receipt %d\n", n)
	return nil
}
