package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"

	"github.com/atmx/ledger-engine/internal/config"
	"github.com/atmx/ledger-engine/internal/importer"
	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/reconcile"
	"github.com/atmx/ledger-engine/internal/report"
	"github.com/atmx/ledger-engine/internal/store"
)

// Register the subcommands.
func Register(c *subcommands.Commander) {
	c.Register(&reconcileCmd{}, "ledger")
	c.Register(&importCmd{}, "ledger")

	c.Register(&positionsCmd{}, "reports")
	c.Register(&balanceCmd{}, "reports")
	c.Register(&reportCmd{}, "reports")
}

// env is what every command runs against.
type env struct {
	cfg    *config.Config
	engine *reconcile.Service
	close  func()
}

// openEnv connects to the configured database. The CLI has no use for the
// in-memory store, so DATABASE_URL is required.
func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	config.InitLogger(cfg.LogLevel)

	st, cleanup, err := store.Open(ctx, store.OpenOptions{
		DatabaseURL: cfg.DatabaseURL,
		RedisURL:    cfg.RedisURL,
		CacheTTL:    cfg.CacheTTL,
	})
	if err != nil {
		return nil, err
	}
	engine := reconcile.NewService(st, reconcile.Options{
		AllowShort:        cfg.AllowShort,
		ContractSize:      cfg.ContractSize,
		PremiumMultiplier: cfg.PremiumMultiplier,
	})
	return &env{cfg: cfg, engine: engine, close: cleanup}, nil
}

// run opens the environment, calls fn and maps its error onto an exit status.
func run(ctx context.Context, fn func(*env) error) subcommands.ExitStatus {
	e, err := openEnv(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer e.close()
	if err := fn(e); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func optionalID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

func parseWindow(from, to string) (*model.DateRange, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	var w model.DateRange
	var err error
	if from != "" {
		if w.From, err = model.ParseDay(from); err != nil {
			return nil, fmt.Errorf("invalid -from date %q: %w", from, err)
		}
	}
	if to != "" {
		if w.To, err = model.ParseDay(to); err != nil {
			return nil, fmt.Errorf("invalid -to date %q: %w", to, err)
		}
	}
	return &w, nil
}

func platformNames(ctx context.Context, e *env) (map[int64]string, error) {
	platforms, err := e.engine.Platforms(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(platforms))
	for _, p := range platforms {
		names[p.ID] = p.Name
	}
	return names, nil
}

// --- reconcile ---

type reconcileCmd struct {
	platform int64
	ticker   string
}

func (*reconcileCmd) Name() string     { return "reconcile" }
func (*reconcileCmd) Synopsis() string { return "re-derive positions and cash from the ledger" }
func (*reconcileCmd) Usage() string {
	return `ledgerctl reconcile [-platform <id>] [-ticker <symbol>]

  Rebuilds positions and cash balances from trades, cash flows and option
  trades. Without flags the whole ledger is reconciled.
`
}

func (c *reconcileCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.platform, "platform", 0, "Platform id to reconcile (default all)")
	f.StringVar(&c.ticker, "ticker", "", "Ticker to reconcile (default all)")
}

func (c *reconcileCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(e *env) error {
		res, err := e.engine.Reconcile(ctx, reconcile.Scope{PlatformID: optionalID(c.platform), Ticker: c.ticker})
		if err != nil {
			return err
		}
		printMarkdown(ResultMarkdown(res))
		return nil
	})
}

// --- import ---

type importCmd struct {
	platform string
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "import trades from a broker CSV export" }
func (*importCmd) Usage() string {
	return `ledgerctl import -platform <name> <file.csv>

  Imports equity trades from a CSV file using the column mapping of the
  platform (IMPORT_MAPPING_FILE), then reconciles the platform.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.platform, "platform", importer.OtherPlatform, "Platform name the export comes from")
}

func (c *importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: expected exactly one CSV file")
		return subcommands.ExitUsageError
	}
	return run(ctx, func(e *env) error {
		mappings, err := importer.LoadMappings(e.cfg.ImportMappingFile)
		if err != nil {
			return err
		}
		file, err := os.Open(f.Arg(0))
		if err != nil {
			return err
		}
		defer file.Close()

		imp := importer.New(e.engine, mappings, importer.Options{
			BatchSize:     e.cfg.ImportBatchSize,
			BatchesPerSec: e.cfg.ImportBatchesPerSec,
		})
		rep, err := imp.Import(ctx, c.platform, file)
		if rep != nil {
			printMarkdown(ImportMarkdown(rep))
		}
		return err
	})
}

// --- positions ---

type positionsCmd struct {
	platform int64
	closed   bool
	from, to string
}

func (*positionsCmd) Name() string     { return "positions" }
func (*positionsCmd) Synopsis() string { return "list open or closed positions" }
func (*positionsCmd) Usage() string {
	return `ledgerctl positions [-closed] [-platform <id>] [-from <date>] [-to <date>]

  Lists derived positions. Dates bound the exit date of closed positions.
`
}

func (c *positionsCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.platform, "platform", 0, "Platform id (default all)")
	f.BoolVar(&c.closed, "closed", false, "List closed positions instead of open ones")
	f.StringVar(&c.from, "from", "", "First exit date, YYYY-MM-DD")
	f.StringVar(&c.to, "to", "", "Last exit date, YYYY-MM-DD")
}

func (c *positionsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	window, err := parseWindow(c.from, c.to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	return run(ctx, func(e *env) error {
		names, err := platformNames(ctx, e)
		if err != nil {
			return err
		}
		pid := optionalID(c.platform)
		if !c.closed {
			positions, err := e.engine.OpenPositions(ctx, pid)
			if err != nil {
				return err
			}
			printMarkdown(PositionsMarkdown("Open Positions", positions, names))
			return nil
		}
		positions, err := e.engine.ClosedPositions(ctx, pid, window)
		if err != nil {
			return err
		}
		printMarkdown(PositionsMarkdown("Closed Positions, "+windowLabel(window), positions, names))
		return nil
	})
}

// --- balance ---

type balanceCmd struct{}

func (*balanceCmd) Name() string           { return "balance" }
func (*balanceCmd) Synopsis() string       { return "show the cash available on each platform" }
func (*balanceCmd) Usage() string          { return "ledgerctl balance\n" }
func (*balanceCmd) SetFlags(*flag.FlagSet) {}

func (c *balanceCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(e *env) error {
		platforms, err := e.engine.Platforms(ctx)
		if err != nil {
			return err
		}
		printMarkdown(BalanceMarkdown(platforms))
		return nil
	})
}

// --- report ---

type reportCmd struct {
	platform int64
	kind     string
}

func (*reportCmd) Name() string     { return "report" }
func (*reportCmd) Synopsis() string { return "display a P&L, tax or cash-flow report" }
func (*reportCmd) Usage() string {
	return `ledgerctl report [-kind weekly|monthly|taxes|cash-flows] [-platform <id>]

  Aggregates realized results of stocks and options.
`
}

func (c *reportCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.platform, "platform", 0, "Platform id (default all)")
	f.StringVar(&c.kind, "kind", report.KindMonthly, "Report kind: weekly, monthly, taxes or cash-flows")
}

func (c *reportCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	kind := strings.ToLower(c.kind)
	switch kind {
	case report.KindWeekly, report.KindMonthly, report.KindTaxes, report.KindCashFlows:
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown report kind %q\n", c.kind)
		return subcommands.ExitUsageError
	}
	return run(ctx, func(e *env) error {
		md, err := renderReport(ctx, report.NewReporter(e.engine, 0), kind, optionalID(c.platform))
		if err != nil {
			return err
		}
		printMarkdown(md)
		return nil
	})
}

func renderReport(ctx context.Context, r *report.Reporter, kind string, pid *int64) (string, error) {
	switch kind {
	case report.KindWeekly:
		rows, err := r.Weekly(ctx, pid)
		if err != nil {
			return "", err
		}
		return PeriodMarkdown(kind, rows), nil
	case report.KindTaxes:
		tax, err := r.Taxes(ctx, pid)
		if err != nil {
			return "", err
		}
		return TaxMarkdown(tax), nil
	case report.KindCashFlows:
		rows, err := r.CashFlows(ctx, pid)
		if err != nil {
			return "", err
		}
		return CashFlowMarkdown(rows), nil
	default:
		rows, err := r.Monthly(ctx, pid)
		if err != nil {
			return "", err
		}
		return PeriodMarkdown(kind, rows), nil
	}
}
