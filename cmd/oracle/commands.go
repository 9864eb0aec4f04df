package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"StockOracle/internal/ingest"
	"StockOracle/internal/model"
)

var errUsage = errors.New("usage")

func usage() {
	fmt.Fprint(os.Stderr, `Usage: oracle [-env FILE] [command]

Without a command the daemon runs: scheduled refreshes, reports and chat commands.

Commands:
  refresh [SYMBOL...]           sync symbols from the provider (default: watch list)
  predict SYMBOL [DAYS]         project the closing price DAYS bars ahead
  series [-from D] [-to D] SYMBOL
                                print the stored series
  stats SYMBOL                  descriptive indicators over the last trading year
  export [-from D] [-to D] SYMBOL FILE
                                write the stored series as CSV ("-" for stdout)
  symbols [-remote]             stored symbols, or the provider catalogue

Dates are YYYY-MM-DD.
`)
}

func runCommand(ctx context.Context, a *app, args []string) error {
	name, rest := args[0], args[1:]
	switch name {
	case "refresh":
		return cmdRefresh(ctx, a, rest)
	case "predict":
		return cmdPredict(ctx, a, rest)
	case "series":
		return cmdSeries(ctx, a, rest)
	case "stats":
		return cmdStats(ctx, a, rest)
	case "export":
		return cmdExport(ctx, a, rest)
	case "symbols":
		return cmdSymbols(ctx, a, rest)
	default:
		return errUsage
	}
}

func cmdRefresh(ctx context.Context, a *app, args []string) error {
	var outcomes []ingest.Outcome
	if len(args) == 0 {
		outcomes = a.svc.RefreshAll(ctx)
	} else {
		for _, sym := range args {
			res, err := a.svc.Refresh(ctx, sym)
			outcomes = append(outcomes, ingest.Outcome{Symbol: model.NormalizeSymbol(sym), Result: res, Err: err})
		}
	}
	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Printf("%-8s FAILED (retryable=%t): %v\n", o.Symbol, ingest.IsRetryable(o.Err), o.Err)
			continue
		}
		r := o.Result
		fmt.Printf("%-8s fetched=%d inserted=%d updated=%d skipped=%d rejected=%d duplicates=%d\n",
			o.Symbol, r.Fetched, r.Inserted, r.Updated, r.Skipped, r.Rejected, r.Duplicates)
	}
	if failed := ingest.Failed(outcomes); len(failed) > 0 {
		return fmt.Errorf("%d of %d symbols failed", len(failed), len(outcomes))
	}
	return nil
}

func cmdPredict(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return errUsage
	}
	horizon := a.cfg.Prediction.DefaultHorizon
	if len(args) == 2 {
		h, err := strconv.Atoi(args[1])
		if err != nil {
			return errUsage
		}
		horizon = h
	}
	p, err := a.svc.Prediction(ctx, args[0], horizon)
	if err != nil {
		return err
	}
	fmt.Printf("%s +%d: %.4f (slope %+.6f, intercept %.4f)\n", p.Symbol, p.HorizonDays, p.ProjectedPrice, p.Slope, p.Intercept)
	fmt.Printf("fit: r2=%.4f rmse=%.4f mae=%.4f n=%d %s..%s\n",
		p.RSquared, p.RMSE, p.MAE, p.SampleSize, p.From.Format(time.DateOnly), p.To.Format(time.DateOnly))
	return nil
}

// windowFlags parses the shared -from/-to flags of series and export.
func windowFlags(name string, args []string) (from, to time.Time, rest []string, err error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fromS := fs.String("from", "", "first day, inclusive")
	toS := fs.String("to", "", "last day, inclusive")
	if err := fs.Parse(args); err != nil {
		return from, to, nil, errUsage
	}
	if *fromS != "" {
		if from, err = time.Parse(time.DateOnly, *fromS); err != nil {
			return from, to, nil, fmt.Errorf("-from: %w", err)
		}
	}
	if *toS != "" {
		if to, err = time.Parse(time.DateOnly, *toS); err != nil {
			return from, to, nil, fmt.Errorf("-to: %w", err)
		}
		to = to.Add(24*time.Hour - time.Second)
	}
	return from, to, fs.Args(), nil
}

func cmdSeries(ctx context.Context, a *app, args []string) error {
	from, to, rest, err := windowFlags("series", args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return errUsage
	}
	s, err := a.svc.Series(ctx, rest[0], from, to)
	if err != nil {
		return err
	}
	if s.Len() == 0 {
		fmt.Printf("no stored bars for %s\n", s.Symbol)
		return nil
	}
	fmt.Printf("%-10s %12s %12s %12s %12s %14s\n", "date", "open", "high", "low", "close", "volume")
	for _, p := range s.Points {
		fmt.Printf("%-10s %12.4f %12.4f %12.4f %12.4f %14.0f\n",
			p.Time.Format(time.DateOnly), p.Open, p.High, p.Low, p.Close, p.Volume)
	}
	return nil
}

func cmdStats(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	ind, err := a.svc.Indicators(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s last=%.4f sma20=%.4f sma50=%.4f rsi14=%.1f range=%.4f..%.4f position=%.0f%%\n",
		ind.Symbol, ind.Last, ind.SMA20, ind.SMA50, ind.RSI14, ind.Low, ind.High, ind.Position*100)
	return nil
}

func cmdExport(ctx context.Context, a *app, args []string) error {
	from, to, rest, err := windowFlags("export", args)
	if err != nil {
		return err
	}
	if len(rest) != 2 {
		return errUsage
	}
	export := func(w io.Writer) (int, error) {
		return a.svc.ExportCSV(ctx, w, rest[0], from, to)
	}
	if rest[1] == "-" {
		_, err := export(os.Stdout)
		return err
	}
	n, err := writeFile(rest[1], export)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d bars to %s\n", n, rest[1])
	return nil
}

// writeFile creates path and fills it through write. A failed close is
// reported, since buffered data may not have reached the disk.
func writeFile(path string, write func(io.Writer) (int, error)) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	n, err := write(f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", path, cerr)
	}
	return n, err
}

func cmdSymbols(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("symbols", flag.ContinueOnError)
	remote := fs.Bool("remote", false, "list the provider catalogue instead")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if !*remote {
		syms, err := a.svc.Symbols(ctx)
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(syms, "\n"))
		return nil
	}
	infos, err := a.svc.ProviderSymbols(ctx)
	if err != nil {
		return err
	}
	for _, s := range infos {
		fmt.Printf("%-10s %-10s %s\n", s.Symbol, s.Exchange, s.Name)
	}
	return nil
}
