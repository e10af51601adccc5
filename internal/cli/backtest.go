package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/dyike/CortexFund/config"
	"github.com/dyike/CortexFund/internal/backtest"
	"github.com/dyike/CortexFund/internal/display"
	"github.com/dyike/CortexFund/models"
	"github.com/dyike/CortexFund/pkg/dataflows"
	"github.com/dyike/CortexFund/pkg/utils"
)

type backtestFlags struct {
	scenario    string
	start       string
	end         string
	analysts    []string
	initialCash float64
	margin      float64
	pick        bool
	output      string
	report      bool
	noRecord    bool
}

func newBacktestCmd(a *appContext) *cobra.Command {
	f := &backtestFlags{}
	cmd := &cobra.Command{
		Use:   "backtest [TICKER...]",
		Short: "Replay the decision pipeline over a date range",
		Example: `  cortexfund backtest AAPL MSFT --start 2024-01-02 --end 2024-03-28
  cortexfund backtest --scenario scenarios/megacaps.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := f.build(cmd, a.cfg, args)
			if err != nil {
				return err
			}
			return runBacktest(cmd, a, sc, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.scenario, "scenario", "", "YAML scenario file")
	fl.StringVar(&f.start, "start", "", "First date (YYYY-MM-DD), default 90 days before end")
	fl.StringVar(&f.end, "end", "", "Last date (YYYY-MM-DD), default today")
	fl.StringSliceVar(&f.analysts, "analysts", nil, "Analyst ids, comma separated")
	fl.Float64Var(&f.initialCash, "initial-cash", 0, "Starting cash")
	fl.Float64Var(&f.margin, "margin-requirement", 0, "Margin required for shorts, 0 to 1")
	fl.BoolVar(&f.pick, "select", false, "Pick analysts interactively")
	fl.StringVar(&f.output, "output", "", "Write the full result as JSON to this file")
	fl.BoolVar(&f.report, "report", false, "Write a markdown report to the results directory")
	fl.BoolVar(&f.noRecord, "no-record", false, "Do not store the run in the results database")
	return cmd
}

// build assembles the run description from the scenario file or from the
// config defaults, then applies explicit flags on top.
func (f *backtestFlags) build(cmd *cobra.Command, cfg config.Config, args []string) (*config.Scenario, error) {
	sc := &config.Scenario{}
	if f.scenario != "" {
		loaded, err := config.LoadScenario(f.scenario)
		if err != nil {
			return nil, err
		}
		sc = loaded
	} else {
		margin := cfg.MarginRequirement
		sc.InitialCash = cfg.InitialCash
		sc.MarginRequirement = &margin
		sc.MaxPositionPct = cfg.MaxPositionPct
		sc.MaxExposurePct = cfg.MaxExposurePct
		sc.LookbackDays = cfg.LookbackDays
	}

	if tickers := splitTickers(args); len(tickers) > 0 {
		sc.Tickers = tickers
	}
	flags := cmd.Flags()
	if flags.Changed("start") {
		sc.Start = f.start
	}
	if flags.Changed("end") {
		sc.End = f.end
	}
	if flags.Changed("analysts") {
		sc.Analysts = f.analysts
	}
	if flags.Changed("initial-cash") {
		sc.InitialCash = f.initialCash
	}
	if flags.Changed("margin-requirement") {
		margin := f.margin
		sc.MarginRequirement = &margin
	}
	if f.pick {
		ids, err := PromptForAnalysts(cfg.Analysts)
		if err != nil {
			return nil, err
		}
		sc.Analysts = ids
	}

	if err := sc.Normalize(); err != nil {
		return nil, err
	}
	for _, t := range sc.Tickers {
		if err := dataflows.ValidateSymbol(t); err != nil {
			return nil, err
		}
	}
	return sc, nil
}

func runBacktest(cmd *cobra.Command, a *appContext, sc *config.Scenario, f *backtestFlags) error {
	out := cmd.OutOrStdout()
	cfg := sc.Apply(a.cfg)
	engine, err := a.engine(cfg)
	if err != nil {
		return err
	}

	start, end, err := sc.Window(time.Now())
	if err != nil {
		return err
	}
	bc := backtest.Config{
		Name:              sc.Name,
		Tickers:           sc.Tickers,
		Start:             start,
		End:               end,
		InitialCash:       decimal.NewFromFloat(sc.InitialCash),
		MarginRequirement: decimal.NewFromFloat(sc.Margin()),
		LookbackDays:      sc.LookbackDays,
		Analysts:          cfg.Analysts,
	}

	total := len(dataflows.BusinessDays(start, end))
	done := 0
	opts := []backtest.Option{
		backtest.WithProgress(func(date time.Time, _ decimal.Decimal) {
			done++
			display.Progress(out, date.Format(models.DateLayout), min(done, total), total)
		}),
	}
	if !f.noRecord {
		rec, closeRec, err := a.recorder()
		if err != nil {
			return err
		}
		defer closeRec()
		if rec != nil {
			opts = append(opts, backtest.WithRecorder(rec))
		}
	}

	sim, err := engine.Simulator(bc, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := sim.Run(ctx)
	if done < total {
		fmt.Fprintln(out)
	}
	if result != nil {
		display.Backtest(out, result)
		if f.output != "" {
			if err := writeJSON(f.output, result); err != nil {
				return err
			}
			display.Success(out, "Result written to "+f.output)
		}
		if f.report {
			name := fmt.Sprintf("%s_%s.md", sc.Name, result.RunID)
			path, err := utils.WriteMarkdown(filepath.Join(cfg.ResultsDir, "reports"), name, utils.BacktestMarkdown(sc.Name, result))
			if err != nil {
				return err
			}
			display.Success(out, "Report written to "+path)
		}
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			display.Warning(out, "backtest interrupted")
		}
		return runErr
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
