package cli

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dyike/CortexFund/internal/display"
	"github.com/dyike/CortexFund/internal/storage/sqlite"
	"github.com/dyike/CortexFund/models"
	"github.com/dyike/CortexFund/pkg/app"
	"github.com/dyike/CortexFund/pkg/dataflows"
)

type decideRequest struct {
	tickers  []string
	date     time.Time
	analysts []string
	persist  bool
	record   bool
}

func newDecideCmd(a *appContext) *cobra.Command {
	var (
		date     string
		analysts []string
		persist  bool
		record   bool
	)
	cmd := &cobra.Command{
		Use:   "decide TICKER...",
		Short: "Run one decision cycle per ticker",
		Long: `Run the analysts, aggregate their signals, bound the position and
print the resulting orders. With --persist the orders are applied to the
live portfolio file kept under the results directory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := decideRequest{
				tickers:  splitTickers(args),
				date:     models.Day(time.Now()),
				analysts: analysts,
				persist:  persist,
				record:   record,
			}
			for _, t := range req.tickers {
				if err := dataflows.ValidateSymbol(t); err != nil {
					return err
				}
			}
			if date != "" {
				d, err := models.ParseDate(date)
				if err != nil {
					return err
				}
				req.date = d
			}
			return runDecide(cmd, a, req)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&date, "date", "", "Decision date (YYYY-MM-DD), default today")
	fl.StringSliceVar(&analysts, "analysts", nil, "Analyst ids, comma separated")
	fl.BoolVar(&persist, "persist", false, "Apply orders to the live portfolio file")
	fl.BoolVar(&record, "record", false, "Store the cycle in the results database")
	return cmd
}

func runDecide(cmd *cobra.Command, a *appContext, req decideRequest) error {
	out := cmd.OutOrStdout()
	cfg := a.cfg
	if len(req.analysts) > 0 {
		cfg.Analysts = req.analysts
	}
	engine, err := a.engine(cfg)
	if err != nil {
		return err
	}

	pf := engine.NewPortfolio()
	path := engine.PortfolioPath()
	if req.persist {
		if pf, err = engine.LoadPortfolio(path); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	cycle, err := engine.Decide(ctx, req.tickers, req.date, pf)
	if err != nil {
		display.Error(out, err, "decision cycle")
		return err
	}
	display.Cycle(out, cycle, pf)

	if req.persist {
		if err := app.SavePortfolio(path, pf); err != nil {
			return err
		}
		display.Success(out, "Portfolio saved to "+path)
	}
	if req.record {
		return a.recordCycle(ctx, cfg.Analysts, req.tickers, cycle)
	}
	return nil
}

// recordCycle stores a one-off live run holding a single cycle.
func (a *appContext) recordCycle(ctx context.Context, analysts, tickers []string, cycle *app.Cycle) error {
	rec, closeRec, err := a.recorder()
	if err != nil {
		return err
	}
	defer closeRec()
	if rec == nil {
		return nil
	}

	runID := uuid.NewString()
	if err := rec.StartRun(ctx, runID, sqlite.KindLive, "decide", map[string]any{
		"tickers":  tickers,
		"analysts": analysts,
		"date":     cycle.Date.Format(models.DateLayout),
	}); err != nil {
		return err
	}
	for _, d := range cycle.Decisions {
		if err := rec.RecordCycle(ctx, runID, d); err != nil {
			return err
		}
	}
	if err := rec.RecordEquity(ctx, runID, cycle.Date, cycle.Value); err != nil {
		return err
	}
	return rec.FinishRun(ctx, runID, nil)
}
