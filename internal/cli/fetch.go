package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyike/CortexFund/internal/display"
	"github.com/dyike/CortexFund/models"
	"github.com/dyike/CortexFund/pkg/dataflows"
)

func newFetchCmd(a *appContext) *cobra.Command {
	var (
		start  string
		end    string
		source string
	)
	cmd := &cobra.Command{
		Use:   "fetch TICKER...",
		Short: "Download daily bars into the offline data directory",
		Long: `Download daily bars from an online price source and store them as CSV
under the data directory, so backtests can run with price_source=offline.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg := a.cfg
			if source != "" {
				cfg.PriceSource = source
			}
			if cfg.PriceSource == dataflows.PriceSourceOffline {
				return fmt.Errorf("fetch needs an online price source, got %q", cfg.PriceSource)
			}

			to := models.Day(time.Now())
			if end != "" {
				d, err := models.ParseDate(end)
				if err != nil {
					return err
				}
				to = d
			}
			from := to.AddDate(-1, 0, 0)
			if start != "" {
				d, err := models.ParseDate(start)
				if err != nil {
					return err
				}
				from = d
			}
			if from.After(to) {
				return fmt.Errorf("start %s is after end %s", from.Format(models.DateLayout), to.Format(models.DateLayout))
			}

			provider, err := dataflows.NewProvider(&cfg, a.logger)
			if err != nil {
				return err
			}
			store := dataflows.NewOfflineStore(cfg.DataDir)

			tickers := splitTickers(args)
			for i, ticker := range tickers {
				if err := dataflows.ValidateSymbol(ticker); err != nil {
					return err
				}
				bars, err := provider.Prices(cmd.Context(), ticker, from, to)
				if err != nil {
					display.Error(out, err, ticker)
					continue
				}
				if err := store.SavePrices(ticker, bars); err != nil {
					return err
				}
				display.Progress(out, ticker, i+1, len(tickers))
				a.logger.Info().Str("ticker", ticker).Int("bars", len(bars)).Str("source", cfg.PriceSource).Msg("prices saved")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "First date (YYYY-MM-DD), default one year before end")
	cmd.Flags().StringVar(&end, "end", "", "Last date (YYYY-MM-DD), default today")
	cmd.Flags().StringVar(&source, "source", "", "Price source: yahoo or longport, default from config")
	return cmd
}
