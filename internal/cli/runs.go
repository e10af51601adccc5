package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyike/CortexFund/internal/display"
	"github.com/dyike/CortexFund/internal/storage/sqlite"
)

func newRunsCmd(a *appContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded backtest and live runs",
	}

	var (
		cursor int64
		limit  int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlite.Open(a.cfg.SQLitePath)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), cursor, limit)
			if err != nil {
				return err
			}
			display.Runs(cmd.OutOrStdout(), runs)
			if len(runs) > 0 && len(runs) == limit {
				fmt.Fprintf(cmd.OutOrStdout(), "More with --cursor %d\n", runs[len(runs)-1].RowID)
			}
			return nil
		},
	}
	listCmd.Flags().Int64Var(&cursor, "cursor", 0, "Show runs older than this row id")
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show")

	showCmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show one run with its decisions, orders and equity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := sqlite.Open(a.cfg.SQLitePath)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("run %s not found", args[0])
			}
			decisions, err := store.ListDecisions(ctx, run.ID)
			if err != nil {
				return err
			}
			orders, err := store.ListOrders(ctx, run.ID)
			if err != nil {
				return err
			}
			equity, err := store.ListEquity(ctx, run.ID)
			if err != nil {
				return err
			}
			display.RunDetail(cmd.OutOrStdout(), run, decisions, orders, equity)
			return nil
		},
	}

	runsCmd.AddCommand(listCmd, showCmd)
	return runsCmd
}
