package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyike/CortexFund/config"
	"github.com/dyike/CortexFund/internal/display"
	"github.com/dyike/CortexFund/internal/scheduler"
	"github.com/dyike/CortexFund/pkg/app"
)

func newWatchCmd(a *appContext) *cobra.Command {
	var (
		schedule string
		runNow   bool
	)
	cmd := &cobra.Command{
		Use:   "watch TICKER...",
		Short: "Run live decision cycles on a schedule",
		Long: `Run a decision cycle for every ticker each time the cron schedule fires,
applying orders to the live portfolio file. Edits to config.json are
picked up before the next cycle.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			mgr := a.mgr
			if mgr == nil {
				var err error
				cfg := a.cfg
				if mgr, err = config.NewManager(config.WithInitialConfig(&cfg), config.WithLogger(a.logger)); err != nil {
					return err
				}
			}

			rt, err := app.NewRuntime(mgr,
				app.WithBuilder(a.deps().Build),
				app.WithLogger(a.logger),
			)
			if err != nil {
				return err
			}
			defer rt.Close()

			rec, closeRec, err := a.recorder()
			if err != nil {
				return err
			}
			defer closeRec()

			opts := []scheduler.Option{scheduler.WithLogger(a.logger)}
			if rec != nil {
				opts = append(opts, scheduler.WithRecorder(rec))
			}
			sched, err := scheduler.New(rt, splitTickers(args), opts...)
			if err != nil {
				return err
			}
			spec := firstNonEmpty(schedule, rt.Engine().Config.WatchSchedule)
			if err := sched.Register(spec); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := sched.Start(ctx); err != nil {
				return err
			}
			display.Success(out, "Watching "+spec+" (Ctrl+C to stop)")

			if runNow {
				cycle, err := sched.RunOnce(ctx)
				switch {
				case err != nil && !errors.Is(err, context.Canceled):
					display.Error(out, err, "live cycle")
				case cycle != nil:
					display.Cycle(out, cycle, nil)
				}
			}

			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sched.Stop(stopCtx)
			return nil
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "Cron spec, default from watch_schedule in config")
	cmd.Flags().BoolVar(&runNow, "run-now", false, "Run one cycle immediately after starting")
	return cmd
}
