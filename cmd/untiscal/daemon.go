package main

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"untiscal/internal/history"
	appLog "untiscal/internal/log"
	"untiscal/internal/metrics"
	"untiscal/internal/web"
)

var daemonRunNow bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run capture + sync on the configured schedule and serve the status page",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		mtr = metrics.New()

		runs, err := history.Open(cfg.History)
		if err != nil {
			return err
		}
		defer runs.Close()
		runLog = runs

		cycle := func() {
			res, err := runPipeline(cmd, false)
			if err != nil {
				appLog.Error("scheduled run failed", err)
				return
			}
			appLog.Info("scheduled run finished", "result", res)
		}

		c, job, err := newScheduler(loc, cfg.Schedule, cycle)
		if err != nil {
			return err
		}
		c.Start()
		appLog.Info("scheduler started", "schedule", cfg.Schedule, "timezone", loc.String())

		var wg sync.WaitGroup
		serveErr := make(chan error, 1)
		wg.Go(func() {
			serveErr <- web.StartServer(ctx, cfg, runs, mtr)
		})

		if daemonRunNow {
			wg.Go(job.Run)
		}

		select {
		case <-ctx.Done():
			appLog.Info("signal received, shutting down")
		case err = <-serveErr:
			if err != nil {
				appLog.Error("status server stopped", err)
			}
		}

		// Wait for a run in progress before the history db is closed.
		<-c.Stop().Done()
		wg.Wait()
		appLog.Info("untiscal daemon exiting")
		return err
	},
}

// newScheduler wraps cycle once so that scheduled ticks and the immediate
// --now run share the same still-running guard.
func newScheduler(loc *time.Location, schedule string, cycle func()) (*cron.Cron, cron.Job, error) {
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(cycle))
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddJob(schedule, job); err != nil {
		return nil, nil, err
	}
	return c, job, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sync status page and JSON API without scheduling runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		runs, err := history.Open(cfg.History)
		if err != nil {
			return err
		}
		defer runs.Close()

		mtr = metrics.New()
		return web.StartServer(cmd.Context(), cfg, runs, mtr)
	},
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonRunNow, "now", false, "Also run one cycle immediately on start")
	rootCmd.AddCommand(daemonCmd, serveCmd)
}
