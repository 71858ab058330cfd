package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"untiscal/internal/history"
	appLog "untiscal/internal/log"
)

var syncDryRun bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Parse the captured weeks and create missing lessons in the calendar",
	Long: `Parse every week_*.json in the data directory, write the lessons
artifact and create each lesson that is not yet in the calendar.

Lessons already present (by identifier or by date/time/subject/room) are
skipped. The last line of output is always the summary:
  created=N duplicates=N failed=N`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		run := history.Run{Kind: history.KindSync, StartedAt: time.Now()}

		parsed, res, err := syncLessons(ctx, cfg, syncDryRun)
		run.Weeks, run.Lessons = parsed.Weeks, len(parsed.Lessons)
		run.Created, run.Duplicates, run.Failed = res.Created, res.Duplicates, res.Failed
		if !syncDryRun {
			recordRun(ctx, cfg, run, err)
		}
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), res.String())
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture the timetable and sync it",
	Long: `Capture the configured number of weeks from WebUntis, then sync.

A failed capture is logged and the sync proceeds with the week files that
are already on disk.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		res, err := runPipeline(cmd, syncDryRun)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res)
		return nil
	},
}

// runPipeline is one capture + sync cycle, as used by run and daemon.
func runPipeline(cmd *cobra.Command, dryRun bool) (string, error) {
	ctx := cmd.Context()
	run := history.Run{Kind: history.KindRun, StartedAt: time.Now()}

	if capRes, err := captureWeeks(ctx, cfg); err != nil {
		appLog.Error("capture failed; syncing existing week files", err)
	} else if capRes.Failed > 0 {
		appLog.Warn("some weeks were not captured", "failed", capRes.Failed, "written", len(capRes.Paths))
	}

	parsed, res, err := syncLessons(ctx, cfg, dryRun)
	run.Weeks, run.Lessons = parsed.Weeks, len(parsed.Lessons)
	run.Created, run.Duplicates, run.Failed = res.Created, res.Duplicates, res.Failed
	if !dryRun {
		recordRun(ctx, cfg, run, err)
	}
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

func init() {
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Report what would be created without touching the calendar")
	runCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Report what would be created without touching the calendar")
	rootCmd.AddCommand(syncCmd, runCmd)
}
