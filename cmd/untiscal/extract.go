package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"untiscal/internal/history"
	"untiscal/internal/ics"
	appLog "untiscal/internal/log"
	"untiscal/internal/reconcile"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Capture week dumps from WebUntis with a headless browser",
	Long: `Log into WebUntis and write one week_<n>.json per week into the data
directory, starting with the current week.

Credentials come from UNTIS_SCHOOL, UNTIS_USERNAME and UNTIS_PASSWORD
(environment or .env file).`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		run := history.Run{Kind: history.KindExtract, StartedAt: time.Now()}

		res, err := captureWeeks(ctx, cfg)
		run.Weeks, run.Failed = len(res.Paths), res.Failed
		recordRun(ctx, cfg, run, err)
		if err != nil {
			return err
		}

		for _, p := range res.Paths {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

var parseICSPath string

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Extract lessons from the week dumps into the lessons artifact",
	Long: `Parse every week_*.json in the data directory and write all lessons,
sorted by date and start time, to the lessons artifact.

With --ics the lessons are also exported as a standalone calendar file.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		parsed, err := parseWeeks(cfg)
		if err != nil {
			return err
		}

		if parseICSPath != "" {
			opts, err := eventOptions(cfg)
			if err != nil {
				return err
			}
			f, err := os.Create(parseICSPath)
			if err != nil {
				return err
			}
			if err := ics.Export(f, reconcile.NewEvents(parsed.Lessons, opts), time.Now()); err != nil {
				f.Close()
				return fmt.Errorf("export ics: %w", err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			appLog.Info("ics export written", "path", parseICSPath, "lessons", len(parsed.Lessons))
		}

		fmt.Fprintf(cmd.OutOrStdout(), "weeks=%d lessons=%d errors=%d\n", parsed.Weeks, len(parsed.Lessons), len(parsed.Errors))
		return nil
	},
}

func init() {
	parseCmd.Flags().StringVar(&parseICSPath, "ics", "", "Also export the lessons to this .ics file")
	rootCmd.AddCommand(extractCmd, parseCmd)
}
