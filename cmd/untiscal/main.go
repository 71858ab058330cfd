package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"untiscal/internal/config"
	"untiscal/internal/errs"
	appLog "untiscal/internal/log"
)

const version = "0.3.0"

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitNoLessons = 2
	exitRemote    = 3
	exitConfig    = 4
)

var errNoLessons = errors.New("no lessons could be parsed")

var (
	configPath string
	envFile    string
	logLevel   string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "untiscal",
	Short:         "Sync a WebUntis timetable into a calendar without duplicates",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `untiscal captures the rendered WebUntis timetable, reconstructs lessons
from the dump and creates each lesson once in a Google (or ICS file)
calendar. Re-running on overlapping weeks never creates duplicates.

Typical use:
  untiscal auth            # once, to authorize calendar access
  untiscal run             # capture + sync
  untiscal daemon          # run on the configured cron schedule`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.LoadEnv(envFile); err != nil {
			return err
		}

		c, err := config.Load(configPath)
		if err != nil {
			return errs.Wrap(err, errs.CodeConfig, "load config")
		}
		if err := c.ApplyEnv(os.LookupEnv); err != nil {
			return err
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		if err := c.Validate(); err != nil {
			return err
		}

		if err := appLog.Init(appLog.Options{
			Level:      appLog.ParseLevel(c.Log.Level),
			Format:     c.Log.Format,
			File:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
		}); err != nil {
			return errs.Wrap(err, errs.CodeConfig, "init logging")
		}

		appLog.Debug("effective config",
			"config", configPath,
			"timezone", c.Timezone,
			"backend", c.Calendar.Backend,
			"calendar_id", c.Calendar.CalendarID,
			"weeks", c.Untis.Weeks,
			"lookback_days", c.Sync.LookbackDays,
			"lookahead_days", c.Sync.LookaheadDays,
			"command", cmd.Name(),
		)
		cfg = c
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "untiscal.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file with portal credentials")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	appLog.Sync()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, errNoLessons) {
		return exitNoLessons
	}
	switch errs.CodeOf(err) {
	case errs.CodeRemoteAuth, errs.CodePaginationIncomplete:
		return exitRemote
	case errs.CodeConfig:
		return exitConfig
	}
	return exitFailure
}
