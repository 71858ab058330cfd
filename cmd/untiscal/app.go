package main

import (
	"context"
	"time"

	"untiscal/internal/calendar"
	"untiscal/internal/capture"
	"untiscal/internal/config"
	"untiscal/internal/history"
	"untiscal/internal/ics"
	appLog "untiscal/internal/log"
	"untiscal/internal/metrics"
	"untiscal/internal/model"
	"untiscal/internal/reconcile"
	"untiscal/internal/timetable"
)

// Set by long-running commands; the one-shot commands leave them nil.
var (
	mtr    *metrics.Metrics
	runLog *history.Store
)

// openStore connects the configured calendar backend.
func openStore(ctx context.Context, c *config.Config) (calendar.Store, error) {
	switch c.Calendar.Backend {
	case config.BackendICS:
		appLog.Info("using ics file calendar", "path", c.Calendar.ICSPath)
		return ics.NewFileStore(c.Calendar.ICSPath), nil
	default:
		oc, err := calendar.OAuthConfig(c.Calendar.Credentials)
		if err != nil {
			return nil, err
		}
		client, err := calendar.OAuthClient(ctx, oc, c.Calendar.Token)
		if err != nil {
			return nil, err
		}
		return calendar.NewGoogleStore(ctx, client, c.Calendar.CalendarID)
	}
}

func eventOptions(c *config.Config) (reconcile.EventOptions, error) {
	loc, err := c.Location()
	if err != nil {
		return reconcile.EventOptions{}, err
	}
	return reconcile.EventOptions{
		Location:        loc,
		ColorID:         c.Sync.ColorID,
		ReminderMinutes: c.Sync.ReminderMinutes,
	}, nil
}

func syncWindow(c *config.Config, now time.Time) calendar.Window {
	return calendar.WindowAround(now, c.Lookback(), c.Lookahead())
}

// parseWeeks extracts every week dump in the data dir and writes the lessons
// artifact.
func parseWeeks(c *config.Config) (timetable.ParseResult, error) {
	paths, err := timetable.WeekFiles(c.Data.Dir)
	if err != nil {
		return timetable.ParseResult{}, err
	}
	res := timetable.ParseWeeks(paths)
	appLog.Info("weeks parsed", "files", len(paths), "weeks", res.Weeks, "lessons", len(res.Lessons), "errors", len(res.Errors))

	if err := timetable.WriteLessons(c.Data.Lessons, res.Lessons); err != nil {
		appLog.Error("writing lessons artifact failed", err, "path", c.Data.Lessons)
	}
	if len(res.Lessons) == 0 {
		return res, errNoLessons
	}
	return res, nil
}

// syncLessons parses the week dumps and reconciles them with the calendar.
func syncLessons(ctx context.Context, c *config.Config, dryRun bool) (timetable.ParseResult, reconcile.Result, error) {
	parsed, err := parseWeeks(c)
	if err != nil {
		return parsed, reconcile.Result{}, err
	}

	opts, err := eventOptions(c)
	if err != nil {
		return parsed, reconcile.Result{}, err
	}
	store, err := openStore(ctx, c)
	if err != nil {
		return parsed, reconcile.Result{}, err
	}

	res, err := reconcile.Run(ctx, store, parsed.Lessons, reconcile.Options{
		Window:   syncWindow(c, time.Now()),
		PageSize: c.Sync.PageSize,
		Event:    opts,
		DryRun:   dryRun,
		OnOutcome: func(_ model.Lesson, o reconcile.Outcome) {
			mtr.ObserveLesson(string(o))
		},
	})
	return parsed, res, err
}

// captureWeeks runs the browser acquisition with the configured account.
func captureWeeks(ctx context.Context, c *config.Config) (capture.Result, error) {
	ex, err := capture.NewExtractor(capture.Options{
		BaseURL:  c.Untis.BaseURL,
		School:   c.Untis.School,
		Username: c.Untis.Username,
		Password: c.Untis.Password,
		Headless: !c.Untis.ShowBrowser,
		ExecPath: c.Untis.ChromePath,
		Weeks:    c.Untis.Weeks,
		DataDir:  c.Data.Dir,
		Timeout:  time.Duration(c.Untis.TimeoutSec) * time.Second,
		Settle:   time.Duration(c.Untis.SettleSec) * time.Second,
		CardWait: time.Duration(c.Untis.CardWaitSec) * time.Second,
	})
	if err != nil {
		return capture.Result{}, err
	}
	res, err := ex.Run(ctx, time.Now())
	mtr.ObserveCapture(len(res.Paths))
	return res, err
}

// recordRun stores the run in the history database and updates metrics.
// History failures are logged; they never fail the command.
func recordRun(ctx context.Context, c *config.Config, run history.Run, runErr error) {
	run.FinishedAt = time.Now()
	run.Status = history.StatusOf(runErr, run.Failed)
	if runErr != nil {
		run.Error = runErr.Error()
	}
	mtr.ObserveRun(run.Status, run.StartedAt, run.FinishedAt)

	h := runLog
	if h == nil {
		var err error
		if h, err = history.Open(c.History); err != nil {
			appLog.Error("opening run history failed", err, "path", c.History)
			return
		}
		defer h.Close()
	}
	if err := h.Record(context.WithoutCancel(ctx), &run); err != nil {
		appLog.Error("recording run failed", err)
	}
}
