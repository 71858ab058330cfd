package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"untiscal/internal/errs"
	appLog "untiscal/internal/log"
	"untiscal/internal/model"
	"untiscal/internal/timetable"
)

// Default acquisition parameters.
const (
	DefaultBaseURL     = "https://ajax.webuntis.com"
	DefaultTimeoutSec  = 120
	DefaultSettleSec   = 8
	DefaultCardWaitSec = 10

	fieldWait = 5 * time.Second
)

// lessonCardSelector is present once the timetable has rendered lessons.
const lessonCardSelector = `div[class*="lesson-card"]`

// dumpScript serializes every lesson-related div of the rendered timetable
// in document order. Its result decodes into timetable.Document.
const dumpScript = `(() => {
	const data = { timetable: { url: window.location.href, lessons: [] } };
	document.querySelectorAll('div[class*="lesson"]').forEach((el, i) => {
		data.timetable.lessons.push({
			index: i,
			text: el.textContent.trim(),
			html: el.innerHTML.substring(0, 300),
			className: typeof el.className === 'string' ? el.className : '',
			dataset: { ...el.dataset },
		});
	});
	return data;
})()`

var (
	usernameSelectors = []string{
		`input#username`,
		`input[name="username"]`,
		`input[data-testid*="username"]`,
		`input[placeholder*="Benutzername"]`,
		`input[placeholder*="Username"]`,
		`input[type="text"]`,
	}
	passwordSelectors = []string{
		`input#password`,
		`input[name="password"]`,
		`input[type="password"]`,
		`input[data-testid*="password"]`,
	}
	submitSelectors = []string{
		`button[type="submit"]`,
		`button#login`,
		`button[data-testid*="login"]`,
		`button[data-testid*="submit"]`,
		`input[type="submit"]`,
		`.login-button`,
	}
)

// Options configures an Extractor.
type Options struct {
	// BaseURL of the portal; DefaultBaseURL if empty.
	BaseURL  string
	School   string
	Username string
	Password string

	Headless bool
	// ExecPath overrides the Chrome/Chromium binary.
	ExecPath string

	// Weeks is the number of consecutive weeks, starting with the current one.
	Weeks   int
	DataDir string

	// Timeout bounds the whole acquisition.
	Timeout time.Duration
	// Settle is how long to let the single-page app render after navigation.
	Settle time.Duration
	// CardWait bounds the wait for the first lesson card of a week.
	CardWait time.Duration
}

// Result lists the week dumps that were written.
type Result struct {
	Paths  []string
	Failed int
}

// Extractor drives a headless browser through the portal login and dumps the
// rendered timetable of each week.
type Extractor struct {
	opts Options
}

// NewExtractor validates opts and fills in defaults.
func NewExtractor(opts Options) (*Extractor, error) {
	var missing []string
	if opts.School == "" {
		missing = append(missing, "school")
	}
	if opts.Username == "" {
		missing = append(missing, "username")
	}
	if opts.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return nil, errs.New(errs.CodeConfig, "portal credentials missing: "+strings.Join(missing, ", "))
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Weeks <= 0 {
		opts.Weeks = 1
	}
	if opts.DataDir == "" {
		opts.DataDir = "."
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	if opts.Settle < 0 {
		opts.Settle = 0
	}
	if opts.CardWait <= 0 {
		opts.CardWait = time.Duration(DefaultCardWaitSec) * time.Second
	}
	return &Extractor{opts: opts}, nil
}

// LoginURL is the portal login page of school. Spaces in the school name are
// sent as "+".
func LoginURL(base, school string) string {
	return strings.TrimRight(base, "/") + "/WebUntis/?school=" + strings.ReplaceAll(school, " ", "+") + "#/basic/login"
}

// WeekURL is the student timetable of the week containing monday.
func WeekURL(base string, monday time.Time) string {
	return strings.TrimRight(base, "/") + "/timetable/my-student?date=" + monday.Format(model.DateLayout)
}

// StillOnLogin reports whether the browser is still on a login page after
// submitting credentials.
func StillOnLogin(location string) bool {
	return strings.Contains(strings.ToLower(location), "login")
}

// schoolRedirected reports whether the portal bounced an unknown school to
// its generic landing host.
func schoolRedirected(base, location string) bool {
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	l, err := url.Parse(location)
	if err != nil || l.Host == "" {
		return false
	}
	return l.Host != b.Host && strings.HasSuffix(l.Host, "webuntis.com")
}

// Run logs in and writes one week_<n>.json per requested week, starting with
// the week containing now. A failed login aborts; a failed week is logged and
// skipped.
func (e *Extractor) Run(parent context.Context, now time.Time) (Result, error) {
	var res Result

	mondays, err := timetable.WeekMondays(now, e.opts.Weeks)
	if err != nil {
		return res, fmt.Errorf("capture: week list: %w", err)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", e.opts.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if e.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(e.opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocOpts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer timeoutCancel()

	if err := e.login(ctx); err != nil {
		return res, err
	}

	for i, monday := range mondays {
		path := filepath.Join(e.opts.DataDir, timetable.WeekFileName(i+1))
		if err := e.captureWeek(ctx, monday, path); err != nil {
			appLog.Error("week capture failed", err, "week", i+1, "monday", monday.Format(model.DateLayout))
			res.Failed++
			if ctx.Err() != nil {
				break
			}
			continue
		}
		res.Paths = append(res.Paths, path)
	}

	appLog.Info("capture finished", "weeks", len(mondays), "written", len(res.Paths), "failed", res.Failed)
	return res, nil
}

func (e *Extractor) login(ctx context.Context) error {
	loginURL := LoginURL(e.opts.BaseURL, e.opts.School)
	appLog.Info("portal login", "url", loginURL, "user", e.opts.Username)

	var location string
	if err := chromedp.Run(ctx,
		chromedp.Navigate(loginURL),
		chromedp.Sleep(e.opts.Settle),
		chromedp.Location(&location),
	); err != nil {
		return errs.Wrap(err, errs.CodeExtraction, "open login page")
	}
	if schoolRedirected(e.opts.BaseURL, location) {
		return errs.New(errs.CodeConfig, fmt.Sprintf("school %q not found (redirected to %s)", e.opts.School, location))
	}

	userSel, err := waitFirst(ctx, usernameSelectors, fieldWait)
	if err != nil {
		return errs.Wrap(err, errs.CodeExtraction, "username field")
	}
	passSel, ok := presentFirst(ctx, passwordSelectors)
	if !ok {
		return errs.New(errs.CodeExtraction, "password field not found")
	}

	tasks := chromedp.Tasks{
		chromedp.Clear(userSel, chromedp.ByQuery),
		chromedp.SendKeys(userSel, e.opts.Username, chromedp.ByQuery),
		chromedp.Clear(passSel, chromedp.ByQuery),
		chromedp.SendKeys(passSel, e.opts.Password, chromedp.ByQuery),
	}
	if submitSel, ok := presentFirst(ctx, submitSelectors); ok {
		tasks = append(tasks, chromedp.Click(submitSel, chromedp.ByQuery))
	} else {
		tasks = append(tasks, chromedp.SendKeys(passSel, kb.Enter, chromedp.ByQuery))
	}
	tasks = append(tasks,
		chromedp.Sleep(e.opts.Settle),
		chromedp.Location(&location),
	)
	if err := chromedp.Run(ctx, tasks); err != nil {
		return errs.Wrap(err, errs.CodeExtraction, "submit login")
	}

	if StillOnLogin(location) {
		return errs.New(errs.CodeExtraction, "login failed: still on login page")
	}
	appLog.Info("portal login ok", "location", location)
	return nil
}

func (e *Extractor) captureWeek(ctx context.Context, monday time.Time, path string) error {
	weekURL := WeekURL(e.opts.BaseURL, monday)
	if err := chromedp.Run(ctx,
		chromedp.Navigate(weekURL),
		chromedp.Sleep(e.opts.Settle),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", weekURL, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.opts.CardWait)
	err := chromedp.Run(waitCtx, chromedp.WaitReady(lessonCardSelector, chromedp.ByQuery))
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		appLog.Info("no lesson cards rendered; empty week", "url", weekURL)
	}

	var doc timetable.Document
	if err := chromedp.Run(ctx, chromedp.Evaluate(dumpScript, &doc)); err != nil {
		return fmt.Errorf("dump %s: %w", weekURL, err)
	}
	if doc.Timetable.URL == "" {
		doc.Timetable.URL = weekURL
	}

	if err := timetable.WriteWeek(path, doc); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	appLog.Info("week captured", "path", path, "url", doc.Timetable.URL, "tokens", len(doc.Timetable.Lessons))
	return nil
}

// waitFirst returns the first selector that appears within wait, trying the
// candidates in order.
func waitFirst(ctx context.Context, selectors []string, wait time.Duration) (string, error) {
	for _, sel := range selectors {
		tctx, cancel := context.WithTimeout(ctx, wait)
		err := chromedp.Run(tctx, chromedp.WaitReady(sel, chromedp.ByQuery))
		cancel()
		if err == nil {
			return sel, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", errors.New("none of the candidate selectors matched")
}

// presentFirst returns the first selector that currently matches an element.
func presentFirst(ctx context.Context, selectors []string) (string, bool) {
	for _, sel := range selectors {
		var found bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf("document.querySelector(%q) !== null", sel), &found)); err != nil {
			continue
		}
		if found {
			return sel, true
		}
	}
	return "", false
}
