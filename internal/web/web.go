package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"untiscal/internal/config"
	"untiscal/internal/history"
	appLog "untiscal/internal/log"
	"untiscal/internal/metrics"
	"untiscal/internal/model"
	"untiscal/internal/timetable"
)

// RunSource is the part of the run history the status endpoints read.
type RunSource interface {
	Latest(ctx context.Context, kinds ...string) (*history.Run, error)
	Since(ctx context.Context, t time.Time) ([]history.Run, error)
}

// Server serves the sync status as JSON, as an HTML dashboard and as
// Prometheus metrics.
type Server struct {
	cfg     *config.Config
	runs    RunSource
	metrics *metrics.Metrics
	mux     *http.ServeMux
	now     func() time.Time
}

// NewServer constructs a new Server. runs and m may be nil.
func NewServer(cfg *config.Config, runs RunSource, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		runs:    runs,
		metrics: m,
		mux:     http.NewServeMux(),
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="untiscal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func StartServer(ctx context.Context, cfg *config.Config, runs RunSource, m *metrics.Metrics) error {
	s := NewServer(cfg, runs, m)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		appLog.Info("stopping HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/dashboard", s.handleDashboard)
	s.mux.Handle("/metrics", s.metrics.Handler())
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/dashboard", http.StatusFound)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Change is one run that created events.
type Change struct {
	Date    string `json:"date"`
	Time    string `json:"time"`
	Created int    `json:"created"`
}

// Status is the JSON shape of /status.
type Status struct {
	CurrentTime     time.Time  `json:"current_time"`
	LastSync        *time.Time `json:"last_sync"`
	LastStatus      string     `json:"last_status,omitempty"`
	NextSync        *time.Time `json:"next_sync"`
	WeeksExtracted  int        `json:"weeks_extracted"`
	TotalLessons    int        `json:"total_lessons"`
	ChangesToday    []Change   `json:"changes_today"`
	ChangesThisWeek []Change   `json:"changes_this_week"`
}

// Collect assembles the current status. Missing inputs (no runs yet, no
// artifact) leave the corresponding fields empty.
func (s *Server) Collect(ctx context.Context) Status {
	loc := resolveLocationOrLocal(s.cfg.Timezone)
	now := s.now().In(loc)

	st := Status{
		CurrentTime:     now,
		ChangesToday:    []Change{},
		ChangesThisWeek: []Change{},
	}

	if sched, err := cron.ParseStandard(s.cfg.Schedule); err == nil {
		next := sched.Next(now)
		st.NextSync = &next
	} else {
		appLog.Error("invalid schedule", err, "schedule", s.cfg.Schedule)
	}

	if paths, err := timetable.WeekFiles(s.cfg.Data.Dir); err == nil {
		st.WeeksExtracted = len(paths)
	}
	if lessons, err := timetable.ReadLessons(s.cfg.Data.Lessons); err == nil {
		st.TotalLessons = len(lessons)
	}

	if s.runs == nil {
		return st
	}

	if last, err := s.runs.Latest(ctx, history.KindSync, history.KindRun); err == nil {
		t := last.FinishedAt.In(loc)
		st.LastSync = &t
		st.LastStatus = last.Status
	} else if !errors.Is(err, history.ErrNotFound) {
		appLog.Error("status: latest run lookup failed", err)
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	weekAgo := today.AddDate(0, 0, -7)
	runs, err := s.runs.Since(ctx, weekAgo)
	if err != nil {
		appLog.Error("status: run history lookup failed", err)
		return st
	}
	for _, r := range runs {
		if r.Created == 0 || (r.Kind != history.KindSync && r.Kind != history.KindRun) {
			continue
		}
		finished := r.FinishedAt.In(loc)
		c := Change{
			Date:    finished.Format(model.DateLayout),
			Time:    finished.Format("15:04:05"),
			Created: r.Created,
		}
		st.ChangesThisWeek = append(st.ChangesThisWeek, c)
		if !finished.Before(today) {
			st.ChangesToday = append(st.ChangesToday, c)
		}
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.Collect(r.Context()))
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	st := s.Collect(r.Context())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTemplate.Execute(w, st); err != nil {
		appLog.Error("dashboard render failed", err)
	}
}

var dashboardTemplate = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"fmtTime": func(t *time.Time) string {
		if t == nil {
			return "never"
		}
		return t.Format("2006-01-02 15:04")
	},
}).Parse(`<!doctype html>
<html lang="de">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="60">
<title>untiscal</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; color: #222; }
.cards { display: flex; gap: 1rem; flex-wrap: wrap; }
.card { border: 1px solid #ddd; border-radius: 8px; padding: 1rem 1.5rem; min-width: 10rem; }
.card b { display: block; font-size: 1.6rem; }
table { border-collapse: collapse; margin-top: 1rem; }
td, th { padding: .3rem .8rem; border-bottom: 1px solid #eee; text-align: left; }
</style>
</head>
<body>
<h1>Stundenplan-Sync</h1>
<div class="cards">
  <div class="card">Letzter Sync<b>{{fmtTime .LastSync}}</b>{{.LastStatus}}</div>
  <div class="card">Nächster Sync<b>{{fmtTime .NextSync}}</b></div>
  <div class="card">Wochen<b>{{.WeeksExtracted}}</b></div>
  <div class="card">Stunden<b>{{.TotalLessons}}</b></div>
</div>
<h2>Änderungen heute</h2>
{{if .ChangesToday}}<table><tr><th>Zeit</th><th>Neu</th></tr>
{{range .ChangesToday}}<tr><td>{{.Time}}</td><td>{{.Created}}</td></tr>
{{end}}</table>{{else}}<p>Keine Änderungen heute.</p>{{end}}
<h2>Diese Woche</h2>
{{if .ChangesThisWeek}}<table><tr><th>Datum</th><th>Zeit</th><th>Neu</th></tr>
{{range .ChangesThisWeek}}<tr><td>{{.Date}}</td><td>{{.Time}}</td><td>{{.Created}}</td></tr>
{{end}}</table>{{else}}<p>Keine Änderungen diese Woche.</p>{{end}}
<p><small>Stand {{.CurrentTime.Format "2006-01-02 15:04:05"}}</small></p>
</body>
</html>
`))

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
