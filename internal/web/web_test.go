package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"untiscal/internal/config"
	"untiscal/internal/history"
	"untiscal/internal/metrics"
	"untiscal/internal/model"
	"untiscal/internal/timetable"
)

var berlin, _ = time.LoadLocation("Europe/Berlin")

// 2025-10-22 is a Wednesday.
var now = time.Date(2025, 10, 22, 14, 10, 0, 0, berlin)

func newTestServer(t *testing.T, auth *config.BasicAuthConfig) (*Server, *history.Store) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Data.Dir = filepath.Join(dir, "weekly_data")
	cfg.Data.Lessons = filepath.Join(dir, "lessons.json")
	cfg.BasicAuth = auth

	require.NoError(t, os.MkdirAll(cfg.Data.Dir, 0o755))
	for i := 1; i <= 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Data.Dir, timetable.WeekFileName(i)), []byte("{}"), 0o644))
	}
	require.NoError(t, timetable.WriteLessons(cfg.Data.Lessons, []model.Lesson{
		{Date: "2025-10-20", StartTime: "08:00", EndTime: "08:45", Subject: "Mat"},
		{Date: "2025-10-20", StartTime: "09:00", EndTime: "09:45", Subject: "Deu"},
	}))

	runs, err := history.Open("file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })

	s := NewServer(cfg, runs, metrics.New())
	s.now = func() time.Time { return now }
	return s, runs
}

func recordRun(t *testing.T, runs *history.Store, kind string, finished time.Time, created int) {
	t.Helper()
	require.NoError(t, runs.Record(context.Background(), &history.Run{
		Kind:       kind,
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
		Created:    created,
		Status:     history.StatusOK,
	}))
}

func TestHealthIsAlwaysOpen(t *testing.T) {
	s, _ := newTestServer(t, &config.BasicAuthConfig{Username: "u", Password: "p"})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestBasicAuth(t *testing.T) {
	s, _ := newTestServer(t, &config.BasicAuthConfig{Username: "u", Password: "p"})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.SetBasicAuth("u", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.SetBasicAuth("u", "p")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEmptyCredentialsDisableAuth(t *testing.T) {
	s, _ := newTestServer(t, &config.BasicAuthConfig{Username: "u"})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatus(t *testing.T) {
	s, runs := newTestServer(t, nil)
	recordRun(t, runs, history.KindSync, now.AddDate(0, 0, -10), 9)
	recordRun(t, runs, history.KindSync, now.AddDate(0, 0, -2), 4)
	recordRun(t, runs, history.KindRun, now.Add(-2*time.Hour), 1)
	recordRun(t, runs, history.KindRun, now.Add(-time.Hour), 0)
	recordRun(t, runs, history.KindCleanup, now.Add(-30*time.Minute), 0)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))

	assert.Equal(t, 3, st.WeeksExtracted)
	assert.Equal(t, 2, st.TotalLessons)

	require.NotNil(t, st.LastSync)
	assert.True(t, st.LastSync.Equal(now.Add(-time.Hour)))

	require.NotNil(t, st.NextSync)
	assert.True(t, st.NextSync.Equal(time.Date(2025, 10, 22, 14, 30, 0, 0, berlin)))

	require.Len(t, st.ChangesToday, 1)
	assert.Equal(t, 1, st.ChangesToday[0].Created)
	assert.Equal(t, "12:10:00", st.ChangesToday[0].Time)

	require.Len(t, st.ChangesThisWeek, 2)
	assert.Equal(t, "2025-10-20", st.ChangesThisWeek[0].Date)
}

func TestStatusWithoutHistory(t *testing.T) {
	s, _ := newTestServer(t, nil)
	s.runs = nil

	st := s.Collect(context.Background())
	assert.Nil(t, st.LastSync)
	assert.NotNil(t, st.ChangesToday)
	assert.Equal(t, 3, st.WeeksExtracted)
}

func TestDashboard(t *testing.T) {
	s, runs := newTestServer(t, nil)
	recordRun(t, runs, history.KindRun, now.Add(-time.Hour), 5)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "2025-10-22 13:10")
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	s.metrics.ObserveLesson("created")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "untiscal_lessons_total")
}

func TestRootRedirectsToDashboard(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
