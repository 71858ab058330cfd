// Package metrics exposes sync outcomes as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	lessons      *prometheus.CounterVec
	runs         *prometheus.CounterVec
	lastRun      prometheus.Gauge
	runDuration  prometheus.Histogram
	weeksCapture prometheus.Gauge
}

// New registers the collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	lessons := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "untiscal_lessons_total",
		Help: "Lessons processed by sync, by outcome",
	}, []string{"outcome"})

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "untiscal_runs_total",
		Help: "Completed runs, by status",
	}, []string{"status"})

	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "untiscal_last_run_timestamp_seconds",
		Help: "Unix time the last run finished",
	})

	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "untiscal_run_duration_seconds",
		Help:    "Duration of runs in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	})

	weeks := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "untiscal_weeks_captured",
		Help: "Week dumps written by the last capture",
	})

	registry.MustRegister(lessons, runs, lastRun, runDuration, weeks)

	return &Metrics{
		registry:     registry,
		handler:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		lessons:      lessons,
		runs:         runs,
		lastRun:      lastRun,
		runDuration:  runDuration,
		weeksCapture: weeks,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveLesson counts one lesson outcome ("created", "duplicate", "failed").
func (m *Metrics) ObserveLesson(outcome string) {
	if m == nil {
		return
	}
	m.lessons.WithLabelValues(outcome).Inc()
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(status string, started, finished time.Time) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	m.lastRun.Set(float64(finished.Unix()))
	m.runDuration.Observe(finished.Sub(started).Seconds())
}

// ObserveCapture records how many week dumps were written.
func (m *Metrics) ObserveCapture(weeks int) {
	if m == nil {
		return
	}
	m.weeksCapture.Set(float64(weeks))
}
