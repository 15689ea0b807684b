// Package metrics exposes registry activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jobpool/internal/jobs"
)

const namespace = "jobpool"

// Cycle outcomes used as the "outcome" label of jobpool_cycles_total.
const (
	CycleCompleted   = "completed"
	CycleFailed      = "failed"
	CycleCoolingDown = "cooling_down"
)

// Metrics holds the collectors on a private registry, so several instances
// can live in one process (tests).
type Metrics struct {
	reg *prometheus.Registry

	cycles      *prometheus.CounterVec
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	lastCycle   prometheus.Gauge
	running     prometheus.Gauge
	remaining   prometheus.Gauge

	mu      sync.Mutex
	started map[string]struct{}
}

// New registers the collectors. Go runtime and process collectors are
// included.
func New() *Metrics {
	m := &Metrics{
		reg:     prometheus.NewRegistry(),
		started: make(map[string]struct{}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Run calls by outcome.",
		}, []string{"outcome"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Job decisions by job and status.",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of executed jobs.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time of the last cycle that passed the pool gate.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Jobs currently executing.",
		}),
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_cooldown_remaining_seconds",
			Help:      "Remaining pool cooldown reported by the last skipped cycle.",
		}),
	}
	m.reg.MustRegister(
		m.cycles, m.jobRuns, m.jobDuration, m.lastCycle, m.running, m.remaining,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Hooks returns registry callbacks feeding the collectors.
func (m *Metrics) Hooks() jobs.Hooks {
	return jobs.Hooks{
		OnRunSkipped: func(remaining time.Duration) {
			m.cycles.WithLabelValues(CycleCoolingDown).Inc()
			m.remaining.Set(remaining.Seconds())
		},
		OnJobStart: func(name string) {
			m.mu.Lock()
			m.started[name] = struct{}{}
			m.mu.Unlock()
			m.running.Inc()
		},
		OnJobFinish: func(name string, status jobs.Status, d time.Duration, _ error) {
			m.jobRuns.WithLabelValues(name, status.String()).Inc()

			// Only entries that reached OnJobStart were executed.
			m.mu.Lock()
			_, ran := m.started[name]
			delete(m.started, name)
			m.mu.Unlock()
			if ran {
				m.running.Dec()
				m.jobDuration.WithLabelValues(name).Observe(d.Seconds())
			}
		},
		OnRunFinish: func(res jobs.Result) {
			outcome := CycleCompleted
			if len(res.Failed()) > 0 {
				outcome = CycleFailed
			}
			m.cycles.WithLabelValues(outcome).Inc()
			m.lastCycle.Set(float64(res.StartedAt.Unix()))
			m.remaining.Set(0)
		},
	}
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}
