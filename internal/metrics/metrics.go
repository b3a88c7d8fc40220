// pattern: Imperative Shell

// Package metrics exposes Prometheus instruments for git invocations,
// snapshots, conflict checks and lifecycle mutations.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "karkinos"

// Conflict check outcomes.
const (
	CheckClear   = "clear"
	CheckBlocked = "blocked"
	CheckError   = "error"
)

// Metrics owns a private registry so that several engines (and tests) can
// coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	GitCommandsTotal   *prometheus.CounterVec
	GitCommandDuration *prometheus.HistogramVec

	SnapshotDuration prometheus.Histogram
	SnapshotEntries  prometheus.Gauge
	SnapshotErrors   prometheus.Gauge
	CacheHitsTotal   prometheus.Counter

	ConflictChecksTotal *prometheus.CounterVec
	MutationsTotal      *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		// Labels: command (e.g. "git rev-list"), outcome (ok, exit_N, error)
		GitCommandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "git",
			Name:      "commands_total",
			Help:      "External git invocations by subcommand and outcome",
		}, []string{"command", "outcome"}),
		GitCommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "git",
			Name:      "command_duration_seconds",
			Help:      "Duration of external git invocations in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"command"}),
		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "duration_seconds",
			Help:      "Duration of uncached snapshots in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		SnapshotEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "entries",
			Help:      "Worktrees in the most recent snapshot",
		}),
		SnapshotErrors: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "entry_errors",
			Help:      "Entries whose status could not be computed in the most recent snapshot",
		}),
		CacheHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "cache_hits_total",
			Help:      "Snapshots served from the response cache",
		}),
		// Labels: result (clear, blocked, error)
		ConflictChecksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conflict",
			Name:      "checks_total",
			Help:      "Conflict checks by result",
		}, []string{"result"}),
		// Labels: op (create, remove, cleanup, update), outcome (ok, error)
		MutationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "mutations_total",
			Help:      "Lifecycle mutations by operation and outcome",
		}, []string{"op", "outcome"}),
	}
}

// ObserveGit has the shape of gitcmd.Observer.
func (m *Metrics) ObserveGit(command string, exitCode int, elapsed time.Duration) {
	m.GitCommandsTotal.WithLabelValues(command, outcome(exitCode)).Inc()
	m.GitCommandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveSnapshot(elapsed time.Duration, entries, failed int) {
	m.SnapshotDuration.Observe(elapsed.Seconds())
	m.SnapshotEntries.Set(float64(entries))
	m.SnapshotErrors.Set(float64(failed))
}

func (m *Metrics) ObserveCacheHit() {
	m.CacheHitsTotal.Inc()
}

func (m *Metrics) ObserveConflictCheck(result string) {
	m.ConflictChecksTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveMutation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.MutationsTotal.WithLabelValues(op, result).Inc()
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func outcome(exitCode int) string {
	switch {
	case exitCode == 0:
		return "ok"
	case exitCode < 0:
		return "error"
	default:
		return "exit_" + strconv.Itoa(exitCode)
	}
}

