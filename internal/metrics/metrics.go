// Package metrics exposes Prometheus collectors for planning runs and background jobs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "restock"

// Metrics holds every collector on its own registry
type Metrics struct {
	registry *prometheus.Registry

	Runs              *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	Requests          *prometheus.CounterVec
	UnitsSent         prometheus.Counter
	Cooldown          prometheus.Counter
	QuotaFailures     prometheus.Counter
	Defects           *prometheus.CounterVec
	InTransitFinished prometheus.Counter
	CacheExpired      *prometheus.CounterVec
	JobRuns           *prometheus.CounterVec
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Planning runs by result.",
		}, []string{"result"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a planning run including dispatch.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_requests_total",
			Help:      "Transfer requests by dispatch outcome.",
		}, []string{"outcome"}),
		UnitsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_sent_total",
			Help:      "Units in accepted transfer requests.",
		}),
		Cooldown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_cooldown_seconds_total",
			Help:      "Time spent in the retry cooldown ladder.",
		}),
		QuotaFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_query_failures_total",
			Help:      "Quota queries that failed and were treated as zero.",
		}),
		Defects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_defects_total",
			Help:      "Skipped units of work by defect kind.",
		}, []string{"kind"}),
		InTransitFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "in_transit_finished_total",
			Help:      "In-transit records closed by delivery reconciliation.",
		}),
		CacheExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_expired_total",
			Help:      "Expired cache entries removed by table.",
		}, []string{"table"}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job executions by job and result.",
		}, []string{"job", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Runs, m.RunDuration, m.Requests, m.UnitsSent, m.Cooldown,
		m.QuotaFailures, m.Defects, m.InTransitFinished, m.CacheExpired, m.JobRuns,
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WatchRecorder exposes the persisted and dropped counts of the in-transit recorder
func (m *Metrics) WatchRecorder(recorded, dropped func() int) {
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorder_persisted_total",
			Help:      "Accepted transfers persisted as in transit.",
		}, func() float64 { return float64(recorded()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorder_dropped_total",
			Help:      "Accepted transfers that could not be persisted.",
		}, func() float64 { return float64(dropped()) }),
	)
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveJob counts one scheduled job execution
func (m *Metrics) ObserveJob(job string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.JobRuns.WithLabelValues(job, result).Inc()
}
