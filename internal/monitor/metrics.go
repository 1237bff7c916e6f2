package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsNamespace prefixes every exported series.
const metricsNamespace = "triad"

type metrics struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	jobResults    *prometheus.CounterVec
	stuckJobs     prometheus.Counter
	alerts        *prometheus.CounterVec
	uploads       *prometheus.GaugeVec
	merges        *prometheus.GaugeVec
	jobs          *prometheus.GaugeVec
	diskFree      prometheus.Gauge
	errorRate     prometheus.Gauge
}

// newMetrics builds collectors on a private registry.
func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of merge pipeline stages.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		}, []string{"stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stage_failures_total",
			Help:      "Stage executions that ended in error, by stage and error code.",
		}, []string{"stage", "code"}),
		jobResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "merge_jobs_total",
			Help:      "Finished merge job attempts by result.",
		}, []string{"result"}),
		stuckJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stuck_jobs_total",
			Help:      "Jobs forced to failed by the stuck-job detector.",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "alerts_total",
			Help:      "Alerts raised by name, including deduplicated repeats.",
		}, []string{"alert"}),
		uploads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "upload_sessions",
			Help:      "Upload sessions by status.",
		}, []string{"status"}),
		merges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "merge_sessions",
			Help:      "Merge sessions by status.",
		}, []string{"status"}),
		jobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "merge_jobs",
			Help:      "Merge job attempts by status.",
		}, []string{"status"}),
		diskFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "staging_free_bytes",
			Help:      "Free bytes on the staging filesystem.",
		}),
		errorRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "job_error_rate",
			Help:      "Failed fraction of job attempts inside the error-rate window.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.stageDuration,
		m.stageFailures,
		m.jobResults,
		m.stuckJobs,
		m.alerts,
		m.uploads,
		m.merges,
		m.jobs,
		m.diskFree,
		m.errorRate,
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
