package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "herald"

// Metrics is the Prometheus recorder for every herald component. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	notifications  *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	activeChannels prometheus.Gauge
	confirmations  *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	evaluation     *prometheus.HistogramVec
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobSkipped     *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
}

// MustNewMetrics registers all collectors on reg (the default registerer when
// nil) and panics on duplicate registration.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "notifications_total",
			Help:      "Reminder notifications sent, by escalation tier.",
		}, []string{"tier"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "deliveries_total",
			Help:      "Per-channel event deliveries, by event type and result.",
		}, []string{"event", "result"}),
		activeChannels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "active_channels",
			Help:      "Currently connected push channels.",
		}),
		confirmations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "confirmations_total",
			Help:      "Reminder confirmations, by outcome.",
		}, []string{"outcome"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "cache_lookups_total",
			Help:      "Reminder list cache lookups, by result.",
		}, []string{"result"}),
		evaluation: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "duration_seconds",
			Help:      "Time spent evaluating one owner's reminders of a type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		jobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduler job runs, by job and status.",
		}, []string{"job", "status"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Scheduler job run latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		jobSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_skipped_total",
			Help:      "Ticks skipped because the previous run was still active.",
		}, []string{"job"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) ObserveNotification(tier string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(tier).Inc()
}

func (m *Metrics) ObserveConfirmation(outcome string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveEvaluation(reminderType string, took time.Duration) {
	if m == nil {
		return
	}
	m.evaluation.WithLabelValues(reminderType).Observe(took.Seconds())
}

func (m *Metrics) ObserveDelivery(eventType string, delivered bool) {
	if m == nil {
		return
	}
	result := "failed"
	if delivered {
		result = "delivered"
	}
	m.deliveries.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) SetActiveChannels(n int) {
	if m == nil {
		return
	}
	m.activeChannels.Set(float64(n))
}

func (m *Metrics) ObserveJobRun(jobID, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(jobID, status).Inc()
	m.jobDuration.WithLabelValues(jobID).Observe(took.Seconds())
}

func (m *Metrics) ObserveJobSkipped(jobID string) {
	if m == nil {
		return
	}
	m.jobSkipped.WithLabelValues(jobID).Inc()
}

// ObserveHTTPRequest records one served request. route is the matched route
// pattern, not the raw path.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(took.Seconds())
}
