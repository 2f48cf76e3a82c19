package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API and drain flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	jobsEnqueuedTotal   *prometheus.CounterVec
	jobsClaimedTotal    prometheus.Counter
	jobsSentTotal       *prometheus.CounterVec
	jobsFailedTotal     *prometheus.CounterVec
	retryScheduledTotal *prometheus.CounterVec
	guardMissTotal      *prometheus.CounterVec
	deliveryDuration    *prometheus.HistogramVec
	drainDuration       prometheus.Histogram
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notify_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		jobsEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "jobs_enqueued_total",
				Help:      "Total number of notification jobs created, by event code.",
			},
			[]string{"event"},
		),
		jobsClaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "jobs_claimed_total",
				Help:      "Total number of jobs transitioned to processing by a drain run.",
			},
		),
		jobsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "jobs_sent_total",
				Help:      "Total number of jobs delivered successfully, by event code.",
			},
			[]string{"event"},
		),
		jobsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "jobs_failed_total",
				Help:      "Total number of jobs that ended a delivery attempt in failure, by event code and terminality.",
			},
			[]string{"event", "terminal"},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "retry_scheduled_total",
				Help:      "Total number of jobs re-queued with a backoff delay, by event code.",
			},
			[]string{"event"},
		),
		guardMissTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "status_guard_misses_total",
				Help:      "Total number of resolution updates skipped because the row left PROCESSING outside the drain run, by operation.",
			},
			[]string{"operation"},
		),
		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notify_engine",
				Name:      "delivery_duration_seconds",
				Help:      "SMTP delivery duration in seconds grouped by event code.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"event"},
		),
		drainDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "notify_engine",
				Name:      "drain_duration_seconds",
				Help:      "Duration of a full drain run in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.jobsEnqueuedTotal,
		m.jobsClaimedTotal,
		m.jobsSentTotal,
		m.jobsFailedTotal,
		m.retryScheduledTotal,
		m.guardMissTotal,
		m.deliveryDuration,
		m.drainDuration,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncJobsEnqueued(event string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.jobsEnqueuedTotal.WithLabelValues(normalizeEvent(event)).Add(float64(count))
}

func (m *Metrics) IncJobsClaimed(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.jobsClaimedTotal.Add(float64(count))
}

func (m *Metrics) IncJobSent(event string) {
	if m == nil {
		return
	}
	m.jobsSentTotal.WithLabelValues(normalizeEvent(event)).Inc()
}

func (m *Metrics) IncJobFailed(event string, terminal bool) {
	if m == nil {
		return
	}
	m.jobsFailedTotal.WithLabelValues(normalizeEvent(event), strconv.FormatBool(terminal)).Inc()
}

func (m *Metrics) IncRetryScheduled(event string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeEvent(event)).Inc()
}

func (m *Metrics) IncGuardMiss(operation string) {
	if m == nil {
		return
	}
	m.guardMissTotal.WithLabelValues(normalizeEvent(operation)).Inc()
}

func (m *Metrics) ObserveDeliveryDuration(event string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.deliveryDuration.WithLabelValues(normalizeEvent(event)).Observe(seconds)
}

func (m *Metrics) ObserveDrainDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.drainDuration.Observe(seconds)
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeEvent(event string) string {
	normalized := strings.ToLower(strings.TrimSpace(event))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
