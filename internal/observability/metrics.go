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

const namespace = "deaddrop"

// Metrics stores Prometheus collectors used by the API, poller and delivery workers.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	attemptsTotal       *prometheus.CounterVec
	attemptDuration     *prometheus.HistogramVec
	notesDeliveredTotal prometheus.Counter
	notesDeadTotal      prometheus.Counter
	notesReplayedTotal  prometheus.Counter
	staleObligations    prometheus.Counter
	retryScheduledTotal prometheus.Counter
	workerInflight      prometheus.Gauge
	pollEnqueuedTotal   prometheus.Counter
	pollErrorsTotal     prometheus.Counter
	queueDepth          *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delivery_attempts_total",
				Help:      "Total number of webhook delivery attempts by outcome.",
			},
			[]string{"outcome"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_attempt_duration_seconds",
				Help:      "Webhook delivery attempt duration in seconds by outcome.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"outcome"},
		),
		notesDeliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notes_delivered_total",
			Help:      "Total number of notes delivered.",
		}),
		notesDeadTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notes_dead_total",
			Help:      "Total number of notes that exhausted their attempts.",
		}),
		notesReplayedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notes_replayed_total",
			Help:      "Total number of notes requeued by an operator.",
		}),
		staleObligations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_obligations_total",
			Help:      "Total number of dequeued obligations discarded because the note was no longer pending.",
		}),
		retryScheduledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_scheduled_total",
			Help:      "Total number of delivery retries scheduled.",
		}),
		workerInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_inflight",
			Help:      "Current number of obligations being processed.",
		}),
		pollEnqueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_enqueued_total",
			Help:      "Total number of obligations admitted by the poller.",
		}),
		pollErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Total number of failed poll cycles.",
		}),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Obligations in the delivery queue by state.",
			},
			[]string{"state"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.attemptsTotal,
		m.attemptDuration,
		m.notesDeliveredTotal,
		m.notesDeadTotal,
		m.notesReplayedTotal,
		m.staleObligations,
		m.retryScheduledTotal,
		m.workerInflight,
		m.pollEnqueuedTotal,
		m.pollErrorsTotal,
		m.queueDepth,
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
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) ObserveAttempt(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	label := normalizeLabel(outcome)
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.attemptsTotal.WithLabelValues(label).Inc()
	m.attemptDuration.WithLabelValues(label).Observe(seconds)
}

func (m *Metrics) IncDelivered() {
	if m == nil {
		return
	}
	m.notesDeliveredTotal.Inc()
}

func (m *Metrics) IncDead() {
	if m == nil {
		return
	}
	m.notesDeadTotal.Inc()
}

func (m *Metrics) IncReplayed() {
	if m == nil {
		return
	}
	m.notesReplayedTotal.Inc()
}

func (m *Metrics) IncStaleObligation() {
	if m == nil {
		return
	}
	m.staleObligations.Inc()
}

func (m *Metrics) IncRetryScheduled() {
	if m == nil {
		return
	}
	m.retryScheduledTotal.Inc()
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) AddPollEnqueued(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pollEnqueuedTotal.Add(float64(n))
}

func (m *Metrics) IncPollError() {
	if m == nil {
		return
	}
	m.pollErrorsTotal.Inc()
}

func (m *Metrics) SetQueueDepth(ready, inflight int64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues("ready").Set(float64(ready))
	m.queueDepth.WithLabelValues("inflight").Set(float64(inflight))
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

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
