package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application.
// Each collector owns its registry so tests can create as many as they like.
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Model gateway metrics
	GatewayAttempts    *prometheus.CounterVec
	GatewayInvocations *prometheus.CounterVec
	GatewayDuration    *prometheus.HistogramVec
	GatewayInFlight    prometheus.Gauge

	// Assistant pipeline metrics
	AgentOutcomes *prometheus.CounterVec
	DecodeTiers   *prometheus.CounterVec

	// Commit metrics
	Commits        *prometheus.CounterVec
	CommitDuration *prometheus.HistogramVec
	AuditRecords   prometheus.Counter
}

// NewCollector creates a collector with every metric under namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		GatewayAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "attempts_total",
			Help:      "Provider attempts by outcome",
		}, []string{"provider", "outcome"}),
		GatewayInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "invocations_total",
			Help:      "Gateway invocations by final result",
		}, []string{"provider", "result"}),
		GatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "invocation_duration_seconds",
			Help:      "Time from admission to final result, retries included",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64, 128},
		}, []string{"provider"}),
		GatewayInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "in_flight",
			Help:      "Invocations currently holding an admission slot",
		}),
		AgentOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agents",
			Name:      "outcomes_total",
			Help:      "Assistant operation outcomes",
		}, []string{"operation", "outcome"}),
		DecodeTiers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agents",
			Name:      "decode_tier_total",
			Help:      "Which decoder tier accepted model output",
		}, []string{"tier"}),
		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "total",
			Help:      "Commits by kind and result",
		}, []string{"kind", "result"}),
		CommitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "duration_seconds",
			Help:      "Commit duration including lock wait",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		AuditRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "audit_records_total",
			Help:      "Audit records written",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.HTTPRequests, c.HTTPDuration,
		c.GatewayAttempts, c.GatewayInvocations, c.GatewayDuration, c.GatewayInFlight,
		c.AgentOutcomes, c.DecodeTiers,
		c.Commits, c.CommitDuration, c.AuditRecords,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveHTTP records one handled request.
func (c *Collector) ObserveHTTP(method, route, status string, d time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
