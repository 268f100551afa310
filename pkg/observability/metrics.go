package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the node. Each instance owns its
// registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Protocol metrics
	MessagesReceived *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	ThreadStatus     *prometheus.CounterVec
	Generations      *prometheus.CounterVec
	GenerationTime   prometheus.Histogram

	// Resolution
	ResolverHits   prometheus.Counter
	ResolverMisses prometheus.Counter

	// Budget
	BudgetUsed prometheus.Gauge
	Admissions *prometheus.CounterVec

	// Store
	StoreWrites *prometheus.CounterVec

	// Control surface
	Queries   *prometheus.HistogramVec
	WSClients prometheus.Gauge
}

// NewMetrics creates a metrics set under the given namespace
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Inbound messages by type and verdict",
			},
			[]string{"type", "verdict"},
		),
		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Outbound messages by type and result",
			},
			[]string{"type", "result"},
		),
		ThreadStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "thread_transitions_total",
				Help:      "Thread status transitions by target status",
			},
			[]string{"status"},
		),
		Generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Essence engine invocations by result",
			},
			[]string{"result"},
		),
		GenerationTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Essence engine latency",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		ResolverHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "did_cache_hits_total",
				Help:      "Identity document cache hits",
			},
		),
		ResolverMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "did_cache_misses_total",
				Help:      "Identity document cache misses",
			},
		),
		BudgetUsed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "budget_used_units",
				Help:      "Units consumed in the current budget period",
			},
		),
		Admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capacity_admissions_total",
				Help:      "Capacity decisions by verdict",
			},
			[]string{"verdict"},
		),
		StoreWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_writes_total",
				Help:      "Essence store writes by file and result",
			},
			[]string{"file", "result"},
		),
		Queries: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Control surface query latency by query and result",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"query", "result"},
		),
		WSClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_clients",
				Help:      "Connected push channel clients",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.MessagesReceived,
		m.MessagesSent,
		m.ThreadStatus,
		m.Generations,
		m.GenerationTime,
		m.ResolverHits,
		m.ResolverMisses,
		m.BudgetUsed,
		m.Admissions,
		m.StoreWrites,
		m.Queries,
		m.WSClients,
	)

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The helpers below are nil-safe so components can run without metrics.

// ObserveReceived counts an inbound message
func (m *Metrics) ObserveReceived(msgType, verdict string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(msgType, verdict).Inc()
}

// ObserveSent counts an outbound message
func (m *Metrics) ObserveSent(msgType, result string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(msgType, result).Inc()
}

// ObserveTransition counts a thread entering status
func (m *Metrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.ThreadStatus.WithLabelValues(status).Inc()
}

// ObserveGeneration records one engine call
func (m *Metrics) ObserveGeneration(result string, seconds float64) {
	if m == nil {
		return
	}
	m.Generations.WithLabelValues(result).Inc()
	m.GenerationTime.Observe(seconds)
}

// ObserveResolver counts a cache hit or miss
func (m *Metrics) ObserveResolver(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.ResolverHits.Inc()
		return
	}
	m.ResolverMisses.Inc()
}

// ObserveAdmission counts a capacity decision and the resulting usage
func (m *Metrics) ObserveAdmission(verdict string, used int64) {
	if m == nil {
		return
	}
	m.Admissions.WithLabelValues(verdict).Inc()
	m.BudgetUsed.Set(float64(used))
}

// ObserveStoreWrite counts a store write
func (m *Metrics) ObserveStoreWrite(file string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.StoreWrites.WithLabelValues(file, result).Inc()
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(seconds)
}

// ObserveQuery records one control surface query
func (m *Metrics) ObserveQuery(queryType string, seconds float64, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Queries.WithLabelValues(queryType, result).Observe(seconds)
}

// SetWSClients reports the number of connected push clients
func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.WSClients.Set(float64(n))
}
