package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roundtable"

// Metrics exposes Prometheus collectors that report engine activity.
type Metrics struct {
	registry      *prometheus.Registry
	invocations   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	gatewayCalls  *prometheus.CounterVec
	sandboxRuns   *prometheus.CounterVec
	eventsDropped prometheus.Counter
	httpRequests  *prometheus.HistogramVec
}

// NewMetrics registers the engine collectors, plus the Go and process
// collectors, on a fresh registry.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Invocations by terminal outcome (success or an error code).",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Reasoning gateway invocations by role and outcome.",
		}, []string{"role", "outcome"}),
		sandboxRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_executions_total",
			Help:      "Sandbox executions by result status.",
		}, []string{"status"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber buffer was full.",
		}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}

	cs := []prometheus.Collector{
		m.invocations, m.stageDuration, m.gatewayCalls, m.sandboxRuns, m.eventsDropped, m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	var errs []error
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return m, nil
}

// MustNewMetrics is like NewMetrics but panics on registration errors.
func MustNewMetrics() *Metrics {
	m, err := NewMetrics()
	if err != nil {
		panic(err)
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveInvocation counts one finished invocation.
func (m *Metrics) ObserveInvocation(outcome string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(outcome).Inc()
}

// ObserveStage records the time spent in a stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveGatewayCall counts one gateway invocation.
func (m *Metrics) ObserveGatewayCall(role, outcome string) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(role, outcome).Inc()
}

// ObserveSandbox counts one sandbox execution.
func (m *Metrics) ObserveSandbox(status string) {
	if m == nil {
		return
	}
	m.sandboxRuns.WithLabelValues(status).Inc()
}

// AddEventsDropped counts events dropped by the event bus.
func (m *Metrics) AddEventsDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.eventsDropped.Add(float64(n))
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Observe(d.Seconds())
}
