// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the gateway.
type Metrics struct {
	Registry *prometheus.Registry

	routes map[string]bool

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	BackendDuration  *prometheus.HistogramVec
	BackendResponses *prometheus.CounterVec
	BackendInFlight  prometheus.Gauge
	ProxyErrors      *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors
// registered. extraRoutes are registered paths (such as the exposition path)
// that keep their own route label.
func New(extraRoutes ...string) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,
		routes:   map[string]bool{},

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spa_gateway_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "route"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spa_gateway_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "route"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spa_gateway_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		BackendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spa_gateway_backend_request_duration_seconds",
			Help:    "Time until backend response headers, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		BackendResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spa_gateway_backend_responses_total",
			Help: "Total backend responses by method and status code.",
		}, []string{"method", "status_code"}),

		BackendInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spa_gateway_backend_requests_in_flight",
			Help: "Number of backend requests holding a concurrency slot.",
		}),

		ProxyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spa_gateway_proxy_errors_total",
			Help: "Proxied requests that failed, by error kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.BackendDuration,
		m.BackendResponses,
		m.BackendInFlight,
		m.ProxyErrors,
	)

	for r := range knownRoutes {
		m.routes[r] = true
	}
	for _, r := range extraRoutes {
		if r != "" {
			m.routes[r] = true
		}
	}

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownRoutes lists the route label values every gateway uses.
var knownRoutes = map[string]bool{
	"api": true, "asset": true, "asset-miss": true, "spa-route": true,
	"/healthz": true, "/gateway/status": true,
}

// NormalizeRoute returns a bounded route label: a route class name, an
// operational endpoint or one of the extra routes given to New, else "other".
func (m *Metrics) NormalizeRoute(route string) string {
	if m.routes[route] {
		return route
	}
	return "other"
}
