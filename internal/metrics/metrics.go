// Package metrics owns the Prometheus registry exposed on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LatencyBuckets are the request_latency_ms histogram bounds in milliseconds.
var LatencyBuckets = []float64{10, 50, 100, 200, 500, 1000, 5000}

// Registry holds courier's collectors on a dedicated prometheus.Registry so
// tests can build isolated instances.
type Registry struct {
	reg      *prometheus.Registry
	requests *prometheus.CounterVec
	webhooks *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// New creates a registry with the HTTP and webhook collectors registered.
// Go runtime and process collectors are included when withRuntime is true.
func New(withRuntime bool) *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route pattern and status code.",
		}, []string{"path", "status"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Webhook deliveries by processing result.",
		}, []string{"result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "request_latency_ms",
			Help:    "HTTP request latency in milliseconds.",
			Buckets: LatencyBuckets,
		}, []string{"path", "status"}),
	}
	r.reg.MustRegister(r.requests, r.webhooks, r.latency)
	if withRuntime {
		r.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// ObserveHTTP records one completed request.
func (r *Registry) ObserveHTTP(path string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	r.requests.WithLabelValues(path, code).Inc()
	r.latency.WithLabelValues(path, code).Observe(float64(elapsed) / float64(time.Millisecond))
}

// WebhookResult counts one webhook delivery outcome.
func (r *Registry) WebhookResult(outcome string) {
	r.webhooks.WithLabelValues(outcome).Inc()
}

// Handler serves the Prometheus text exposition for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry for in-process collection.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
