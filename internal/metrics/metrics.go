package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Solves counts finished solves by solver status
	Solves = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pmedians_solves_total", Help: "Finished solves by status."},
		[]string{"status"},
	)
	// SolveDuration is the wall-clock time spent in the solver
	SolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "pmedians_solve_duration_seconds", Help: "Solver wall-clock time in seconds.", Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300}},
		[]string{"status"},
	)
	// SolveNodes is the number of branch-and-bound nodes per solve
	SolveNodes = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "pmedians_solve_nodes", Help: "Branch-and-bound nodes per solve.", Buckets: prometheus.ExponentialBuckets(1, 4, 10)},
	)
	// ModelSize is the size of the last model built
	ModelSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "pmedians_model_size", Help: "Variables and constraints of the last model built."},
		[]string{"kind"},
	)
	// SolveGap is the relative gap of the last solve that found a solution
	SolveGap = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "pmedians_solve_gap", Help: "Relative optimality gap of the last solve with a solution."},
	)
	// RunsInFlight is the number of solves currently running
	RunsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "pmedians_runs_in_flight", Help: "Solves currently running."},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Solves)
		Registry.MustRegister(SolveDuration)
		Registry.MustRegister(SolveNodes)
		Registry.MustRegister(ModelSize)
		Registry.MustRegister(SolveGap)
		Registry.MustRegister(RunsInFlight)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
