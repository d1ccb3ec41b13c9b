package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
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

	// OptimizerRuns counts finished runs by stop reason
	OptimizerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "drt_optimizer_runs_total", Help: "Finished optimisation runs by stop reason."},
		[]string{"stop"},
	)
	// OptimizerDuration records run durations in seconds
	OptimizerDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "drt_optimizer_run_duration_seconds", Help: "Optimisation run duration in seconds.", Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300}},
	)
	// OptimizerIterations counts ruin-and-recreate iterations over all runs
	OptimizerIterations = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "drt_optimizer_iterations_total", Help: "Ruin-and-recreate iterations."},
	)
	// OptimizerImprovements counts published new best solutions
	OptimizerImprovements = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "drt_optimizer_improvements_total", Help: "New best solutions published by workers."},
	)
	// RuinSelections counts ruin strategy draws
	RuinSelections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "drt_ruin_selections_total", Help: "Ruin strategy selections."},
		[]string{"strategy"},
	)
	// ConstraintRejections counts candidate insertions rejected per hard constraint
	ConstraintRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "drt_constraint_rejections_total", Help: "Candidate insertions rejected by hard constraint."},
		[]string{"constraint"},
	)

	// WebhookDeliveries counts run callback outcomes by event type and status
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
		Registry.MustRegister(OptimizerRuns)
		Registry.MustRegister(OptimizerDuration)
		Registry.MustRegister(OptimizerIterations)
		Registry.MustRegister(OptimizerImprovements)
		Registry.MustRegister(RuinSelections)
		Registry.MustRegister(ConstraintRejections)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
