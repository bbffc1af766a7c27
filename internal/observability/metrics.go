package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for Sanduku.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Sandbox evaluation metrics.
	SandboxExecutionsTotal   *prometheus.CounterVec
	SandboxExecutionDuration prometheus.Histogram
	OutputTruncatedTotal     prometheus.Counter

	// Session lifecycle metrics.
	SessionsActive       prometheus.Gauge
	SessionsCreatedTotal prometheus.Counter

	// Delegate model metrics.
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		SandboxExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total sandbox code executions.",
		}, []string{"status"}),

		SandboxExecutionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sanduku",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Sandbox code execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),

		OutputTruncatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "sandbox",
			Name:      "output_truncated_total",
			Help:      "Executions whose captured output was truncated.",
		}),

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sanduku",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of live sandbox sessions.",
		}),

		SessionsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Total sandbox sessions created.",
		}),

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total delegate model requests.",
		}, []string{"provider", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sanduku",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Delegate model request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total delegate model tokens consumed.",
		}, []string{"provider", "direction"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sanduku",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sanduku",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.SandboxExecutionsTotal,
		m.SandboxExecutionDuration,
		m.OutputTruncatedTotal,
		m.SessionsActive,
		m.SessionsCreatedTotal,
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}
