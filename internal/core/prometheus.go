package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder exports service calls as a counter by operation
// and outcome plus a latency histogram by operation.
type PrometheusMetricsRecorder struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder registers the collectors with reg. An empty
// namespace defaults to "plasticatlas".
func NewPrometheusMetricsRecorder(reg prometheus.Registerer, namespace string) (*PrometheusMetricsRecorder, error) {
	return newPrometheusRecorder(reg, namespace, "service", "Service calls by operation and outcome (success, not_found, invalid, error)")
}

// NewPrometheusHTTPRecorder registers <namespace>_http_calls_total and
// <namespace>_http_call_duration_seconds for the API middleware, where the
// operation label is "METHOD /route/template".
func NewPrometheusHTTPRecorder(reg prometheus.Registerer, namespace string) (*PrometheusMetricsRecorder, error) {
	return newPrometheusRecorder(reg, namespace, "http", "HTTP requests by route and outcome")
}

func newPrometheusRecorder(reg prometheus.Registerer, namespace, subsystem, help string) (*PrometheusMetricsRecorder, error) {
	if namespace == "" {
		namespace = "plasticatlas"
	}
	r := &PrometheusMetricsRecorder{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "calls_total",
				Help:      help,
			},
			[]string{"operation", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "call_duration_seconds",
				Help:      "Call latency by operation",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
			},
			[]string{"operation", "result"},
		),
	}
	for _, c := range []prometheus.Collector{r.calls, r.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, outcome Outcome, duration time.Duration) {
	result := "error"
	if outcome.Success() {
		result = "success"
	}
	r.calls.WithLabelValues(operation, string(outcome)).Inc()
	r.latency.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// MultiRecorder fans an observation out to several recorders.
type MultiRecorder []MetricsRecorder

// Observe implements MetricsRecorder.
func (m MultiRecorder) Observe(ctx context.Context, operation string, outcome Outcome, duration time.Duration) {
	for _, r := range m {
		r.Observe(ctx, operation, outcome, duration)
	}
}
