package chain

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "chain"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Duration of node JSON-RPC requests, labeled by method.
	RequestDuration metrics.Histogram
	// Number of failed node JSON-RPC requests, labeled by method.
	RequestErrors metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		RequestDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "request_duration_seconds",
			Help:      "Duration of node JSON-RPC requests.",
			Buckets:   stdprometheus.ExponentialBuckets(0.005, 2, 12),
		}, append(labels, "method")).With(labelsAndValues...),
		RequestErrors: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "request_errors",
			Help:      "Number of failed node JSON-RPC requests.",
		}, append(labels, "method")).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		RequestDuration: discard.NewHistogram(),
		RequestErrors:   discard.NewCounter(),
	}
}
