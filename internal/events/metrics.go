package events

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "events"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of handled event logs, labeled by event name and outcome.
	Events metrics.Counter

	// Last block committed to the store.
	LastBlock metrics.Gauge

	// Latest block reported by the node.
	ChainHeight metrics.Gauge

	// Time spent processing one block range.
	RangeDurationSeconds metrics.Histogram
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
		Events: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "processed",
			Help:      "Number of handled event logs.",
		}, append(labels, "event", "outcome")).With(labelsAndValues...),
		LastBlock: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "last_block",
			Help:      "Last block committed to the store.",
		}, labels).With(labelsAndValues...),
		ChainHeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "chain_height",
			Help:      "Latest block reported by the node.",
		}, labels).With(labelsAndValues...),
		RangeDurationSeconds: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "range_duration_seconds",
			Help:      "Time spent processing one block range.",
			Buckets:   stdprometheus.ExponentialBuckets(0.01, 4, 8),
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Events:               discard.NewCounter(),
		LastBlock:            discard.NewGauge(),
		ChainHeight:          discard.NewGauge(),
		RangeDurationSeconds: discard.NewHistogram(),
	}
}
