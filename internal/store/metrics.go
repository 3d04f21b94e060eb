package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/tendermint/aquarius/internal/ddo"
)

const MetricsSubsystem = "store"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// The duration of accesses to the asset store labeled by which method
	// was called on the store.
	AccessDurationSeconds metrics.Histogram

	// Number of failed store calls, labeled by method.
	Errors metrics.Counter
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
		AccessDurationSeconds: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "access_duration_seconds",
			Help:      "The duration of accesses to the asset store labeled by which method was called on the store.",
			Buckets:   stdprometheus.ExponentialBuckets(0.0002, 5, 7),
		}, append(labels, "method")).With(labelsAndValues...),
		Errors: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "errors",
			Help:      "Number of failed store calls.",
		}, append(labels, "method")).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		AccessDurationSeconds: discard.NewHistogram(),
		Errors:                discard.NewCounter(),
	}
}

// instrumented records Metrics around every call of the wrapped Store.
type instrumented struct {
	Store
	metrics *Metrics
}

// WithMetrics wraps s so that every call is timed.
func WithMetrics(s Store, m *Metrics) Store {
	if m == nil {
		return s
	}
	return &instrumented{Store: s, metrics: m}
}

func (s *instrumented) observe(method string, start time.Time, err error) {
	s.metrics.AccessDurationSeconds.With("method", method).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.Errors.With("method", method).Add(1)
	}
}

func (s *instrumented) Get(ctx context.Context, did string) (d ddo.DDO, err error) {
	defer func(start time.Time) { s.observe("get", start, ignoreNotFound(err)) }(time.Now())
	return s.Store.Get(ctx, did)
}

func (s *instrumented) Put(ctx context.Context, d ddo.DDO) (err error) {
	defer func(start time.Time) { s.observe("put", start, err) }(time.Now())
	return s.Store.Put(ctx, d)
}

func (s *instrumented) Delete(ctx context.Context, did string) (err error) {
	defer func(start time.Time) { s.observe("delete", start, ignoreNotFound(err)) }(time.Now())
	return s.Store.Delete(ctx, did)
}

func (s *instrumented) Search(ctx context.Context, query []byte) (res json.RawMessage, err error) {
	defer func(start time.Time) { s.observe("search", start, err) }(time.Now())
	return s.Store.Search(ctx, query)
}

func (s *instrumented) ListByChain(ctx context.Context, chainID int64) (out []ddo.DDO, err error) {
	defer func(start time.Time) { s.observe("list_by_chain", start, err) }(time.Now())
	return s.Store.ListByChain(ctx, chainID)
}

func (s *instrumented) SetLastBlock(ctx context.Context, chainID, block int64) (err error) {
	defer func(start time.Time) { s.observe("set_last_block", start, err) }(time.Now())
	return s.Store.SetLastBlock(ctx, chainID, block)
}

// EnsureIndices forwards to the wrapped store when it creates indices.
func (s *instrumented) EnsureIndices(ctx context.Context) error {
	if ic, ok := s.Store.(indexCreator); ok {
		return ic.EnsureIndices(ctx)
	}
	return nil
}

func ignoreNotFound(err error) error {
	if isNotFound(err) {
		return nil
	}
	return err
}
