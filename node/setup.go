package node

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tendermint/aquarius/config"
	"github.com/tendermint/aquarius/internal/audit"
	"github.com/tendermint/aquarius/internal/chain"
	"github.com/tendermint/aquarius/internal/events"
	"github.com/tendermint/aquarius/internal/purgatory"
	"github.com/tendermint/aquarius/internal/signer"
	"github.com/tendermint/aquarius/internal/store"
	"github.com/tendermint/aquarius/libs/log"

	// audit sinks register themselves
	_ "github.com/tendermint/aquarius/internal/audit/null"
	_ "github.com/tendermint/aquarius/internal/audit/psql"
)

// metricsProvider returns the metrics of every package. Prometheus
// collectors are only created when instrumentation is enabled.
type metricsProvider struct {
	store  func() *store.Metrics
	chain  func() *chain.Metrics
	events func(chainID int64) *events.Metrics
}

func defaultMetricsProvider(cfg *config.InstrumentationConfig) metricsProvider {
	if !cfg.Prometheus {
		return nopMetricsProvider()
	}
	return metricsProvider{
		store: func() *store.Metrics { return store.PrometheusMetrics(cfg.Namespace) },
		chain: func() *chain.Metrics { return chain.PrometheusMetrics(cfg.Namespace) },
		events: func(chainID int64) *events.Metrics {
			return events.PrometheusMetrics(cfg.Namespace, "chain_id", fmt.Sprint(chainID))
		},
	}
}

func nopMetricsProvider() metricsProvider {
	return metricsProvider{
		store:  store.NopMetrics,
		chain:  chain.NopMetrics,
		events: func(int64) *events.Metrics { return events.NopMetrics() },
	}
}

// createStore opens the configured asset store.
func createStore(cfg *config.Config, m *store.Metrics) (store.Store, error) {
	s, err := store.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}
	return store.WithMetrics(s, m), nil
}

// rpcHTTPURL turns a websocket endpoint into the matching HTTP one; the
// JSON-RPC client only speaks HTTP.
func rpcHTTPURL(url string) string {
	switch {
	case strings.HasPrefix(url, "ws://"):
		return "http://" + strings.TrimPrefix(url, "ws://")
	case strings.HasPrefix(url, "wss://"):
		return "https://" + strings.TrimPrefix(url, "wss://")
	}
	return url
}

// waitForChainID asks the node for its chain id until it answers or ctx is
// done. The node may still be starting.
func waitForChainID(ctx context.Context, node chain.Node, interval time.Duration, logger log.Logger) (int64, error) {
	for {
		id, err := node.ChainID(ctx)
		if err == nil {
			return id, nil
		}
		logger.Info("waiting for the chain node", "err", err)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func loadAddresses(cfg *config.ChainConfig, logger log.Logger) chain.Addresses {
	if cfg.AddressFile == "" {
		return nil
	}
	addrs, err := chain.LoadAddresses(cfg.AddressFile)
	if err != nil {
		logger.Error("can't read the address file, start block defaults to 0", "path", cfg.AddressFile, "err", err)
		return nil
	}
	return addrs
}

func createSigner(privateKey string, logger log.Logger) (*signer.Signer, error) {
	s, err := signer.New(privateKey)
	if errors.Is(err, signer.ErrNoKey) {
		logger.Info("no private key configured; encrypted DDOs and validation signatures are unavailable")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading private key: %w", err)
	}
	logger.Info("loaded private key", "address", s.Address().Hex())
	return s, nil
}

// createIndexer builds the indexer of chainID with every optional
// collaborator the configuration enables.
func createIndexer(
	cfg *config.Config,
	logger log.Logger,
	node chain.Node,
	s store.Store,
	chainID int64,
	sgn *signer.Signer,
	pg *purgatory.Purgatory,
	sink audit.EventSink,
	m *events.Metrics,
) (*events.Indexer, error) {
	opts := []events.IndexerOption{
		events.WithAuditSink(sink),
		events.WithMetrics(m),
	}
	if sgn != nil {
		opts = append(opts, events.WithDecryptor(events.NewProviderDecryptor(sgn)))
	}
	if pg.Enabled() {
		opts = append(opts, events.WithPurgatory(pg))
	}
	return events.NewIndexer(logger, node, s, events.Config{
		ChainID:           chainID,
		AllowedPublishers: cfg.Events.AllowedPublishers,
		AllowedValidators: cfg.Events.AllowedValidators,
	}, opts...)
}

func createMonitor(
	cfg *config.Config,
	logger log.Logger,
	ix *events.Indexer,
	startBlock int64,
	heads *chain.HeadSubscriber,
	pg *purgatory.Purgatory,
) *events.Monitor {
	opts := []events.MonitorOption{}
	if heads != nil {
		opts = append(opts, events.WithHeads(heads.Heads()))
	}
	if pg.Enabled() {
		opts = append(opts, events.WithUpdaters(pg))
	}
	return events.NewMonitor(logger, ix, events.MonitorConfig{
		StartBlock:         startBlock,
		ChunkSize:          cfg.Events.ChunkSize,
		SleepTime:          cfg.Events.SleepTime,
		CleanStart:         cfg.Events.CleanStart,
		StoreRetryInterval: cfg.Store.RetryInterval,
	}, opts...)
}
