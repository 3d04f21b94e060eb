// Package node assembles the aquarius services: asset store, chain client,
// events monitor, purgatory and HTTP API.
package node

import (
	"context"
	"fmt"

	"github.com/tendermint/aquarius/config"
	"github.com/tendermint/aquarius/internal/api"
	"github.com/tendermint/aquarius/internal/audit"
	"github.com/tendermint/aquarius/internal/chain"
	"github.com/tendermint/aquarius/internal/events"
	"github.com/tendermint/aquarius/internal/purgatory"
	"github.com/tendermint/aquarius/internal/rbac"
	"github.com/tendermint/aquarius/internal/store"
	"github.com/tendermint/aquarius/libs/log"
	"github.com/tendermint/aquarius/libs/service"
)

// Node is the highest level interface to a full aquarius node.
// It includes all configuration information and running services.
type Node struct {
	service.BaseService
	logger log.Logger
	config *config.Config

	store   store.Store
	client  *chain.Client
	chainID int64
	sink    audit.EventSink

	indexer *events.Indexer
	monitor *events.Monitor       // nil when the events monitor is disabled
	heads   *chain.HeadSubscriber // nil without a websocket endpoint
	api     *api.Server
}

// New returns a node built from cfg. It blocks until the chain node
// reports its chain id, or ctx is done.
func New(ctx context.Context, cfg *config.Config, logger log.Logger) (*Node, error) {
	return makeNode(ctx, cfg, logger, defaultMetricsProvider(cfg.Instrumentation))
}

func makeNode(ctx context.Context, cfg *config.Config, logger log.Logger, metrics metricsProvider) (n *Node, err error) {
	closers := []func() error{}
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	storeMetrics, chainMetrics := metrics.store(), metrics.chain()
	client, err := chain.NewClient(rpcHTTPURL(cfg.Chain.RPCURL), cfg.Chain.RequestTimeout, chainMetrics)
	if err != nil {
		return nil, err
	}
	chainID, err := waitForChainID(ctx, client, cfg.Store.RetryInterval, logger.With("module", "chain"))
	if err != nil {
		return nil, fmt.Errorf("reading chain id: %w", err)
	}
	eventsMetrics := metrics.events(chainID)

	s, err := createStore(cfg, storeMetrics)
	if err != nil {
		return nil, err
	}
	closers = append(closers, s.Close)

	sink, err := audit.CreateSink(cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("creating audit sink: %w", err)
	}
	closers = append(closers, sink.Stop)

	sgn, err := createSigner(cfg.PrivateKey, logger)
	if err != nil {
		return nil, err
	}

	pg := purgatory.New(logger.With("module", "purgatory"), s, cfg.Purgatory)
	eventsLogger := logger.With("module", "events", "chain_id", chainID)
	ix, err := createIndexer(cfg, eventsLogger, client, s, chainID, sgn, pg, sink, eventsMetrics)
	if err != nil {
		return nil, err
	}

	n = &Node{
		logger:  logger,
		config:  cfg,
		store:   s,
		client:  client,
		chainID: chainID,
		sink:    sink,
		indexer: ix,
	}

	if cfg.Events.Enabled {
		if ws := cfg.Chain.WebsocketURL(); ws != "" {
			n.heads = chain.NewHeadSubscriber(logger.With("module", "heads"), ws)
		}
		addrs := loadAddresses(cfg.Chain, logger)
		startBlock := chain.StartBlock(cfg.Events.StartBlock, chainID, addrs)
		n.monitor = createMonitor(cfg, eventsLogger, ix, startBlock, n.heads, pg)
		logger.Info("events monitor configured", "chain_id", chainID, "start_block", startBlock)
	} else {
		logger.Info("events monitor disabled")
	}

	n.api = api.NewServer(&api.Environment{
		Logger:     logger.With("module", "api"),
		Store:      s,
		Node:       client,
		Indexer:    ix,
		Signer:     sgn,
		RBAC:       rbac.NewClient(cfg.RBAC.URL),
		Prometheus: cfg.Instrumentation.Prometheus,
	}, cfg.API)

	n.BaseService = *service.NewBaseService(logger, "Node", n)
	return n, nil
}

// OnStart starts the head subscriber, the events monitor and the API.
func (n *Node) OnStart(ctx context.Context) error {
	if n.heads != nil {
		if err := n.heads.Start(ctx); err != nil {
			return err
		}
	}
	if n.monitor != nil {
		if err := n.monitor.Start(ctx); err != nil {
			return err
		}
	} else {
		// the monitor normally creates the indices
		go func() {
			_ = store.WaitReady(ctx, n.store, n.config.Store.RetryInterval, n.logger.With("module", "store"))
		}()
	}
	if err := n.api.Start(ctx); err != nil {
		return err
	}
	n.logger.Info("aquarius started", "chain_id", n.chainID, "store", n.store.Type(), "api", n.api.Addr())
	return nil
}

// OnStop stops the services in reverse order and closes the store.
func (n *Node) OnStop() {
	n.logger.Info("stopping node")
	services := []stoppable{n.api}
	if n.monitor != nil {
		services = append(services, n.monitor)
	}
	if n.heads != nil {
		services = append(services, n.heads)
	}
	for _, s := range services {
		if !s.IsRunning() {
			continue
		}
		if err := s.Stop(); err != nil {
			n.logger.Error("problem stopping service", "service", s, "err", err)
		}
	}
	if err := n.sink.Stop(); err != nil {
		n.logger.Error("problem stopping audit sink", "err", err)
	}
	if err := n.store.Close(); err != nil {
		n.logger.Error("problem closing store", "err", err)
	}
}

type stoppable interface {
	IsRunning() bool
	Stop() error
	String() string
}

// Close releases the store and the audit sink of a node that was built but
// never started, e.g. by the offline commands.
func (n *Node) Close() error {
	if err := n.sink.Stop(); err != nil {
		return err
	}
	return n.store.Close()
}

// ChainID returns the chain the node indexes.
func (n *Node) ChainID() int64 { return n.chainID }

// Chain returns the JSON-RPC client of the chain node.
func (n *Node) Chain() chain.Node { return n.client }

// Store returns the asset store.
func (n *Node) Store() store.Store { return n.store }

// Indexer returns the events indexer.
func (n *Node) Indexer() *events.Indexer { return n.indexer }

// APIServer returns the HTTP API server.
func (n *Node) APIServer() *api.Server { return n.api }
