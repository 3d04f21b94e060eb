package events

import (
	"context"
	"fmt"
	"time"

	"github.com/tendermint/aquarius/internal/store"
	"github.com/tendermint/aquarius/libs/log"
	"github.com/tendermint/aquarius/libs/service"
)

// MonitorConfig holds the polling settings of a Monitor.
type MonitorConfig struct {
	// First block to scan when nothing was processed yet.
	StartBlock int64
	// Number of blocks processed and committed at once.
	ChunkSize int64
	// Pause between two polls.
	SleepTime time.Duration
	// Delete the chain's assets and forget its last block on start.
	CleanStart bool
	// Pause between two store pings while waiting for the store.
	StoreRetryInterval time.Duration
}

// Updater is run after every poll.
type Updater interface {
	Update(ctx context.Context) error
}

// Monitor polls the chain and feeds new blocks to an Indexer.
type Monitor struct {
	service.BaseService
	logger log.Logger

	indexer *Indexer
	store   store.Store
	cfg     MonitorConfig

	heads    <-chan int64
	updaters []Updater

	cancel context.CancelFunc
	done   chan struct{}
}

// MonitorOption sets an optional parameter on the Monitor.
type MonitorOption func(*Monitor)

// WithHeads wakes the monitor up before the end of its sleep whenever a
// new head is announced.
func WithHeads(heads <-chan int64) MonitorOption {
	return func(m *Monitor) { m.heads = heads }
}

// WithUpdaters registers jobs run after every poll, such as the purgatory
// refresh.
func WithUpdaters(u ...Updater) MonitorOption {
	return func(m *Monitor) { m.updaters = append(m.updaters, u...) }
}

// NewMonitor returns a Monitor driving ix.
func NewMonitor(logger log.Logger, ix *Indexer, cfg MonitorConfig, options ...MonitorOption) *Monitor {
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = 1
	}
	if cfg.StoreRetryInterval <= 0 {
		cfg.StoreRetryInterval = 5 * time.Second
	}
	m := &Monitor{
		logger:  logger,
		indexer: ix,
		store:   ix.store,
		cfg:     cfg,
		done:    make(chan struct{}),
	}
	for _, opt := range options {
		opt(m)
	}
	m.BaseService = *service.NewBaseService(logger, "EventsMonitor", m)
	return m
}

func (m *Monitor) OnStart(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.run(ctx)
	return nil
}

func (m *Monitor) OnStop() {
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	if err := store.WaitReady(ctx, m.store, m.cfg.StoreRetryInterval, m.logger); err != nil {
		return
	}
	if err := m.prepare(ctx); err != nil {
		m.logger.Error("failed to prepare the store, monitor stopped", "err", err)
		return
	}

	for {
		if err := m.ProcessCurrentBlocks(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("failed to process blocks", "err", err)
		}
		for _, u := range m.updaters {
			if err := u.Update(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("update failed", "err", err)
			}
		}

		timer := time.NewTimer(m.cfg.SleepTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.heads:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// prepare registers the chain and applies a clean start.
func (m *Monitor) prepare(ctx context.Context) error {
	chainID := m.indexer.ChainID()
	if err := m.store.AddChain(ctx, chainID); err != nil {
		return fmt.Errorf("registering chain %d: %w", chainID, err)
	}
	if !m.cfg.CleanStart {
		return nil
	}
	n, err := ResetChain(ctx, m.store, chainID)
	if err != nil {
		return err
	}
	m.logger.Info("clean start: chain reset", "chain_id", chainID, "deleted_assets", n, "start_block", m.cfg.StartBlock)
	return nil
}

// ResetChain deletes every asset of a chain and forgets its last processed
// block, so indexing restarts from the start block. It returns the number
// of deleted assets.
func ResetChain(ctx context.Context, s store.Store, chainID int64) (int, error) {
	assets, err := s.ListByChain(ctx, chainID)
	if err != nil {
		return 0, fmt.Errorf("listing assets of chain %d: %w", chainID, err)
	}
	deleted := 0
	for _, d := range assets {
		err := s.Delete(ctx, d.ID())
		if err != nil && !store.IsNotFound(err) {
			return deleted, fmt.Errorf("deleting %s: %w", d.ID(), err)
		}
		deleted++
	}
	if err := s.ResetLastBlock(ctx, chainID); err != nil {
		return deleted, fmt.Errorf("resetting last block of chain %d: %w", chainID, err)
	}
	return deleted, nil
}

// LastBlock returns the last processed block, or the block before the start
// block when nothing was processed yet.
func (m *Monitor) LastBlock(ctx context.Context) (int64, error) {
	block, ok, err := m.store.LastBlock(ctx, m.indexer.ChainID())
	if err != nil {
		return 0, err
	}
	if !ok {
		return m.cfg.StartBlock - 1, nil
	}
	return block, nil
}

// ProcessCurrentBlocks indexes every block after the last processed one up
// to the node's current block, one chunk at a time. The last block is
// committed after each chunk.
func (m *Monitor) ProcessCurrentBlocks(ctx context.Context) error {
	last, err := m.LastBlock(ctx)
	if err != nil {
		return fmt.Errorf("reading last block: %w", err)
	}
	current, err := m.indexer.node.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("reading current block: %w", err)
	}
	m.indexer.metrics.ChainHeight.Set(float64(current))
	if current <= last {
		m.logger.Debug("no new blocks", "last_block", last, "current_block", current)
		return nil
	}

	chainID := m.indexer.ChainID()
	for _, r := range BlockRanges(last+1, current, m.cfg.ChunkSize) {
		if err := m.indexer.ProcessBlockRange(ctx, r.From, r.To); err != nil {
			return fmt.Errorf("processing blocks %d-%d: %w", r.From, r.To, err)
		}
		if err := m.store.SetLastBlock(ctx, chainID, r.To); err != nil {
			return fmt.Errorf("storing last block %d: %w", r.To, err)
		}
		m.indexer.metrics.LastBlock.Set(float64(r.To))
	}
	m.logger.Info("processed blocks", "from", last+1, "to", current)
	return nil
}
