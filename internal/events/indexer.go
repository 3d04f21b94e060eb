// Package events indexes the metadata events emitted by data NFT contracts
// into the asset store.
package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tendermint/aquarius/internal/audit"
	"github.com/tendermint/aquarius/internal/chain"
	"github.com/tendermint/aquarius/internal/ddo"
	"github.com/tendermint/aquarius/internal/store"
	"github.com/tendermint/aquarius/libs/log"
)

// logsChunkSize bounds the block span of a single eth_getLogs request.
const logsChunkSize = 1000

var (
	// ErrHashMismatch is returned when a document does not hash to the
	// published value.
	ErrHashMismatch = ddo.ErrHashMismatch
	// ErrPublisherNotAllowed is returned for events sent by a publisher
	// outside the allowed list.
	ErrPublisherNotAllowed = errors.New("publisher not allowed")
	// ErrProofRejected is returned when no allowed validator approved the
	// document.
	ErrProofRejected = errors.New("metadata proof rejected")
	// ErrStaleEvent is returned when the stored document was written by a
	// newer event.
	ErrStaleEvent = errors.New("stored asset is newer than event")
	// ErrNoAsset is returned for events about assets that are not cached.
	ErrNoAsset = errors.New("asset not cached")
	// ErrInvalidDDO is returned when the published document fails
	// validation.
	ErrInvalidDDO = errors.New("invalid ddo")
)

var (
	metadataEvents = []string{chain.EventMetadataCreated, chain.EventMetadataUpdated, chain.EventMetadataState}
	priceEvents    = []string{chain.EventOrderStarted, chain.EventExchangeCreated, chain.EventExchangeRateChanged, chain.EventDispenserCreated}
	tokenURIEvents = []string{chain.EventTokenURIUpdate}
)

// Purgatory reports flagged assets and accounts.
type Purgatory interface {
	IsInPurgatory(did, owner string) (bool, string)
}

type noPurgatory struct{}

func (noPurgatory) IsInPurgatory(string, string) (bool, string) { return false, "" }

// Config holds the per-chain settings of an Indexer.
type Config struct {
	ChainID int64

	// Only cache assets published by these addresses. Empty allows all.
	AllowedPublishers []string

	// Only cache assets approved by one of these validators. Empty
	// disables the check.
	AllowedValidators []string
}

// Indexer turns event logs of one chain into asset store writes. It keeps
// no state between calls.
type Indexer struct {
	logger    log.Logger
	node      chain.Node
	store     store.Store
	cfg       Config
	decryptor Decryptor
	purgatory Purgatory
	sink      audit.EventSink
	metrics   *Metrics

	publishers map[common.Address]bool
	validators map[common.Address]bool
}

// IndexerOption sets an optional parameter on the Indexer.
type IndexerOption func(*Indexer)

// WithDecryptor sets the decryptor used for encrypted documents.
func WithDecryptor(d Decryptor) IndexerOption {
	return func(ix *Indexer) { ix.decryptor = d }
}

// WithPurgatory sets the purgatory consulted when writing assets.
func WithPurgatory(p Purgatory) IndexerOption {
	return func(ix *Indexer) { ix.purgatory = p }
}

// WithAuditSink sets the sink recording every handled event.
func WithAuditSink(s audit.EventSink) IndexerOption {
	return func(ix *Indexer) { ix.sink = s }
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) IndexerOption {
	return func(ix *Indexer) { ix.metrics = m }
}

// NewIndexer returns an Indexer for cfg.ChainID.
func NewIndexer(logger log.Logger, node chain.Node, s store.Store, cfg Config, options ...IndexerOption) (*Indexer, error) {
	ix := &Indexer{
		logger:    logger,
		node:      node,
		store:     s,
		cfg:       cfg,
		purgatory: noPurgatory{},
		metrics:   NopMetrics(),
	}
	for _, opt := range options {
		opt(ix)
	}

	var err error
	if ix.publishers, err = addressSet(cfg.AllowedPublishers); err != nil {
		return nil, fmt.Errorf("allowed publishers: %w", err)
	}
	if ix.validators, err = addressSet(cfg.AllowedValidators); err != nil {
		return nil, fmt.Errorf("allowed validators: %w", err)
	}
	return ix, nil
}

func addressSet(list []string) (map[common.Address]bool, error) {
	set := make(map[common.Address]bool, len(list))
	for _, a := range list {
		a = strings.TrimSpace(a)
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("invalid address %q", a)
		}
		set[common.HexToAddress(a)] = true
	}
	return set, nil
}

// ChainID returns the chain the indexer writes for.
func (ix *Indexer) ChainID() int64 { return ix.cfg.ChainID }

// GetEventLogs returns the logs of the named events emitted in
// [from, to], in chain order. The range is queried in spans of at most
// 1000 blocks.
func (ix *Indexer) GetEventLogs(ctx context.Context, from, to int64, names ...string) ([]chain.Log, error) {
	topics := make([]common.Hash, 0, len(names))
	for _, name := range names {
		topic, ok := chain.EventTopic(name)
		if !ok {
			return nil, fmt.Errorf("unknown event %s", name)
		}
		topics = append(topics, topic)
	}

	var logs []chain.Log
	for _, r := range BlockRanges(from, to, logsChunkSize) {
		chunk, err := ix.node.GetLogs(ctx, chain.FilterQuery{
			FromBlock: r.From,
			ToBlock:   r.To,
			Topics:    [][]common.Hash{topics},
		})
		if err != nil {
			return nil, fmt.Errorf("getting logs %d-%d: %w", r.From, r.To, err)
		}
		logs = append(logs, chunk...)
	}
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
	return logs, nil
}

// ProcessBlockRange handles every monitored event emitted in [from, to]:
// metadata events first, then orders and prices, then token URI updates.
// Failures of single events are logged and skipped; failures to read the
// chain abort the range.
func (ix *Indexer) ProcessBlockRange(ctx context.Context, from, to int64) error {
	if from > to {
		return nil
	}
	start := time.Now()
	defer func() { ix.metrics.RangeDurationSeconds.Observe(time.Since(start).Seconds()) }()

	steps := []struct {
		names  []string
		handle func(context.Context, chain.Log) (string, error)
	}{
		{metadataEvents, ix.handleMetadataLog},
		{priceEvents, ix.handlePriceLog},
		{tokenURIEvents, ix.handleTokenURI},
	}
	for _, step := range steps {
		logs, err := ix.GetEventLogs(ctx, from, to, step.names...)
		if err != nil {
			return err
		}
		for _, l := range logs {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if l.Removed {
				continue
			}
			did, err := step.handle(ctx, l)
			ix.record(ctx, l, did, err)
		}
	}
	ix.logger.Debug("processed block range", "from", from, "to", to, "took", time.Since(start))
	return nil
}

func (ix *Indexer) handleMetadataLog(ctx context.Context, l chain.Log) (string, error) {
	switch eventName(l) {
	case chain.EventMetadataState:
		return ix.handleMetadataState(ctx, l)
	default:
		d, err := ix.ProcessMetadataLog(ctx, l)
		if d != nil {
			return d.ID(), err
		}
		return ix.didOf(l.Address), err
	}
}

// record logs the outcome of one event and forwards it to the audit sink.
func (ix *Indexer) record(ctx context.Context, l chain.Log, did string, err error) {
	name := eventName(l)
	outcome := audit.OutcomeStored
	reason := ""
	switch {
	case err == nil:
	case isSkip(err):
		outcome = audit.OutcomeSkipped
		reason = err.Error()
		ix.logger.Info("event skipped", "event", name, "tx", l.TxHash.Hex(), "did", did, "reason", err)
	default:
		outcome = audit.OutcomeFailed
		reason = err.Error()
		ix.logger.Error("failed to process event", "event", name, "tx", l.TxHash.Hex(), "did", did, "err", err)
	}
	ix.metrics.Events.With("event", name, "outcome", outcome).Add(1)

	if ix.sink == nil {
		return
	}
	rec := audit.Record{
		ChainID:     ix.cfg.ChainID,
		TxHash:      l.TxHash.Hex(),
		LogIndex:    uint(l.Index),
		BlockNumber: int64(l.BlockNumber),
		Event:       name,
		Contract:    l.Address.Hex(),
		DID:         did,
		Outcome:     outcome,
		Reason:      reason,
		Time:        time.Now(),
	}
	if err := ix.sink.IndexEvent(ctx, rec); err != nil {
		ix.logger.Error("failed to record event", "tx", rec.TxHash, "err", err)
	}
}

func isSkip(err error) bool {
	for _, target := range []error{ErrPublisherNotAllowed, ErrProofRejected, ErrStaleEvent, ErrNoAsset} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// eventName returns the monitored event a log was decoded as, or "unknown".
func eventName(l chain.Log) string {
	for _, name := range chain.EventNames() {
		if topic, _ := chain.EventTopic(name); topic == l.Topic0() {
			return name
		}
	}
	return "unknown"
}

func (ix *Indexer) didOf(nft common.Address) string {
	return ddo.MakeDID(nft.Hex(), ix.cfg.ChainID)
}

// getAsset returns the cached asset of nft, or ErrNoAsset.
func (ix *Indexer) getAsset(ctx context.Context, nft common.Address) (ddo.DDO, error) {
	did := ix.didOf(nft)
	d, err := ix.store.Get(ctx, did)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%s: %w", did, ErrNoAsset)
	}
	return d, err
}
