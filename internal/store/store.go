package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tendermint/aquarius/internal/ddo"
)

// BackendType names an asset store implementation.
type BackendType string

const (
	Elasticsearch BackendType = "elasticsearch"
	KV            BackendType = "kv"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("not found")

// Error is a failure reported by the search backend, carrying the status
// it answered with.
type Error struct {
	Status int
	Reason string
	Info   json.RawMessage
}

func (e *Error) Error() string {
	return fmt.Sprintf("store error %d: %s", e.Status, e.Reason)
}

// Store holds one document per asset, keyed by DID, plus per-chain
// bookkeeping.
type Store interface {
	// Get returns the asset with the given DID, or ErrNotFound.
	Get(ctx context.Context, did string) (ddo.DDO, error)
	// Put inserts or replaces an asset by its id.
	Put(ctx context.Context, d ddo.DDO) error
	// Delete removes an asset. Deleting a missing asset returns ErrNotFound.
	Delete(ctx context.Context, did string) error
	// Search runs a native query and returns a search-engine shaped
	// response: {"hits": {"total": {"value": n}, "hits": [{"_id", "_source"}]}}.
	Search(ctx context.Context, query []byte) (json.RawMessage, error)
	// ListByChain returns every asset of a chain.
	ListByChain(ctx context.Context, chainID int64) ([]ddo.DDO, error)

	// LastBlock returns the last processed block of a chain; ok is false
	// when nothing was recorded.
	LastBlock(ctx context.Context, chainID int64) (block int64, ok bool, err error)
	// SetLastBlock records block as processed. Lower or equal blocks are
	// ignored so the recorded value never decreases.
	SetLastBlock(ctx context.Context, chainID int64, block int64) error
	// ResetLastBlock forgets the processed block of a chain.
	ResetLastBlock(ctx context.Context, chainID int64) error
	// AddChain marks a chain as indexed.
	AddChain(ctx context.Context, chainID int64) error
	// Chains returns the indexed chains keyed by decimal chain id.
	Chains(ctx context.Context) (map[string]bool, error)

	Ping(ctx context.Context) error
	Type() BackendType
	Close() error
}

// SearchResult is the decoded shape of a Search response.
type SearchResult struct {
	Hits struct {
		Total struct {
			Value    int    `json:"value"`
			Relation string `json:"relation"`
		} `json:"total"`
		Hits []SearchHit `json:"hits"`
	} `json:"hits"`
}

type SearchHit struct {
	Index  string          `json:"_index,omitempty"`
	ID     string          `json:"_id"`
	Score  *float64        `json:"_score"`
	Source json.RawMessage `json:"_source"`
}

// DecodeSearch parses a Search response.
func DecodeSearch(raw json.RawMessage) (*SearchResult, error) {
	var res SearchResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decoding search result: %w", err)
	}
	return &res, nil
}

func lastBlockID(chainID int64) string {
	return fmt.Sprintf("events_last_block_%d", chainID)
}

const chainsID = "chains"

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsNotFound reports whether err means the document does not exist.
func IsNotFound(err error) bool { return isNotFound(err) }
