package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/tendermint/aquarius/internal/ddo"
)

const (
	prefixAsset int64 = iota + 1
	prefixChainAsset
	prefixLastBlock
	prefixChains
)

// KVStore keeps assets and bookkeeping in an embedded key/value database.
// Assets are indexed by DID and by (chain id, DID). It answers the subset of
// the search DSL implemented by Query.
type KVStore struct {
	mtx   sync.RWMutex
	db    dbm.DB
	index string
}

var _ Store = (*KVStore)(nil)

// NewKVStore wraps db. index is only used to fill the _index of search hits.
func NewKVStore(db dbm.DB, index string) *KVStore {
	return &KVStore{db: db, index: index}
}

func (s *KVStore) Type() BackendType { return KV }

func (s *KVStore) Ping(context.Context) error {
	_, err := s.db.Has(chainsKey())
	return err
}

func (s *KVStore) Close() error { return s.db.Close() }

func (s *KVStore) Get(_ context.Context, did string) (ddo.DDO, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.get(did)
}

func (s *KVStore) get(did string) (ddo.DDO, error) {
	bz, err := s.db.Get(assetKey(did))
	if err != nil {
		return nil, err
	}
	if bz == nil {
		return nil, fmt.Errorf("asset %s: %w", did, ErrNotFound)
	}
	return ddo.Parse(bz)
}

func (s *KVStore) Put(_ context.Context, d ddo.DDO) error {
	did := d.ID()
	if did == "" {
		return fmt.Errorf("cannot store a ddo without id")
	}
	bz, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", did, err)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	if old, err := s.get(did); err == nil {
		if chainID, ok := old.ChainID(); ok {
			if err := batch.Delete(chainAssetKey(chainID, did)); err != nil {
				return err
			}
		}
	}
	if err := batch.Set(assetKey(did), bz); err != nil {
		return err
	}
	if chainID, ok := d.ChainID(); ok {
		if err := batch.Set(chainAssetKey(chainID, did), []byte{}); err != nil {
			return err
		}
	}
	return batch.WriteSync()
}

func (s *KVStore) Delete(_ context.Context, did string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	old, err := s.get(did)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(assetKey(did)); err != nil {
		return err
	}
	if chainID, ok := old.ChainID(); ok {
		if err := batch.Delete(chainAssetKey(chainID, did)); err != nil {
			return err
		}
	}
	return batch.WriteSync()
}

func (s *KVStore) ListByChain(_ context.Context, chainID int64) ([]ddo.DDO, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	iter, err := s.db.Iterator(chainAssetKey(chainID, ""), chainPrefixEnd(chainID))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []ddo.DDO
	for ; iter.Valid(); iter.Next() {
		did, err := decodeChainAssetKey(iter.Key())
		if err != nil {
			return nil, err
		}
		d, err := s.get(did)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, iter.Error()
}

func (s *KVStore) Search(_ context.Context, body []byte) (json.RawMessage, error) {
	q, err := ParseQuery(body)
	if err != nil {
		return nil, &Error{Status: 400, Reason: err.Error()}
	}

	s.mtx.RLock()
	defer s.mtx.RUnlock()

	iter, err := s.db.Iterator(assetKey(""), prefixEnd(prefixAsset))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var matched []ddo.DDO
	for ; iter.Valid(); iter.Next() {
		d, err := ddo.Parse(iter.Value())
		if err != nil {
			return nil, err
		}
		if q.Matches(d) {
			matched = append(matched, d)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return q.Response(s.index, matched)
}

//-----------------------------------------------------------------------------
// bookkeeping

type lastBlockRecord struct {
	LastBlock int64 `json:"last_block"`
}

func (s *KVStore) LastBlock(_ context.Context, chainID int64) (int64, bool, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.lastBlock(chainID)
}

func (s *KVStore) lastBlock(chainID int64) (int64, bool, error) {
	bz, err := s.db.Get(lastBlockKey(chainID))
	if err != nil || bz == nil {
		return 0, false, err
	}
	var rec lastBlockRecord
	if err := json.Unmarshal(bz, &rec); err != nil {
		return 0, false, fmt.Errorf("decoding last block of chain %d: %w", chainID, err)
	}
	return rec.LastBlock, true, nil
}

func (s *KVStore) SetLastBlock(_ context.Context, chainID int64, block int64) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	stored, ok, err := s.lastBlock(chainID)
	if err != nil {
		return err
	}
	if ok && block <= stored {
		return nil
	}
	bz, err := json.Marshal(lastBlockRecord{LastBlock: block})
	if err != nil {
		return err
	}
	return s.db.SetSync(lastBlockKey(chainID), bz)
}

func (s *KVStore) ResetLastBlock(_ context.Context, chainID int64) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.db.DeleteSync(lastBlockKey(chainID))
}

func (s *KVStore) AddChain(ctx context.Context, chainID int64) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	chains, err := s.chains()
	if err != nil {
		return err
	}
	chains[strconv.FormatInt(chainID, 10)] = true
	bz, err := json.Marshal(chains)
	if err != nil {
		return err
	}
	return s.db.SetSync(chainsKey(), bz)
}

func (s *KVStore) Chains(context.Context) (map[string]bool, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.chains()
}

func (s *KVStore) chains() (map[string]bool, error) {
	chains := make(map[string]bool)
	bz, err := s.db.Get(chainsKey())
	if err != nil || bz == nil {
		return chains, err
	}
	if err := json.Unmarshal(bz, &chains); err != nil {
		return nil, fmt.Errorf("decoding chains: %w", err)
	}
	return chains, nil
}

//-----------------------------------------------------------------------------
// keys

func mustKey(parts ...interface{}) []byte {
	key, err := orderedcode.Append(nil, parts...)
	if err != nil {
		panic(err)
	}
	return key
}

func assetKey(did string) []byte { return mustKey(prefixAsset, did) }

func chainAssetKey(chainID int64, did string) []byte {
	return mustKey(prefixChainAsset, chainID, did)
}

func chainPrefixEnd(chainID int64) []byte {
	return mustKey(prefixChainAsset, chainID+1)
}

func prefixEnd(prefix int64) []byte { return mustKey(prefix + 1) }

func decodeChainAssetKey(key []byte) (string, error) {
	var (
		prefix, chainID int64
		did             string
	)
	remaining, err := orderedcode.Parse(string(key), &prefix, &chainID, &did)
	if err != nil {
		return "", err
	}
	if len(remaining) != 0 {
		return "", fmt.Errorf("expected complete key but got remainder: %s", remaining)
	}
	if prefix != prefixChainAsset {
		return "", fmt.Errorf("incorrect prefix. Expected %v, got %v", prefixChainAsset, prefix)
	}
	return did, nil
}

func lastBlockKey(chainID int64) []byte { return mustKey(prefixLastBlock, chainID) }

func chainsKey() []byte { return mustKey(prefixChains) }
