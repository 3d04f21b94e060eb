package events

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/tendermint/aquarius/internal/audit"
	"github.com/tendermint/aquarius/internal/chain"
	"github.com/tendermint/aquarius/internal/chain/chaintest"
	"github.com/tendermint/aquarius/internal/ddo"
	"github.com/tendermint/aquarius/internal/store"
	"github.com/tendermint/aquarius/libs/log"
)

const testChainID = 8996

var (
	nftAddr   = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	dtAddr    = common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9")
	publisher = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	stranger  = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	validator = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	freAddr   = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
	baseToken = common.HexToAddress("0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65")
)

// recordingSink keeps every audit record.
type recordingSink struct {
	mtx     sync.Mutex
	records []audit.Record
}

func (s *recordingSink) IndexEvent(_ context.Context, r audit.Record) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.records = append(s.records, r)
	return nil
}

func (s *recordingSink) Type() audit.EventSinkType { return "recording" }
func (s *recordingSink) Stop() error               { return nil }

func (s *recordingSink) outcomes() []string {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	out := make([]string, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Event+":"+r.Outcome)
	}
	return out
}

type fixture struct {
	node    *chaintest.Node
	store   store.Store
	sink    *recordingSink
	indexer *Indexer
	nextTx  int64
}

func newFixture(t *testing.T, cfg Config, options ...IndexerOption) *fixture {
	t.Helper()
	f := &fixture{
		node:  chaintest.NewNode(testChainID),
		store: store.NewKVStore(dbm.NewMemDB(), "aquarius"),
		sink:  &recordingSink{},
	}
	f.node.SetNFT(nftAddr, "Data NFT", "DN-1", publisher, "https://oceanprotocol.com/nft/")
	f.node.SetDatatoken(dtAddr, "Datatoken 1", "DT1", nftAddr)

	cfg.ChainID = testChainID
	options = append([]IndexerOption{WithAuditSink(f.sink)}, options...)
	ix, err := NewIndexer(log.TestingLogger(), f.node, f.store, cfg, options...)
	require.NoError(t, err)
	f.indexer = ix
	return f
}

func (f *fixture) tx() common.Hash {
	f.nextTx++
	return chaintest.TxHash(f.nextTx)
}

func testDDO() ddo.DDO {
	return ddo.MakeTestDDO(nftAddr.Hex(), testChainID, dtAddr.Hex())
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	bz, err := json.Marshal(v)
	require.NoError(t, err)
	return bz
}

// publish emits a metadata event carrying raw (already encoded per flags),
// hashed over plain.
func (f *fixture) publish(event string, block int64, from common.Address, flags byte, raw, plain []byte) chain.Log {
	l := chaintest.MetadataLog(event, nftAddr, block, f.tx(), from, 0, "http://provider:8030", flags, raw, sha256.Sum256(plain))
	return f.node.AddLog(from, l)
}

func (f *fixture) publishPlain(t *testing.T, event string, block int64, d ddo.DDO) chain.Log {
	bz := mustJSON(t, d)
	return f.publish(event, block, publisher, 0, bz, bz)
}

func (f *fixture) get(t *testing.T) ddo.DDO {
	t.Helper()
	d, err := f.store.Get(context.Background(), testDDO().ID())
	require.NoError(t, err)
	return d
}

func (f *fixture) missing(t *testing.T) {
	t.Helper()
	_, err := f.store.Get(context.Background(), testDDO().ID())
	require.ErrorIs(t, err, store.ErrNotFound)
}
