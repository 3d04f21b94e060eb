package events

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendermint/aquarius/internal/chain"
	"github.com/tendermint/aquarius/internal/chain/chaintest"
	"github.com/tendermint/aquarius/internal/ddo"
)

func TestGetEventLogsChunks(t *testing.T) {
	f := newFixture(t, Config{})
	f.publishPlain(t, chain.EventMetadataCreated, 1500, testDDO())

	logs, err := f.indexer.GetEventLogs(context.Background(), 0, 2500, chain.EventMetadataCreated, chain.EventMetadataUpdated)
	require.NoError(t, err)
	require.Len(t, logs, 1)

	require.Len(t, f.node.GetLogsCalls, 3)
	assert.EqualValues(t, 0, f.node.GetLogsCalls[0].FromBlock)
	assert.EqualValues(t, 999, f.node.GetLogsCalls[0].ToBlock)
	assert.EqualValues(t, 2000, f.node.GetLogsCalls[2].FromBlock)
	assert.EqualValues(t, 2500, f.node.GetLogsCalls[2].ToBlock)
	assert.Len(t, f.node.GetLogsCalls[0].Topics[0], 2)

	_, err = f.indexer.GetEventLogs(context.Background(), 0, 1, "Transfer")
	require.Error(t, err)
}

func TestProcessMetadataCreated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	l := f.publishPlain(t, chain.EventMetadataCreated, 10, testDDO())

	require.NoError(t, f.indexer.ProcessBlockRange(ctx, 0, 20))
	d := f.get(t)

	nft := d.Object("nft")
	require.NotNil(t, nft)
	assert.Equal(t, nftAddr.Hex(), nft["address"])
	assert.Equal(t, "Data NFT", nft["name"])
	assert.Equal(t, "DN-1", nft["symbol"])
	assert.Equal(t, publisher.Hex(), nft["owner"])
	assert.Equal(t, "https://oceanprotocol.com/nft/", nft["tokenURI"])
	assert.NotEmpty(t, nft["created"])

	datatokens, ok := d["datatokens"].([]interface{})
	require.True(t, ok)
	require.Len(t, datatokens, 1)
	dt := datatokens[0].(map[string]interface{})
	assert.Equal(t, dtAddr.Hex(), dt["address"])
	assert.Equal(t, "DT1", dt["symbol"])
	assert.Equal(t, "test_id", dt["serviceId"])

	event := d.Object("event")
	assert.Equal(t, l.TxHash.Hex(), event["tx"])
	assert.Equal(t, publisher.Hex(), event["from"])
	assert.Equal(t, nftAddr.Hex(), event["contract"])
	block, ok := d.EventBlock()
	assert.True(t, ok)
	assert.EqualValues(t, 10, block)

	orders, _ := ddo.DDO(d.Object("stats")).IntField("orders")
	assert.Zero(t, orders)
	assert.Equal(t, false, d.Object("purgatory")["state"])

	assert.Equal(t, []string{"MetadataCreated:stored"}, f.sink.outcomes())
}

func TestProcessMetadataCompressed(t *testing.T) {
	f := newFixture(t, Config{})
	plain := mustJSON(t, testDDO())
	compressed, err := ddo.Compress(plain)
	require.NoError(t, err)
	f.publish(chain.EventMetadataCreated, 3, publisher, ddo.FlagCompressed, compressed, plain)

	require.NoError(t, f.indexer.ProcessBlockRange(context.Background(), 0, 5))
	assert.Equal(t, testDDO().ID(), f.get(t).ID())
}

func TestProcessMetadataHashMismatch(t *testing.T) {
	f := newFixture(t, Config{})
	bz := mustJSON(t, testDDO())
	f.publish(chain.EventMetadataCreated, 3, publisher, 0, bz, []byte("something else"))

	require.NoError(t, f.indexer.ProcessBlockRange(context.Background(), 0, 5))
	f.missing(t)
	assert.Equal(t, []string{"MetadataCreated:failed"}, f.sink.outcomes())
}

func TestProcessMetadataInvalid(t *testing.T) {
	f := newFixture(t, Config{})
	d := testDDO()
	delete(d, "version")
	f.publishPlain(t, chain.EventMetadataCreated, 3, d)

	// a DDO of another NFT published through ours
	other := ddo.MakeTestDDO("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0", testChainID, dtAddr.Hex())
	f.publishPlain(t, chain.EventMetadataCreated, 4, other)

	require.NoError(t, f.indexer.ProcessBlockRange(context.Background(), 0, 5))
	f.missing(t)
	assert.Equal(t, []string{"MetadataCreated:failed", "MetadataCreated:failed"}, f.sink.outcomes())
}

type fakeDecryptor struct {
	plain []byte
	req   DecryptRequest
	err   error
}

func (d *fakeDecryptor) Decrypt(_ context.Context, req DecryptRequest) ([]byte, error) {
	d.req = req
	return d.plain, d.err
}

func TestProcessMetadataEncrypted(t *testing.T) {
	plain := mustJSON(t, testDDO())
	dec := &fakeDecryptor{plain: plain}
	f := newFixture(t, Config{}, WithDecryptor(dec))
	l := f.publish(chain.EventMetadataCreated, 3, publisher, ddo.FlagEncrypted|ddo.FlagCompressed, []byte("ciphertext"), plain)

	require.NoError(t, f.indexer.ProcessBlockRange(context.Background(), 0, 5))
	assert.Equal(t, testDDO().ID(), f.get(t).ID())
	assert.Equal(t, "http://provider:8030", dec.req.URL)
	assert.Equal(t, l.TxHash, dec.req.TxHash)
	assert.Equal(t, nftAddr, dec.req.NFT)
	assert.EqualValues(t, testChainID, dec.req.ChainID)
}

func TestProcessMetadataEncryptedFailure(t *testing.T) {
	f := newFixture(t, Config{}, WithDecryptor(&fakeDecryptor{err: errors.New("provider down")}))
	plain := mustJSON(t, testDDO())
	f.publish(chain.EventMetadataCreated, 3, publisher, ddo.FlagEncrypted, []byte("ciphertext"), plain)

	require.NoError(t, f.indexer.ProcessBlockRange(context.Background(), 0, 5))
	f.missing(t)
}

func TestAllowedPublishers(t *testing.T) {
	f := newFixture(t, Config{AllowedPublishers: []string{publisher.Hex()}})
	bz := mustJSON(t, testDDO())
	f.publish(chain.EventMetadataCreated, 3, stranger, 0, bz, bz)

	require.NoError(t, f.indexer.ProcessBlockRange(context.Background(), 0, 5))
	f.missing(t)
	assert.Equal(t, []string{"MetadataCreated:skipped"}, f.sink.outcomes())

	f.publish(chain.EventMetadataCreated, 6, publisher, 0, bz, bz)
	require.NoError(t, f.indexer.ProcessBlockRange(context.Background(), 6, 6))
	f.get(t)

	_, err := NewIndexer(nil, f.node, f.store, Config{AllowedPublishers: []string{"not an address"}})
	require.Error(t, err)
}

func TestAllowedValidators(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{AllowedValidators: []string{validator.Hex()}})

	// no proof
	f.publishPlain(t, chain.EventMetadataCreated, 3, testDDO())
	require.NoError(t, f.indexer.ProcessBlockRange(ctx, 0, 3))
	f.missing(t)

	// proof from another validator
	l := f.publishPlain(t, chain.EventMetadataCreated, 4, testDDO())
	f.node.AddLog(publisher, proofLog(l, stranger))
	require.NoError(t, f.indexer.ProcessBlockRange(ctx, 4, 4))
	f.missing(t)

	// proof from an allowed validator in the same transaction
	l = f.publishPlain(t, chain.EventMetadataCreated, 5, testDDO())
	f.node.AddLog(publisher, proofLog(l, validator))
	require.NoError(t, f.indexer.ProcessBlockRange(ctx, 5, 5))
	f.get(t)

	assert.Equal(t, []string{"MetadataCreated:skipped", "MetadataCreated:skipped", "MetadataCreated:stored"}, f.sink.outcomes())
}

func proofLog(of chain.Log, by common.Address) chain.Log {
	var hash, r, s [32]byte
	return chaintest.NewLog(chain.ERC721ABI, chain.EventMetadataValidated, of.Address, int64(of.BlockNumber), of.TxHash,
		by, hash, uint8(27), r, s)
}

func TestProcessMetadataUpdated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.publishPlain(t, chain.EventMetadataCreated, 10, testDDO())
	require.NoError(t, f.indexer.ProcessBlockRange(ctx, 0, 10))

	// orders recorded between the two events survive the update
	created := f.get(t)
	created["stats"] = map[string]interface{}{"orders": 4}
	require.NoError(t, f.store.Put(ctx, created))

	updated := testDDO()
	updated["metadata"].(map[string]interface{})["name"] = "Updated name"
	f.publishPlain(t, chain.EventMetadataUpdated, 20, updated)
	require.NoError(t, f.indexer.ProcessBlockRange(ctx, 11, 20))

	d := f.get(t)
	assert.Equal(t, "Updated name", d.Name())
	block, _ := d.EventBlock()
	assert.EqualValues(t, 20, block)
	orders, _ := ddo.DDO(d.Object("stats")).IntField("orders")
	assert.EqualValues(t, 4, orders)
	assert.Equal(t, created.Object("nft")["created"], d.Object("nft")["created"])

	// replaying an older event does not overwrite the newer document
	stale := f.publishPlain(t, chain.EventMetadataUpdated, 15, testDDO())
	_, err := f.indexer.ProcessMetadataLog(ctx, stale)
	require.ErrorIs(t, err, ErrStaleEvent)
	assert.Equal(t, "Updated name", f.get(t).Name())
}

func TestProcessMetadataUpdatedWithoutAsset(t *testing.T) {
	f := newFixture(t, Config{})
	f.publishPlain(t, chain.EventMetadataUpdated, 3, testDDO())
	require.NoError(t, f.indexer.ProcessBlockRange(context.Background(), 0, 5))
	f.get(t)
}

func stateLog(f *fixture, block int64, state uint8) chain.Log {
	l := chaintest.NewLog(chain.ERC721ABI, chain.EventMetadataState, nftAddr, block, f.tx(),
		publisher, state, big.NewInt(1640995200+block), big.NewInt(block))
	return f.node.AddLog(publisher, l)
}

func TestProcessMetadataState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	// no asset yet: ignored
	stateLog(f, 2, 2)
	require.NoError(t, f.indexer.ProcessBlockRange(ctx, 0, 2))
	f.missing(t)

	f.publishPlain(t, chain.EventMetadataCreated, 10, testDDO())
	require.NoError(t, f.indexer.ProcessBlockRange(ctx, 3, 10))

	// ordering disabled keeps the document
	stateLog(f, 11, 4)
	require.NoError(t, f.indexer.ProcessBlockRange(ctx, 11, 11))
	d := f.get(t)
	state, _ := d.NFTState()
	assert.EqualValues(t, 4, state)
	assert.NotNil(t, d.Metadata())

	// revoked reduces it to its identifying fields
	stateLog(f, 12, 3)
	require.NoError(t, f.indexer.ProcessBlockRange(ctx, 12, 12))
	d = f.get(t)
	state, _ = d.NFTState()
	assert.EqualValues(t, 3, state)
	assert.Nil(t, d.Metadata())
	assert.ElementsMatch(t, []string{"id", "nftAddress", "chainId", "nft", "event"}, keys(d))

	// active again: the document stays reduced until republished
	stateLog(f, 13, 0)
	require.NoError(t, f.indexer.ProcessBlockRange(ctx, 13, 13))
	d = f.get(t)
	state, _ = d.NFTState()
	assert.EqualValues(t, 0, state)
	assert.Nil(t, d.Metadata())

	f.publishPlain(t, chain.EventMetadataUpdated, 14, testDDO())
	require.NoError(t, f.indexer.ProcessBlockRange(ctx, 14, 14))
	assert.NotNil(t, f.get(t).Metadata())

	assert.Equal(t, "MetadataState:skipped", f.sink.outcomes()[0])
}

func keys(d ddo.DDO) []string {
	out := make([]string, 0, len(d))
	for k := range d {
		out = append(out, k)
	}
	return out
}

func TestProcessTokenURIUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.publishPlain(t, chain.EventMetadataCreated, 10, testDDO())
	f.node.AddLog(publisher, chaintest.NewLog(chain.ERC721ABI, chain.EventTokenURIUpdate, nftAddr, 11, f.tx(),
		publisher, "https://new.uri/", big.NewInt(1), big.NewInt(1640995211), big.NewInt(11)))

	require.NoError(t, f.indexer.ProcessBlockRange(ctx, 0, 11))
	assert.Equal(t, "https://new.uri/", f.get(t).Object("nft")["tokenURI"])
}

func TestProcessBlockRangeNodeError(t *testing.T) {
	f := newFixture(t, Config{})
	f.node.Err = errors.New("node down")
	require.Error(t, f.indexer.ProcessBlockRange(context.Background(), 0, 10))
	require.NoError(t, f.indexer.ProcessBlockRange(context.Background(), 10, 0))
}
