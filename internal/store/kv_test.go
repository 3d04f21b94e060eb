package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/tendermint/aquarius/internal/ddo"
)

const (
	testNFT1      = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	testNFT2      = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
	testNFT3      = "0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"
	testDatatoken = "0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9"
)

func newKVStore(t *testing.T) *KVStore {
	t.Helper()
	s := NewKVStore(dbm.NewMemDB(), "aquarius")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestKVStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := newKVStore(t)
	require.NoError(t, s.Ping(ctx))
	assert.Equal(t, KV, s.Type())

	d := ddo.MakeTestDDO(testNFT1, 8996, testDatatoken)
	did := d.ID()

	_, err := s.Get(ctx, did)
	require.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFound(err))

	require.NoError(t, s.Put(ctx, d))
	got, err := s.Get(ctx, did)
	require.NoError(t, err)
	assert.Equal(t, did, got.ID())
	assert.Equal(t, "Ocean protocol white paper", got.Name())

	// upsert
	d["version"] = "4.3.0"
	require.NoError(t, s.Put(ctx, d))
	got, err = s.Get(ctx, did)
	require.NoError(t, err)
	assert.Equal(t, "4.3.0", got.Version())

	require.NoError(t, s.Delete(ctx, did))
	_, err = s.Get(ctx, did)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, did), ErrNotFound)

	require.Error(t, s.Put(ctx, ddo.DDO{"version": "4.1.0"}))
}

func TestKVStoreListByChain(t *testing.T) {
	ctx := context.Background()
	s := newKVStore(t)

	a := ddo.MakeTestDDO(testNFT1, 8996, testDatatoken)
	b := ddo.MakeTestDDO(testNFT2, 8996, testDatatoken)
	c := ddo.MakeTestDDO(testNFT3, 137, testDatatoken)
	for _, d := range []ddo.DDO{a, b, c} {
		require.NoError(t, s.Put(ctx, d))
	}

	list, err := s.ListByChain(ctx, 8996)
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, d := range list {
		ids = append(ids, d.ID())
	}
	assert.ElementsMatch(t, []string{a.ID(), b.ID()}, ids)

	list, err = s.ListByChain(ctx, 137)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c.ID(), list[0].ID())

	list, err = s.ListByChain(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, list)

	// moving an asset to another chain updates the chain index
	b["chainId"] = int64(137)
	require.NoError(t, s.Put(ctx, b))
	list, err = s.ListByChain(ctx, 8996)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID(), list[0].ID())

	require.NoError(t, s.Delete(ctx, c.ID()))
	list, err = s.ListByChain(ctx, 137)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID(), list[0].ID())
}

func TestKVStoreLastBlock(t *testing.T) {
	ctx := context.Background()
	s := newKVStore(t)

	_, ok, err := s.LastBlock(ctx, 8996)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetLastBlock(ctx, 8996, 100))
	require.NoError(t, s.SetLastBlock(ctx, 8996, 50))
	require.NoError(t, s.SetLastBlock(ctx, 137, 7))

	block, ok, err := s.LastBlock(ctx, 8996)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 100, block)

	require.NoError(t, s.SetLastBlock(ctx, 8996, 101))
	block, _, err = s.LastBlock(ctx, 8996)
	require.NoError(t, err)
	assert.EqualValues(t, 101, block)

	require.NoError(t, s.ResetLastBlock(ctx, 8996))
	_, ok, err = s.LastBlock(ctx, 8996)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetLastBlock(ctx, 8996, 3))
	block, _, err = s.LastBlock(ctx, 8996)
	require.NoError(t, err)
	assert.EqualValues(t, 3, block)

	block, _, err = s.LastBlock(ctx, 137)
	require.NoError(t, err)
	assert.EqualValues(t, 7, block)
}

func TestKVStoreChains(t *testing.T) {
	ctx := context.Background()
	s := newKVStore(t)

	chains, err := s.Chains(ctx)
	require.NoError(t, err)
	assert.Empty(t, chains)

	require.NoError(t, s.AddChain(ctx, 8996))
	require.NoError(t, s.AddChain(ctx, 137))
	require.NoError(t, s.AddChain(ctx, 8996))

	chains, err = s.Chains(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"8996": true, "137": true}, chains)
}

func TestKVStoreSearch(t *testing.T) {
	ctx := context.Background()
	s := newKVStore(t)

	a := ddo.MakeTestDDO(testNFT1, 8996, testDatatoken)
	b := ddo.MakeTestDDO(testNFT2, 137, testDatatoken)
	b["metadata"].(map[string]interface{})["name"] = "Weather data"
	b["_id"] = b.ID()
	require.NoError(t, s.Put(ctx, a))
	require.NoError(t, s.Put(ctx, b))

	raw, err := s.Search(ctx, []byte(`{"query":{"match_all":{}}}`))
	require.NoError(t, err)
	res, err := DecodeSearch(raw)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Hits.Total.Value)
	require.Len(t, res.Hits.Hits, 2)
	assert.Equal(t, "aquarius", res.Hits.Hits[0].Index)

	raw, err = s.Search(ctx, []byte(`{"query":{"term":{"chainId":137}}}`))
	require.NoError(t, err)
	res, err = DecodeSearch(raw)
	require.NoError(t, err)
	require.Len(t, res.Hits.Hits, 1)
	assert.Equal(t, b.ID(), res.Hits.Hits[0].ID)
	src, err := ddo.Parse(res.Hits.Hits[0].Source)
	require.NoError(t, err)
	assert.NotContains(t, src, "_id")

	raw, err = s.Search(ctx, []byte(`{"query":{"query_string":{"query":"weather","default_field":"metadata.name"}}}`))
	require.NoError(t, err)
	res, err = DecodeSearch(raw)
	require.NoError(t, err)
	require.Len(t, res.Hits.Hits, 1)
	assert.Equal(t, b.ID(), res.Hits.Hits[0].ID)

	_, err = s.Search(ctx, []byte(`{"query":{"fuzzy":{}}}`))
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 400, serr.Status)
}

func TestChainAssetKeyRoundTrip(t *testing.T) {
	did := ddo.MakeDID(testNFT1, 8996)
	got, err := decodeChainAssetKey(chainAssetKey(8996, did))
	require.NoError(t, err)
	assert.Equal(t, did, got)

	_, err = decodeChainAssetKey(assetKey(did))
	require.Error(t, err)
}
