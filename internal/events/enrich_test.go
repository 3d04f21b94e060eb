package events

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/tendermint/aquarius/internal/chain"
	"github.com/tendermint/aquarius/internal/chain/chaintest"
	"github.com/tendermint/aquarius/internal/store"
	"github.com/tendermint/aquarius/libs/log"
	rpctypes "github.com/tendermint/aquarius/rpc/jsonrpc/types"
)

// serveNode exposes the view calls and block reads of n over HTTP JSON-RPC,
// counting the posts it receives.
func serveNode(t *testing.T, n *chaintest.Node, posts *int32) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	serve := func(req rpctypes.RPCRequest) rpctypes.RPCResponse {
		resp := rpctypes.RPCResponse{JSONRPC: "2.0", ID: req.ID}
		var params []json.RawMessage
		require.NoError(t, json.Unmarshal(req.Params, &params))

		var (
			result interface{}
			err    error
		)
		switch req.Method {
		case "eth_call":
			var msg struct {
				To   common.Address `json:"to"`
				Data hexutil.Bytes  `json:"data"`
			}
			require.NoError(t, json.Unmarshal(params[0], &msg))
			var out []byte
			out, err = n.CallContract(ctx, msg.To, msg.Data)
			result = hexutil.Bytes(out)
		case "eth_getBlockByNumber":
			var number hexutil.Big
			require.NoError(t, json.Unmarshal(params[0], &number))
			result, err = n.BlockByNumber(ctx, (*big.Int)(&number).Int64())
		default:
			resp.Error = &rpctypes.RPCError{Code: -32601, Message: "method not found"}
			return resp
		}
		if err != nil {
			resp.Error = &rpctypes.RPCError{Code: 3, Message: err.Error()}
			return resp
		}
		resp.Result, err = json.Marshal(result)
		require.NoError(t, err)
		return resp
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(posts, 1)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		if len(body) > 0 && body[0] == '[' {
			var reqs []rpctypes.RPCRequest
			require.NoError(t, json.Unmarshal(body, &reqs))
			resps := make([]rpctypes.RPCResponse, 0, len(reqs))
			for _, req := range reqs {
				resps = append(resps, serve(req))
			}
			_ = json.NewEncoder(w).Encode(resps)
			return
		}
		var req rpctypes.RPCRequest
		require.NoError(t, json.Unmarshal(body, &req))
		_ = json.NewEncoder(w).Encode(serve(req))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReadNFTBatchesOverHTTP(t *testing.T) {
	backend := chaintest.NewNode(testChainID)
	backend.SetNFT(nftAddr, "Data NFT", "DN-1", publisher, "https://oceanprotocol.com/nft/")

	var posts int32
	srv := serveNode(t, backend, &posts)
	c, err := chain.NewClient(srv.URL, time.Second, nil)
	require.NoError(t, err)
	ix, err := NewIndexer(log.TestingLogger(), c, store.NewKVStore(dbm.NewMemDB(), "aquarius"), Config{ChainID: testChainID})
	require.NoError(t, err)

	info, err := ix.readNFT(context.Background(), nftAddr, 12)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&posts))
	assert.Equal(t, 4, backend.ViewCalls())
	assert.Equal(t, "Data NFT", info.Name)
	assert.Equal(t, "DN-1", info.Symbol)
	assert.Equal(t, publisher, info.Owner)
	assert.Equal(t, "https://oceanprotocol.com/nft/", info.TokenURI)
	assert.Equal(t, int64(1640995212), info.Created.Unix())

	_, err = ix.readNFT(context.Background(), stranger, 12)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading nft "+stranger.Hex())
}

func TestReadNFTWithoutBatching(t *testing.T) {
	f := newFixture(t, Config{})
	info, err := f.indexer.readNFT(context.Background(), nftAddr, 12)
	require.NoError(t, err)
	assert.Equal(t, publisher, info.Owner)
	assert.Equal(t, "https://oceanprotocol.com/nft/", info.TokenURI)
	assert.Equal(t, int64(1640995212), info.Created.Unix())
}

func TestReadDatatokensRejectsBeforeCalling(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	f := newFixture(t, Config{})
	d := testDDO()
	d["services"] = []interface{}{
		map[string]interface{}{"id": "access", "datatokenAddress": dtAddr.Hex()},
		map[string]interface{}{"id": "compute", "datatokenAddress": "0xnothex"},
	}

	_, err := f.indexer.readDatatokens(context.Background(), d)
	require.ErrorIs(t, err, ErrInvalidDDO)
	assert.Contains(t, err.Error(), "compute")
	assert.Zero(t, f.node.ViewCalls())

	d["services"] = []interface{}{
		map[string]interface{}{"id": "access", "datatokenAddress": dtAddr.Hex()},
	}
	out, err := f.indexer.readDatatokens(context.Background(), d)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "DT1", out[0].(map[string]interface{})["symbol"])
	assert.Equal(t, "access", out[0].(map[string]interface{})["serviceId"])
}
