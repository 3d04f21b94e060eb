package chain

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rpcclient "github.com/tendermint/aquarius/rpc/jsonrpc/client"
	rpctypes "github.com/tendermint/aquarius/rpc/jsonrpc/types"
)

// nftViews answers eth_call for the ERC721 views of nft.
func nftViews(t *testing.T, nft, owner common.Address) handlerFunc {
	return func(p []json.RawMessage) (interface{}, *rpctypes.RPCError) {
		var msg struct {
			To   common.Address `json:"to"`
			Data hexutil.Bytes  `json:"data"`
		}
		require.NoError(t, json.Unmarshal(p[0], &msg))
		if msg.To != nft {
			return nil, &rpctypes.RPCError{Code: 3, Message: "execution reverted"}
		}
		m, err := ERC721ABI.MethodById(msg.Data[:4])
		require.NoError(t, err)
		var out []byte
		switch m.Name {
		case "name":
			out, err = m.Outputs.Pack("Data NFT")
		case "symbol":
			out, err = m.Outputs.Pack("DN-1")
		case "ownerOf":
			out, err = m.Outputs.Pack(owner)
		case "tokenURI":
			out, err = m.Outputs.Pack("https://oceanprotocol.com/nft/")
		default:
			return nil, &rpctypes.RPCError{Code: 3, Message: "execution reverted"}
		}
		require.NoError(t, err)
		return hexutil.Bytes(out), nil
	}
}

func TestBatchReadsInOneRequest(t *testing.T) {
	nft := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	owner := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	var posts int32
	srv := newCountingTestNode(t, map[string]handlerFunc{
		"eth_call": nftViews(t, nft, owner),
		"eth_getBlockByNumber": func(p []json.RawMessage) (interface{}, *rpctypes.RPCError) {
			assert.JSONEq(t, `"0x5"`, string(p[0]))
			return map[string]string{"number": "0x5", "timestamp": "0x61cf9980"}, nil
		},
	}, &posts)

	c, err := NewClient(srv.URL, time.Second, NopMetrics())
	require.NoError(t, err)
	b, ok := c.NewBatch()
	require.True(t, ok)

	var (
		name, symbol, uri string
		gotOwner          common.Address
		block             Block
	)
	b.TokenName(nft, &name)
	b.TokenSymbol(nft, &symbol)
	b.NFTOwner(nft, &gotOwner)
	b.NFTTokenURI(nft, &uri)
	b.BlockByNumber(5, &block)
	assert.Equal(t, 5, b.Len())

	require.NoError(t, b.Send(context.Background()))
	assert.EqualValues(t, 1, atomic.LoadInt32(&posts))
	assert.Equal(t, "Data NFT", name)
	assert.Equal(t, "DN-1", symbol)
	assert.Equal(t, owner, gotOwner)
	assert.Equal(t, "https://oceanprotocol.com/nft/", uri)
	assert.EqualValues(t, 1640995200, block.Timestamp)
}

func TestBatchFailsOnAnyCall(t *testing.T) {
	nft := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	other := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	srv := newTestNode(t, map[string]handlerFunc{
		"eth_call": nftViews(t, nft, common.Address{}),
		"eth_getBlockByNumber": func([]json.RawMessage) (interface{}, *rpctypes.RPCError) {
			return nil, nil
		},
	})
	c, err := NewClient(srv.URL, time.Second, nil)
	require.NoError(t, err)

	b, _ := c.NewBatch()
	var name string
	b.TokenName(nft, &name)
	b.TokenName(other, &name)
	err = b.Send(context.Background())
	var rpcErr *rpctypes.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, 3, rpcErr.Code)

	b, _ = c.NewBatch()
	var block Block
	b.BlockByNumber(9, &block)
	err = b.Send(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block 9 not found")
}

type recordingCaller struct{ methods []string }

func (r *recordingCaller) Call(_ context.Context, method string, _ []interface{}, _ interface{}) error {
	r.methods = append(r.methods, method)
	return nil
}

func TestNewBatchNeedsHTTPClient(t *testing.T) {
	c := NewClientWithCaller(&recordingCaller{}, 0, nil)
	_, ok := c.NewBatch()
	assert.False(t, ok)

	rc, err := rpcclient.New("http://localhost:8545")
	require.NoError(t, err)
	_, ok = NewClientWithCaller(rc, 0, nil).NewBatch()
	assert.True(t, ok)

	// an empty batch posts nothing
	b, _ := NewClientWithCaller(rc, 0, nil).NewBatch()
	assert.NoError(t, b.Send(context.Background()))
}
