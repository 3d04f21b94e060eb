package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	rpcclient "github.com/tendermint/aquarius/rpc/jsonrpc/client"
)

// BatchNode is a Node that can send several reads in one round trip.
type BatchNode interface {
	Node
	NewBatch() (*Batch, bool)
}

var _ BatchNode = (*Client)(nil)

// Batch queues read-only calls and sends them as a single JSON-RPC batch.
// Outputs are written to the targets given when queueing, once Send returns
// without error. A Batch is not reusable.
type Batch struct {
	client *Client
	reqs   *rpcclient.RequestBatch
	decode []func() error
	err    error
}

// NewBatch starts a batch. It reports false when the client's caller cannot
// batch requests.
func (c *Client) NewBatch() (*Batch, bool) {
	if c.batcher == nil {
		return nil, false
	}
	return &Batch{client: c, reqs: c.batcher.NewRequestBatch()}, true
}

// Len returns the number of queued calls.
func (b *Batch) Len() int { return b.reqs.Count() }

func (b *Batch) queue(method string, result interface{}, decode func() error, params ...interface{}) {
	if b.err != nil {
		return
	}
	// RequestBatch.Call only enqueues
	if err := b.reqs.Call(context.Background(), method, params, result); err != nil {
		b.err = fmt.Errorf("queueing %s: %w", method, err)
		return
	}
	b.decode = append(b.decode, decode)
}

func (b *Batch) view(contract abi.ABI, to common.Address, method string, set func([]interface{}) error, args ...interface{}) {
	if b.err != nil {
		return
	}
	data, err := contract.Pack(method, args...)
	if err != nil {
		b.err = fmt.Errorf("packing %s: %w", method, err)
		return
	}
	out := new(hexutil.Bytes)
	msg := map[string]interface{}{
		"to":   to,
		"data": hexutil.Bytes(data),
	}
	b.queue("eth_call", out, func() error {
		vals, err := contract.Unpack(method, *out)
		if err != nil {
			return fmt.Errorf("unpacking %s on %s: %w", method, to.Hex(), err)
		}
		return set(vals)
	}, msg, "latest")
}

func (b *Batch) viewString(contract abi.ABI, to common.Address, method string, dst *string, args ...interface{}) {
	b.view(contract, to, method, func(vals []interface{}) (err error) {
		*dst, err = firstString(method, vals)
		return err
	}, args...)
}

func (b *Batch) viewAddress(contract abi.ABI, to common.Address, method string, dst *common.Address, args ...interface{}) {
	b.view(contract, to, method, func(vals []interface{}) (err error) {
		*dst, err = firstAddress(method, vals)
		return err
	}, args...)
}

// TokenName queues name() of token.
func (b *Batch) TokenName(token common.Address, dst *string) {
	b.viewString(ERC20ABI, token, "name", dst)
}

// TokenSymbol queues symbol() of token.
func (b *Batch) TokenSymbol(token common.Address, dst *string) {
	b.viewString(ERC20ABI, token, "symbol", dst)
}

// NFTOwner queues ownerOf(1) of nft.
func (b *Batch) NFTOwner(nft common.Address, dst *common.Address) {
	b.viewAddress(ERC721ABI, nft, "ownerOf", dst, big.NewInt(1))
}

// NFTTokenURI queues tokenURI(1) of nft.
func (b *Batch) NFTTokenURI(nft common.Address, dst *string) {
	b.viewString(ERC721ABI, nft, "tokenURI", dst, big.NewInt(1))
}

// BlockByNumber queues a block header read.
func (b *Batch) BlockByNumber(number int64, dst *Block) {
	var res *Block
	b.queue("eth_getBlockByNumber", &res, func() error {
		if res == nil {
			return fmt.Errorf("block %d not found", number)
		}
		*dst = *res
		return nil
	}, hexutil.EncodeBig(big.NewInt(number)), false)
}

// Send posts the queued calls and decodes every output. The first failing
// call fails the whole batch.
func (b *Batch) Send(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}
	if len(b.decode) == 0 {
		return nil
	}
	c := b.client
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()
	_, err := b.reqs.Send(ctx)
	c.metrics.RequestDuration.With("method", "batch").Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.RequestErrors.With("method", "batch").Add(1)
		return err
	}
	for _, decode := range b.decode {
		if err := decode(); err != nil {
			return err
		}
	}
	return nil
}
