package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	rpcclient "github.com/tendermint/aquarius/rpc/jsonrpc/client"
)

// Node is the read-only view of an EVM node used by the indexer.
type Node interface {
	ChainID(ctx context.Context) (int64, error)
	BlockNumber(ctx context.Context) (int64, error)
	BlockByNumber(ctx context.Context, number int64) (*Block, error)
	GetLogs(ctx context.Context, q FilterQuery) ([]Log, error)
	TransactionReceipt(ctx context.Context, tx common.Hash) (*Receipt, error)
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Client talks to a node over HTTP JSON-RPC.
type Client struct {
	rpc     rpcclient.Caller
	batcher *rpcclient.Client
	timeout time.Duration
	metrics *Metrics
}

var _ Node = (*Client)(nil)

// NewClient dials nothing; the first request opens the connection. A zero
// timeout disables the per-request deadline.
func NewClient(rpcURL string, timeout time.Duration, metrics *Metrics) (*Client, error) {
	c, err := rpcclient.New(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("creating rpc client for %q: %w", rpcURL, err)
	}
	return NewClientWithCaller(c, timeout, metrics), nil
}

// NewClientWithCaller wraps an existing caller. Batches are only available
// when caller is an HTTP client.
func NewClientWithCaller(caller rpcclient.Caller, timeout time.Duration, metrics *Metrics) *Client {
	if metrics == nil {
		metrics = NopMetrics()
	}
	c := &Client{rpc: caller, timeout: timeout, metrics: metrics}
	c.batcher, _ = caller.(*rpcclient.Client)
	return c
}

func (c *Client) call(ctx context.Context, method string, result interface{}, params ...interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()
	err := c.rpc.Call(ctx, method, params, result)
	c.metrics.RequestDuration.With("method", method).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.RequestErrors.With("method", method).Add(1)
		return err
	}
	return nil
}

func (c *Client) ChainID(ctx context.Context) (int64, error) {
	var id hexutil.Big
	if err := c.call(ctx, "eth_chainId", &id); err != nil {
		return 0, err
	}
	return (*big.Int)(&id).Int64(), nil
}

func (c *Client) BlockNumber(ctx context.Context) (int64, error) {
	var n hexutil.Uint64
	if err := c.call(ctx, "eth_blockNumber", &n); err != nil {
		return 0, err
	}
	return int64(n), nil
}

func (c *Client) BlockByNumber(ctx context.Context, number int64) (*Block, error) {
	var b *Block
	err := c.call(ctx, "eth_getBlockByNumber", &b, hexutil.EncodeBig(big.NewInt(number)), false)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("block %d not found", number)
	}
	return b, nil
}

func (c *Client) GetLogs(ctx context.Context, q FilterQuery) ([]Log, error) {
	var logs []Log
	if err := c.call(ctx, "eth_getLogs", &logs, q); err != nil {
		return nil, err
	}
	return logs, nil
}

func (c *Client) TransactionReceipt(ctx context.Context, tx common.Hash) (*Receipt, error) {
	var r *Receipt
	if err := c.call(ctx, "eth_getTransactionReceipt", &r, tx); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%s: %w", tx.Hex(), ErrReceiptNotFound)
	}
	return r, nil
}

// CallContract executes a read-only call against the latest block.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := map[string]interface{}{
		"to":   to,
		"data": hexutil.Bytes(data),
	}
	var out hexutil.Bytes
	if err := c.call(ctx, "eth_call", &out, msg, "latest"); err != nil {
		return nil, err
	}
	return out, nil
}

// WaitForReceipt polls for a receipt until it is mined or ctx is done.
func WaitForReceipt(ctx context.Context, n Node, tx common.Hash, interval time.Duration) (*Receipt, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		r, err := n.TransactionReceipt(ctx, tx)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ErrReceiptNotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
