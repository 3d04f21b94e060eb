// Package chaintest provides an in-memory chain.Node and log builders for
// tests of packages that index chain events.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/tendermint/aquarius/internal/chain"
)

// Node is a fake chain.Node. Logs are grouped into receipts by transaction
// hash; view calls are answered from registered values.
type Node struct {
	mtx sync.Mutex

	chainID  int64
	height   int64
	logs     []chain.Log
	receipts map[common.Hash]*chain.Receipt
	views    map[common.Address]map[string][]interface{}

	// GetLogsCalls records every query passed to GetLogs.
	GetLogsCalls []chain.FilterQuery
	viewCalls    int
	// Err, when set, is returned by every method.
	Err error
}

var _ chain.Node = (*Node)(nil)

func NewNode(chainID int64) *Node {
	return &Node{
		chainID:  chainID,
		receipts: make(map[common.Hash]*chain.Receipt),
		views:    make(map[common.Address]map[string][]interface{}),
	}
}

func (n *Node) SetHeight(h int64) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.height = h
}

// AddLog appends l to the chain and to the receipt of its transaction, which
// is created with the given sender on first use.
func (n *Node) AddLog(from common.Address, l chain.Log) chain.Log {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	r, ok := n.receipts[l.TxHash]
	if !ok {
		r = &chain.Receipt{
			TxHash:      l.TxHash,
			BlockNumber: l.BlockNumber,
			From:        from,
			Status:      1,
		}
		n.receipts[l.TxHash] = r
	}
	l.Index = hexutil.Uint(len(n.logs))
	r.Logs = append(r.Logs, l)
	n.logs = append(n.logs, l)
	if int64(l.BlockNumber) > n.height {
		n.height = int64(l.BlockNumber)
	}
	return l
}

// SetReceiptTo sets the "to" field of a transaction's receipt.
func (n *Node) SetReceiptTo(tx common.Hash, to common.Address) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if r, ok := n.receipts[tx]; ok {
		r.To = &to
	}
}

// SetView registers the outputs returned by a view method of a contract.
func (n *Node) SetView(contract common.Address, method string, outputs ...interface{}) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if n.views[contract] == nil {
		n.views[contract] = make(map[string][]interface{})
	}
	n.views[contract][method] = outputs
}

// SetNFT registers the views the indexer reads from a data NFT.
func (n *Node) SetNFT(nft common.Address, name, symbol string, owner common.Address, tokenURI string) {
	n.SetView(nft, "name", name)
	n.SetView(nft, "symbol", symbol)
	n.SetView(nft, "ownerOf", owner)
	n.SetView(nft, "tokenURI", tokenURI)
}

// SetDatatoken registers the views the indexer reads from a datatoken.
func (n *Node) SetDatatoken(dt common.Address, name, symbol string, nft common.Address) {
	n.SetView(dt, "name", name)
	n.SetView(dt, "symbol", symbol)
	n.SetView(dt, "getERC721Address", nft)
}

func (n *Node) ChainID(context.Context) (int64, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.chainID, n.Err
}

func (n *Node) BlockNumber(context.Context) (int64, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.height, n.Err
}

func (n *Node) BlockByNumber(_ context.Context, number int64) (*chain.Block, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if n.Err != nil {
		return nil, n.Err
	}
	return &chain.Block{
		Number:    hexutil.Uint64(number),
		Timestamp: hexutil.Uint64(1640995200 + number),
	}, nil
}

func (n *Node) GetLogs(_ context.Context, q chain.FilterQuery) ([]chain.Log, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.GetLogsCalls = append(n.GetLogsCalls, q)
	if n.Err != nil {
		return nil, n.Err
	}
	var out []chain.Log
	for _, l := range n.logs {
		b := int64(l.BlockNumber)
		if b < q.FromBlock || b > q.ToBlock || !matchTopics(l, q.Topics) {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, l.Address) {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BlockNumber < out[j].BlockNumber })
	return out, nil
}

func (n *Node) TransactionReceipt(_ context.Context, tx common.Hash) (*chain.Receipt, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if n.Err != nil {
		return nil, n.Err
	}
	r, ok := n.receipts[tx]
	if !ok {
		return nil, fmt.Errorf("%s: %w", tx.Hex(), chain.ErrReceiptNotFound)
	}
	cp := *r
	cp.Logs = append([]chain.Log(nil), r.Logs...)
	return &cp, nil
}

var callableABIs = []abi.ABI{chain.ERC721ABI, chain.ERC20ABI, chain.FixedRateABI}

// ViewCalls returns the number of CallContract calls made so far.
func (n *Node) ViewCalls() int {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.viewCalls
}

func (n *Node) CallContract(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.viewCalls++
	if n.Err != nil {
		return nil, n.Err
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("short call data")
	}
	for _, a := range callableABIs {
		m, err := a.MethodById(data[:4])
		if err != nil {
			continue
		}
		outputs, ok := n.views[to][m.Name]
		if !ok {
			return nil, fmt.Errorf("execution reverted: %s has no %s", to.Hex(), m.Name)
		}
		return m.Outputs.Pack(outputs...)
	}
	return nil, fmt.Errorf("unknown selector %x", data[:4])
}

func matchTopics(l chain.Log, topics [][]common.Hash) bool {
	for i, alternatives := range topics {
		if len(alternatives) == 0 {
			continue
		}
		if i >= len(l.Topics) {
			return false
		}
		found := false
		for _, t := range alternatives {
			if l.Topics[i] == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsAddress(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

//-----------------------------------------------------------------------------
// log builders

// NewLog encodes an event of contract emitted by address. Values are the
// event's inputs in declaration order, indexed ones included.
func NewLog(contract abi.ABI, event string, address common.Address, block int64, tx common.Hash, values ...interface{}) chain.Log {
	ev, ok := contract.Events[event]
	if !ok {
		panic("unknown event " + event)
	}
	if len(values) != len(ev.Inputs) {
		panic(fmt.Sprintf("%s takes %d values, got %d", event, len(ev.Inputs), len(values)))
	}

	topics := []common.Hash{ev.ID}
	var data []interface{}
	for i, arg := range ev.Inputs {
		if !arg.Indexed {
			data = append(data, values[i])
			continue
		}
		topics = append(topics, topicFor(values[i]))
	}
	payload, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		panic(fmt.Sprintf("packing %s: %v", event, err))
	}
	return chain.Log{
		Address:     address,
		Topics:      topics,
		Data:        payload,
		BlockNumber: hexutil.Uint64(block),
		TxHash:      tx,
	}
}

func topicFor(v interface{}) common.Hash {
	switch t := v.(type) {
	case common.Address:
		return common.BytesToHash(t.Bytes())
	case [32]byte:
		return common.Hash(t)
	case common.Hash:
		return t
	case *big.Int:
		return common.BigToHash(t)
	default:
		panic(fmt.Sprintf("unsupported indexed value %T", v))
	}
}

// MetadataLog builds a MetadataCreated or MetadataUpdated log.
func MetadataLog(event string, nft common.Address, block int64, tx common.Hash,
	updatedBy common.Address, state uint8, decryptorURL string, flags byte, data []byte, hash [32]byte,
) chain.Log {
	return NewLog(chain.ERC721ABI, event, nft, block, tx,
		updatedBy, state, decryptorURL, []byte{flags}, data, hash,
		big.NewInt(1640995200+block), big.NewInt(block))
}

// TxHash derives a deterministic transaction hash from n.
func TxHash(n int64) common.Hash {
	return common.BigToHash(big.NewInt(0x1000 + n))
}
