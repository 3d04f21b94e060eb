package chain

import (
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrReceiptNotFound is returned when the node does not know the transaction
// (yet).
var ErrReceiptNotFound = errors.New("transaction receipt not found")

// Log is an event log as returned by eth_getLogs and inside receipts.
type Log struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	TxHash      common.Hash    `json:"transactionHash"`
	TxIndex     hexutil.Uint   `json:"transactionIndex"`
	BlockHash   common.Hash    `json:"blockHash"`
	Index       hexutil.Uint   `json:"logIndex"`
	Removed     bool           `json:"removed"`
}

// Topic0 returns the event signature hash of the log, or the zero hash for
// anonymous events.
func (l Log) Topic0() common.Hash {
	if len(l.Topics) == 0 {
		return common.Hash{}
	}
	return l.Topics[0]
}

// Receipt is the subset of a transaction receipt the indexer relies on.
type Receipt struct {
	TxHash      common.Hash     `json:"transactionHash"`
	BlockNumber hexutil.Uint64  `json:"blockNumber"`
	BlockHash   common.Hash     `json:"blockHash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	Status      hexutil.Uint64  `json:"status"`
	Logs        []Log           `json:"logs"`
}

// Block is the subset of a block header used for timestamps.
type Block struct {
	Number    hexutil.Uint64 `json:"number"`
	Hash      common.Hash    `json:"hash"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

// FilterQuery selects logs for eth_getLogs. Topics follow the node's
// positional OR-list semantics.
type FilterQuery struct {
	FromBlock int64
	ToBlock   int64
	Addresses []common.Address
	Topics    [][]common.Hash
}

func (q FilterQuery) MarshalJSON() ([]byte, error) {
	arg := map[string]interface{}{
		"fromBlock": (*hexutil.Big)(big.NewInt(q.FromBlock)),
		"toBlock":   (*hexutil.Big)(big.NewInt(q.ToBlock)),
	}
	if len(q.Addresses) > 0 {
		arg["address"] = q.Addresses
	}
	if len(q.Topics) > 0 {
		topics := make([]interface{}, len(q.Topics))
		for i, alternatives := range q.Topics {
			switch len(alternatives) {
			case 0:
				topics[i] = nil
			case 1:
				topics[i] = alternatives[0]
			default:
				topics[i] = alternatives
			}
		}
		arg["topics"] = topics
	}
	return json.Marshal(arg)
}
