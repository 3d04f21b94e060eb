package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
)

// DevelopmentChainID is the chain id of the local barge network, which
// always indexes from block 0.
const DevelopmentChainID = 8996

// ErrNetworkNotFound is returned when the address file has no entry for a
// chain id.
var ErrNetworkNotFound = errors.New("network not found in address file")

// Network is one entry of the contracts address file.
type Network struct {
	Name       string
	ChainID    int64
	StartBlock int64
	Contracts  map[string]common.Address
}

// Contract returns the deployed address of a named contract.
func (n Network) Contract(name string) (common.Address, bool) {
	a, ok := n.Contracts[name]
	return a, ok
}

// FixedPrice returns the FixedRateExchange deployment.
func (n Network) FixedPrice() (common.Address, bool) { return n.Contract("FixedPrice") }

// Dispenser returns the Dispenser deployment.
func (n Network) Dispenser() (common.Address, bool) { return n.Contract("Dispenser") }

// Addresses is the parsed contracts address file, keyed by network name.
type Addresses map[string]Network

// LoadAddresses reads the address file written by the contracts deployment,
// of the form {"<network>": {"chainId": 8996, "startBlock": 0, "<Contract>": "0x..."}}.
// Non-address entries other than chainId and startBlock are ignored.
func LoadAddresses(path string) (Addresses, error) {
	bz, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading address file: %w", err)
	}
	return ParseAddresses(bz)
}

func ParseAddresses(bz []byte) (Addresses, error) {
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(bz, &raw); err != nil {
		return nil, fmt.Errorf("parsing address file: %w", err)
	}

	out := make(Addresses, len(raw))
	for name, entries := range raw {
		n := Network{Name: name, Contracts: make(map[string]common.Address)}
		for key, val := range entries {
			switch key {
			case "chainId":
				if err := json.Unmarshal(val, &n.ChainID); err != nil {
					return nil, fmt.Errorf("network %s: invalid chainId: %w", name, err)
				}
			case "startBlock":
				if err := json.Unmarshal(val, &n.StartBlock); err != nil {
					return nil, fmt.Errorf("network %s: invalid startBlock: %w", name, err)
				}
			default:
				var s string
				if err := json.Unmarshal(val, &s); err != nil || !common.IsHexAddress(s) {
					continue
				}
				n.Contracts[key] = common.HexToAddress(s)
			}
		}
		out[name] = n
	}
	return out, nil
}

// ByChainID returns the network with the given chain id.
func (a Addresses) ByChainID(chainID int64) (Network, error) {
	for _, n := range a {
		if n.ChainID == chainID {
			return n, nil
		}
	}
	return Network{}, fmt.Errorf("chain %d: %w", chainID, ErrNetworkNotFound)
}

// StartBlock resolves the first block to index for a chain: an explicit
// configured block wins, the development chain starts at 0, otherwise the
// address file entry is used, defaulting to 0.
func StartBlock(configured int64, chainID int64, addrs Addresses) int64 {
	if configured >= 0 {
		return configured
	}
	if chainID == DevelopmentChainID || addrs == nil {
		return 0
	}
	n, err := addrs.ByChainID(chainID)
	if err != nil {
		return 0
	}
	return n.StartBlock
}
