package events

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tendermint/aquarius/internal/chain"
	"github.com/tendermint/aquarius/internal/ddo"
)

// prices are published with 18 decimals
var priceDecimals = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// statsUpdate changes the stats section of an asset.
type statsUpdate func(stats map[string]interface{})

// handlePriceLog resolves the datatoken an order or pricing event is about,
// then updates the stats of the asset owning it.
func (ix *Indexer) handlePriceLog(ctx context.Context, l chain.Log) (string, error) {
	datatoken, update, err := ix.decodePriceLog(ctx, l)
	if err != nil {
		return "", err
	}
	nft, err := chain.DatatokenNFT(ctx, ix.node, datatoken)
	if err != nil {
		return "", fmt.Errorf("resolving nft of datatoken %s: %w", datatoken.Hex(), err)
	}
	did := ix.didOf(nft)

	d, err := ix.getAsset(ctx, nft)
	if err != nil {
		return did, err
	}
	stats := d.Object("stats")
	if stats == nil {
		stats = map[string]interface{}{"orders": int64(0)}
	}
	update(stats)
	d["stats"] = stats

	if err := ix.store.Put(ctx, d); err != nil {
		return did, fmt.Errorf("storing %s: %w", did, err)
	}
	return did, nil
}

func (ix *Indexer) decodePriceLog(ctx context.Context, l chain.Log) (common.Address, statsUpdate, error) {
	switch eventName(l) {
	case chain.EventOrderStarted:
		if _, err := chain.UnpackOrderStarted(l); err != nil {
			return common.Address{}, nil, err
		}
		return l.Address, incrementOrders, nil

	case chain.EventExchangeCreated:
		ev, err := chain.UnpackExchangeCreated(l)
		if err != nil {
			return common.Address{}, nil, err
		}
		return ev.Datatoken, setPrice(scalePrice(ev.FixedRate), ev.BaseToken, l.Address), nil

	case chain.EventExchangeRateChanged:
		ev, err := chain.UnpackExchangeRateChanged(l)
		if err != nil {
			return common.Address{}, nil, err
		}
		ex, err := chain.GetExchange(ctx, ix.node, l.Address, ev.ExchangeId)
		if err != nil {
			return common.Address{}, nil, err
		}
		return ex.Datatoken, setPrice(scalePrice(ev.NewRate), ex.BaseToken, l.Address), nil

	case chain.EventDispenserCreated:
		ev, err := chain.UnpackDispenserCreated(l)
		if err != nil {
			return common.Address{}, nil, err
		}
		return ev.DatatokenAddress, setFreePrice(l.Address), nil

	default:
		return common.Address{}, nil, fmt.Errorf("%s is not a price event", l.Topic0().Hex())
	}
}

func incrementOrders(stats map[string]interface{}) {
	orders, _ := ddo.DDO(stats).IntField("orders")
	stats["orders"] = orders + 1
}

func setPrice(value float64, baseToken, contract common.Address) statsUpdate {
	return func(stats map[string]interface{}) {
		stats["price"] = map[string]interface{}{
			"value":        value,
			"tokenAddress": baseToken.Hex(),
			"contract":     contract.Hex(),
		}
	}
}

func setFreePrice(contract common.Address) statsUpdate {
	return func(stats map[string]interface{}) {
		stats["price"] = map[string]interface{}{
			"value":    float64(0),
			"contract": contract.Hex(),
		}
	}
}

func scalePrice(rate *big.Int) float64 {
	if rate == nil {
		return 0
	}
	v, _ := new(big.Float).Quo(new(big.Float).SetInt(rate), priceDecimals).Float64()
	return v
}

// handleTokenURI records the new token URI of a data NFT.
func (ix *Indexer) handleTokenURI(ctx context.Context, l chain.Log) (string, error) {
	did := ix.didOf(l.Address)
	ev, err := chain.UnpackTokenURIUpdate(l)
	if err != nil {
		return did, err
	}
	d, err := ix.getAsset(ctx, l.Address)
	if err != nil {
		return did, err
	}
	nft := d.Object("nft")
	if nft == nil {
		nft = map[string]interface{}{"address": l.Address.Hex()}
	}
	nft["tokenURI"] = ev.TokenURI
	d["nft"] = nft
	if err := ix.store.Put(ctx, d); err != nil {
		return did, fmt.Errorf("storing %s: %w", did, err)
	}
	return did, nil
}
