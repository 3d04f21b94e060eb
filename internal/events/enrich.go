package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/tendermint/aquarius/internal/chain"
	"github.com/tendermint/aquarius/internal/ddo"
)

// nftInfo is what the indexer reads from a data NFT contract.
type nftInfo struct {
	Address  common.Address
	Name     string
	Symbol   string
	Owner    common.Address
	TokenURI string
	Created  time.Time
}

func (n *nftInfo) section(state uint8) map[string]interface{} {
	return map[string]interface{}{
		"address":  n.Address.Hex(),
		"name":     n.Name,
		"symbol":   n.Symbol,
		"owner":    n.Owner.Hex(),
		"state":    int64(state),
		"tokenURI": n.TokenURI,
		"created":  n.Created.UTC().Format(time.RFC3339),
	}
}

// readNFT reads the NFT views and the timestamp of block, in one batch when
// the node supports it and in parallel otherwise.
func (ix *Indexer) readNFT(ctx context.Context, nft common.Address, block int64) (*nftInfo, error) {
	if bn, ok := ix.node.(chain.BatchNode); ok {
		if b, ok := bn.NewBatch(); ok {
			return readNFTBatch(ctx, b, nft, block)
		}
	}

	info := &nftInfo{Address: nft}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		info.Name, err = chain.TokenName(gctx, ix.node, nft)
		return err
	})
	g.Go(func() (err error) {
		info.Symbol, err = chain.TokenSymbol(gctx, ix.node, nft)
		return err
	})
	g.Go(func() (err error) {
		info.Owner, err = chain.NFTOwner(gctx, ix.node, nft)
		return err
	})
	g.Go(func() (err error) {
		info.TokenURI, err = chain.NFTTokenURI(gctx, ix.node, nft)
		return err
	})
	g.Go(func() error {
		b, err := ix.node.BlockByNumber(gctx, block)
		if err != nil {
			return err
		}
		info.Created = time.Unix(int64(b.Timestamp), 0)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reading nft %s: %w", nft.Hex(), err)
	}
	return info, nil
}

func readNFTBatch(ctx context.Context, b *chain.Batch, nft common.Address, block int64) (*nftInfo, error) {
	info := &nftInfo{Address: nft}
	var header chain.Block
	b.TokenName(nft, &info.Name)
	b.TokenSymbol(nft, &info.Symbol)
	b.NFTOwner(nft, &info.Owner)
	b.NFTTokenURI(nft, &info.TokenURI)
	b.BlockByNumber(block, &header)
	if err := b.Send(ctx); err != nil {
		return nil, fmt.Errorf("reading nft %s: %w", nft.Hex(), err)
	}
	info.Created = time.Unix(int64(header.Timestamp), 0)
	return info, nil
}

// readDatatokens describes the datatoken of every service of d, in
// service order.
func (ix *Indexer) readDatatokens(ctx context.Context, d ddo.DDO) ([]interface{}, error) {
	services := d.Services()
	tokens := make([]common.Address, len(services))
	for i, svc := range services {
		addr, _ := svc["datatokenAddress"].(string)
		if !common.IsHexAddress(addr) {
			serviceID, _ := svc["id"].(string)
			return nil, fmt.Errorf("%w: service %s has datatoken %q", ErrInvalidDDO, serviceID, addr)
		}
		tokens[i] = common.HexToAddress(addr)
	}

	out := make([]interface{}, len(services))
	g, gctx := errgroup.WithContext(ctx)
	for i, svc := range services {
		i, token := i, tokens[i]
		serviceID, _ := svc["id"].(string)
		g.Go(func() error {
			name, err := chain.TokenName(gctx, ix.node, token)
			if err != nil {
				return err
			}
			symbol, err := chain.TokenSymbol(gctx, ix.node, token)
			if err != nil {
				return err
			}
			out[i] = map[string]interface{}{
				"address":   token.Hex(),
				"name":      name,
				"symbol":    symbol,
				"serviceId": serviceID,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reading datatokens: %w", err)
	}
	return out, nil
}

func formatTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}
