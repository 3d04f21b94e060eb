package events

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tendermint/aquarius/internal/chain"
	"github.com/tendermint/aquarius/internal/ddo"
	"github.com/tendermint/aquarius/internal/purgatory"
)

// NFT states that retire an asset. The cached document is reduced to its
// identifying fields.
var softDeleteStates = map[int64]bool{
	1: true, // end of life
	2: true, // deprecated
	3: true, // revoked
}

// fields kept by a soft-deleted document
var softDeleteFields = []string{"id", "nftAddress", "chainId", "nft", "event"}

// ProcessMetadataLog handles a MetadataCreated or MetadataUpdated log and
// returns the document written to the store.
func (ix *Indexer) ProcessMetadataLog(ctx context.Context, l chain.Log) (ddo.DDO, error) {
	name := eventName(l)
	ev, err := chain.UnpackMetadata(name, l)
	if err != nil {
		return nil, err
	}

	receipt, err := ix.node.TransactionReceipt(ctx, l.TxHash)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	if err := ix.checkPublisher(receipt.From); err != nil {
		return nil, err
	}
	if err := ix.checkProofs(receipt, l.Address); err != nil {
		return nil, err
	}

	raw, err := ix.readDocument(ctx, ev)
	if err != nil {
		return nil, err
	}
	d, err := ddo.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDDO, err)
	}
	if errs := d.ValidateBasic(); errs != nil {
		return d, fmt.Errorf("%w: %v", ErrInvalidDDO, errs)
	}
	did := ix.didOf(l.Address)
	if d.ID() != did {
		return d, fmt.Errorf("%w: id %s does not belong to nft %s on chain %d", ErrInvalidDDO, d.ID(), l.Address.Hex(), ix.cfg.ChainID)
	}

	existing, err := ix.getAsset(ctx, l.Address)
	switch {
	case err == nil:
		if block, ok := existing.EventBlock(); ok && block > int64(l.BlockNumber) {
			return existing, fmt.Errorf("%s at block %d: %w", did, block, ErrStaleEvent)
		}
	case isSkip(err):
		existing = nil
		if name == chain.EventMetadataUpdated {
			ix.logger.Info("update for an asset that is not cached, creating it", "did", did)
		}
	default:
		return nil, err
	}

	nft, err := ix.readNFT(ctx, l.Address, int64(l.BlockNumber))
	if err != nil {
		return nil, err
	}
	datatokens, err := ix.readDatatokens(ctx, d)
	if err != nil {
		return nil, err
	}

	nftSection := nft.section(ev.State)
	if existing != nil {
		if created, ok := existing.Object("nft")["created"]; ok {
			nftSection["created"] = created
		}
	}
	d["nft"] = nftSection
	d["datatokens"] = datatokens
	d["event"] = eventSection(l, receipt.From, ev.Timestamp.Int64())
	if existing != nil && existing.Object("stats") != nil {
		d["stats"] = existing["stats"]
	} else {
		d["stats"] = map[string]interface{}{"orders": 0}
	}
	inPurgatory, reason := ix.purgatory.IsInPurgatory(did, nft.Owner.Hex())
	purgatory.SetState(d, inPurgatory, reason)

	if err := ix.store.Put(ctx, d); err != nil {
		return nil, fmt.Errorf("storing %s: %w", did, err)
	}
	ix.logger.Info("asset cached", "event", name, "did", did, "block", uint64(l.BlockNumber))
	return d, nil
}

func (ix *Indexer) checkPublisher(from common.Address) error {
	if len(ix.publishers) == 0 || ix.publishers[from] {
		return nil
	}
	return fmt.Errorf("%s: %w", from.Hex(), ErrPublisherNotAllowed)
}

// checkProofs requires a MetadataValidated log of the same NFT in the
// transaction, signed by an allowed validator.
func (ix *Indexer) checkProofs(receipt *chain.Receipt, nft common.Address) error {
	if len(ix.validators) == 0 {
		return nil
	}
	for _, l := range chain.ReceiptEvents(receipt, chain.EventMetadataValidated) {
		if l.Address != nft {
			continue
		}
		proof, err := chain.UnpackMetadataValidated(l)
		if err != nil {
			ix.logger.Debug("undecodable metadata proof", "tx", receipt.TxHash.Hex(), "err", err)
			continue
		}
		if ix.validators[proof.Validator] {
			return nil
		}
	}
	return fmt.Errorf("tx %s: %w", receipt.TxHash.Hex(), ErrProofRejected)
}

// readDocument returns the plain document bytes of a metadata event and
// checks them against the published hash.
func (ix *Indexer) readDocument(ctx context.Context, ev *chain.MetadataEvent) ([]byte, error) {
	var flags byte
	if len(ev.Flags) > 0 {
		flags = ev.Flags[0]
	}

	var (
		raw []byte
		err error
	)
	switch {
	case flags&ddo.FlagEncrypted != 0:
		if ix.decryptor == nil {
			return nil, fmt.Errorf("encrypted ddo in tx %s and no decryptor configured", ev.Raw.TxHash.Hex())
		}
		raw, err = ix.decryptor.Decrypt(ctx, DecryptRequest{
			URL:     ev.DecryptorUrl,
			TxHash:  ev.Raw.TxHash,
			ChainID: ix.cfg.ChainID,
			NFT:     ev.Raw.Address,
		})
		if err != nil {
			return nil, fmt.Errorf("decrypting ddo: %w", err)
		}
	case flags&ddo.FlagCompressed != 0:
		raw, err = ddo.Decompress(ev.Data)
		if err != nil {
			return nil, err
		}
	default:
		raw = ev.Data
	}

	if err := ddo.VerifyHash(raw, ev.MetaDataHash); err != nil {
		return nil, fmt.Errorf("tx %s, expected %s: %w", ev.Raw.TxHash.Hex(), hex.EncodeToString(ev.MetaDataHash[:]), err)
	}
	return raw, nil
}

// handleMetadataState applies a MetadataState log to the cached asset.
func (ix *Indexer) handleMetadataState(ctx context.Context, l chain.Log) (string, error) {
	did := ix.didOf(l.Address)
	ev, err := chain.UnpackMetadataState(l)
	if err != nil {
		return did, err
	}
	state := int64(ev.State)

	d, err := ix.getAsset(ctx, l.Address)
	if err != nil {
		return did, err
	}
	if block, ok := d.EventBlock(); ok && block > int64(l.BlockNumber) {
		return did, fmt.Errorf("%s at block %d: %w", did, block, ErrStaleEvent)
	}

	nft := d.Object("nft")
	if nft == nil {
		nft = map[string]interface{}{"address": l.Address.Hex()}
	}
	nft["state"] = state
	d["nft"] = nft
	d["event"] = eventSection(l, ev.UpdatedBy, ev.Timestamp.Int64())

	switch {
	case softDeleteStates[state]:
		d = softDelete(d)
		ix.logger.Info("asset retired", "did", did, "state", state)
	case state == 0 && d.Metadata() == nil:
		ix.logger.Info("asset was retired and is active again; republish the ddo to restore it", "did", did)
	}

	if err := ix.store.Put(ctx, d); err != nil {
		return did, fmt.Errorf("storing %s: %w", did, err)
	}
	return did, nil
}

func softDelete(d ddo.DDO) ddo.DDO {
	out := make(ddo.DDO, len(softDeleteFields))
	for _, k := range softDeleteFields {
		if v, ok := d[k]; ok {
			out[k] = v
		}
	}
	return out
}

func eventSection(l chain.Log, from common.Address, timestamp int64) map[string]interface{} {
	return map[string]interface{}{
		"tx":       l.TxHash.Hex(),
		"block":    int64(l.BlockNumber),
		"from":     from.Hex(),
		"contract": l.Address.Hex(),
		"datetime": formatTime(timestamp),
	}
}
