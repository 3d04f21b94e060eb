package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/tendermint/aquarius/internal/chain"
	rpcserver "github.com/tendermint/aquarius/rpc/server"
)

type triggerRequest struct {
	TransactionID string      `json:"transactionId"`
	LogIndex      json.Number `json:"logIndex"`
}

func parseTriggerRequest(r *http.Request) (triggerRequest, error) {
	var req triggerRequest
	if q := r.URL.Query(); q.Get("transactionId") != "" {
		req.TransactionID = q.Get("transactionId")
		req.LogIndex = json.Number(q.Get("logIndex"))
		return req, nil
	}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	err := dec.Decode(&req)
	return req, err
}

// TriggerCaching processes the MetadataCreated or MetadataUpdated event of
// a transaction right away and returns the cached DDO.
func (env *Environment) TriggerCaching(w http.ResponseWriter, r *http.Request) {
	req, err := parseTriggerRequest(r)
	if err != nil {
		rpcserver.WriteError(w, http.StatusBadRequest, errInvalidPayload)
		return
	}
	if !isTxHash(req.TransactionID) {
		rpcserver.WriteError(w, http.StatusBadRequest, "Invalid transactionId %q.", req.TransactionID)
		return
	}
	logIndex := int64(0)
	if req.LogIndex != "" {
		if logIndex, err = strconv.ParseInt(string(req.LogIndex), 10, 64); err != nil {
			rpcserver.WriteError(w, http.StatusBadRequest, "Invalid logIndex %q.", req.LogIndex)
			return
		}
	}
	if env.Node == nil || env.Indexer == nil {
		rpcserver.WriteError(w, http.StatusInternalServerError, "Encountered error when triggering caching: no chain node configured.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), env.ReceiptTimeout)
	defer cancel()
	receipt, err := chain.WaitForReceipt(ctx, env.Node, common.HexToHash(req.TransactionID), env.ReceiptInterval)
	if err != nil {
		env.Logger.Error("trigger caching failed", "tx", req.TransactionID, "err", err)
		rpcserver.WriteError(w, http.StatusInternalServerError, "Encountered error when triggering caching: %v.", err)
		return
	}
	if logIndex < 0 || logIndex >= int64(len(receipt.Logs)) {
		rpcserver.WriteError(w, http.StatusBadRequest, "Log index %d not found", logIndex)
		return
	}

	contract := receipt.Logs[logIndex].Address
	l, ok := metadataLog(receipt, contract)
	if !ok {
		rpcserver.WriteError(w, http.StatusBadRequest, "No metadata created/updated event found in tx.")
		return
	}

	d, err := env.Indexer.ProcessMetadataLog(r.Context(), l)
	if err != nil {
		env.Logger.Error("trigger caching failed", "tx", req.TransactionID, "err", err)
		rpcserver.WriteError(w, http.StatusInternalServerError, "Encountered error when triggering caching: %v.", err)
		return
	}
	env.Logger.Info("cached asset on demand", "tx", req.TransactionID, "did", d.ID())
	rpcserver.WriteJSON(w, http.StatusOK, d.Sanitize())
}

// metadataLog returns the first MetadataCreated log of contract in the
// receipt, falling back to the first MetadataUpdated one.
func metadataLog(receipt *chain.Receipt, contract common.Address) (chain.Log, bool) {
	for _, name := range []string{chain.EventMetadataCreated, chain.EventMetadataUpdated} {
		for _, l := range chain.ReceiptEvents(receipt, name) {
			if l.Address == contract {
				return l, true
			}
		}
	}
	return chain.Log{}, false
}

func isTxHash(s string) bool {
	bz, err := hexutil.Decode(s)
	return err == nil && len(bz) == common.HashLength
}
