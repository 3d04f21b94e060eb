package api

import (
	"net/http"
	"strconv"

	rpcserver "github.com/tendermint/aquarius/rpc/server"
)

// ChainsList returns the indexed chains.
func (env *Environment) ChainsList(w http.ResponseWriter, r *http.Request) {
	chains, err := env.Store.Chains(r.Context())
	if err != nil {
		rpcserver.WriteError(w, http.StatusNotFound, "Error retrieving chains: %v.", err)
		return
	}
	if len(chains) == 0 {
		rpcserver.WriteError(w, http.StatusNotFound, "No chains found.")
		return
	}
	rpcserver.WriteJSON(w, http.StatusOK, chains)
}

type chainStatus struct {
	LastBlock int64 `json:"last_block"`
}

// ChainStatus returns the last block processed for a chain.
func (env *Environment) ChainStatus(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("chainId")
	chainID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		rpcserver.WriteError(w, http.StatusNotFound, "Chain %s is not indexed.", raw)
		return
	}
	block, ok, err := env.Store.LastBlock(r.Context(), chainID)
	switch {
	case err != nil:
		rpcserver.WriteError(w, http.StatusNotFound, "Error retrieving chain %d: %v.", chainID, err)
	case !ok:
		rpcserver.WriteError(w, http.StatusNotFound, "Chain %d is not indexed.", chainID)
	default:
		rpcserver.WriteJSON(w, http.StatusOK, chainStatus{LastBlock: block})
	}
}
