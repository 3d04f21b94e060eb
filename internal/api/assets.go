package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/tendermint/aquarius/internal/store"
	rpcserver "github.com/tendermint/aquarius/rpc/server"
)

const errInvalidPayload = "Invalid payload. The request could not be converted into a dict."

// GetDDO returns the cached DDO of an asset.
func (env *Environment) GetDDO(w http.ResponseWriter, r *http.Request) {
	did := r.PathValue("did")
	d, err := env.Store.Get(r.Context(), did)
	switch {
	case store.IsNotFound(err):
		rpcserver.WriteError(w, http.StatusNotFound, "Asset DID %s not found in Elasticsearch.", did)
	case err != nil:
		rpcserver.WriteError(w, http.StatusNotFound, "Error encountered while searching the asset DID %s: %v.", did, err)
	default:
		rpcserver.WriteJSON(w, http.StatusOK, d.Sanitize())
	}
}

// GetMetadata returns the metadata section of a cached DDO.
func (env *Environment) GetMetadata(w http.ResponseWriter, r *http.Request) {
	did := r.PathValue("did")
	d, err := env.Store.Get(r.Context(), did)
	if err != nil {
		env.Logger.Error("get metadata", "did", did, "err", err)
		rpcserver.WriteError(w, http.StatusNotFound, "Error encountered while retrieving metadata: %v.", err)
		return
	}
	md := d.Metadata()
	if md == nil {
		rpcserver.WriteError(w, http.StatusNotFound, "Error encountered while retrieving metadata: %s has no metadata.", did)
		return
	}
	rpcserver.WriteJSON(w, http.StatusOK, md)
}

// AssetNames maps every DID of {"didList": [...]} to its asset name, or ""
// when the asset is unknown.
func (env *Environment) AssetNames(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload == nil {
		rpcserver.WriteError(w, http.StatusBadRequest, errInvalidPayload)
		return
	}
	raw, ok := payload["didList"]
	if !ok {
		rpcserver.WriteError(w, http.StatusBadRequest, "`didList` is required in the request payload.")
		return
	}
	if isEmpty(raw) {
		rpcserver.WriteError(w, http.StatusBadRequest, "The requested didList can not be empty.")
		return
	}
	list, ok := raw.([]interface{})
	if !ok {
		rpcserver.WriteError(w, http.StatusBadRequest, "The didList must be a list.")
		return
	}

	names := make(map[string]string, len(list))
	for _, v := range list {
		did, ok := v.(string)
		if !ok {
			continue
		}
		names[did] = ""
		if d, err := env.Store.Get(r.Context(), did); err == nil {
			names[did] = d.Name()
		}
	}
	rpcserver.WriteJSON(w, http.StatusOK, names)
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	}
	return false
}

// Query runs a native query against the asset index.
func (env *Environment) Query(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		rpcserver.WriteError(w, http.StatusBadRequest, errInvalidPayload)
		return
	}
	var query map[string]interface{}
	if err := json.Unmarshal(body, &query); err != nil || query == nil {
		rpcserver.WriteError(w, http.StatusBadRequest, errInvalidPayload)
		return
	}

	res, err := env.Store.Search(r.Context(), body)
	if err != nil {
		var serr *store.Error
		if errors.As(err, &serr) {
			env.Logger.Info("store rejected query", "status", serr.Status, "reason", serr.Reason)
			status := serr.Status
			if status < http.StatusBadRequest {
				status = http.StatusInternalServerError
			}
			rpcserver.WriteJSON(w, status, rpcserver.ErrorResponse{Error: serr.Reason, Info: serr.Info})
			return
		}
		env.Logger.Error("query failed", "err", err)
		rpcserver.WriteError(w, http.StatusInternalServerError, "Encountered Elasticsearch Exception: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res)
}
