package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/tendermint/aquarius/internal/ddo"
	rpcserver "github.com/tendermint/aquarius/rpc/server"
)

const octetStream = "application/octet-stream"

type validationMessage struct {
	Message string `json:"message"`
}

type validationErrors struct {
	Errors ddo.ValidationErrors `json:"errors"`
}

// ValidateDDO checks a raw DDO and, when it is valid, answers with the
// service's signature over the exact bytes received.
func (env *Environment) ValidateDDO(w http.ResponseWriter, r *http.Request) {
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct != octetStream {
		rpcserver.WriteError(w, http.StatusBadRequest, "Invalid request content type: should be %s", octetStream)
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		rpcserver.WriteError(w, http.StatusBadRequest, errInvalidPayload)
		return
	}
	var d ddo.DDO
	if err := json.Unmarshal(raw, &d); err != nil || d == nil {
		rpcserver.WriteError(w, http.StatusBadRequest, errInvalidPayload)
		return
	}

	if env.RBAC.Enabled() {
		valid, err := env.RBAC.Validate(r.Context(), d)
		if err != nil {
			env.Logger.Error("rbac validation failed", "err", err)
			rpcserver.WriteError(w, http.StatusInternalServerError, "Encountered error when validating asset: %v.", err)
			return
		}
		if !valid {
			rpcserver.WriteError(w, http.StatusBadRequest, "DDO marked invalid by the RBAC server.")
			return
		}
	}

	if d.Version() == "" {
		rpcserver.WriteJSON(w, http.StatusBadRequest, []validationMessage{{Message: "no version provided for DDO."}})
		return
	}
	if errs := d.ValidateBasic(); errs != nil {
		rpcserver.WriteJSON(w, http.StatusBadRequest, validationErrors{Errors: errs})
		return
	}

	if env.Signer == nil {
		rpcserver.WriteError(w, http.StatusInternalServerError, "Encountered error when validating asset: no private key configured.")
		return
	}
	sig, err := env.Signer.SignDDO(raw)
	if err != nil {
		env.Logger.Error("signing ddo", "err", err)
		rpcserver.WriteError(w, http.StatusInternalServerError, "Encountered error when validating asset: %v.", err)
		return
	}
	rpcserver.WriteJSON(w, http.StatusOK, sig)
}
