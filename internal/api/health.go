package api

import (
	"context"
	"net/http"
	"time"

	rpcserver "github.com/tendermint/aquarius/rpc/server"
	"github.com/tendermint/aquarius/version"
)

const healthTimeout = 5 * time.Second

type rootInfo struct {
	Software string `json:"software"`
	Version  string `json:"version"`
	Plugin   string `json:"plugin"`
}

// Root describes the running software.
func (env *Environment) Root(w http.ResponseWriter, r *http.Request) {
	rpcserver.WriteJSON(w, http.StatusOK, rootInfo{
		Software: version.Software,
		Version:  version.Version,
		Plugin:   string(env.Store.Type()),
	})
}

type healthStatus struct {
	Store string `json:"store"`
	Chain string `json:"chain,omitempty"`
}

// Health reports whether the store and the chain node answer. It fails with
// 503 when the store is down. Causes are logged, never returned.
func (env *Environment) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := healthStatus{Store: "ok"}
	code := http.StatusOK
	if err := env.Store.Ping(ctx); err != nil {
		env.Logger.Error("health: store unreachable", "err", err)
		status.Store = "error"
		code = http.StatusServiceUnavailable
	}
	if env.Node != nil {
		status.Chain = "ok"
		if _, err := env.Node.BlockNumber(ctx); err != nil {
			env.Logger.Error("health: chain node unreachable", "err", err)
			status.Chain = "error"
		}
	}
	rpcserver.WriteJSON(w, code, status)
}
