// Package api serves the aquarius HTTP API: cached assets, native queries,
// DDO validation, manual caching of a transaction and chain status.
package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendermint/aquarius/internal/chain"
	"github.com/tendermint/aquarius/internal/events"
	"github.com/tendermint/aquarius/internal/rbac"
	"github.com/tendermint/aquarius/internal/signer"
	"github.com/tendermint/aquarius/internal/store"
	"github.com/tendermint/aquarius/libs/log"
)

// Prefix of the asset and chain routes.
const Prefix = "/api/aquarius"

const (
	defaultReceiptTimeout  = 30 * time.Second
	defaultReceiptInterval = time.Second
)

// Environment contains objects and interfaces used by the API handlers. It
// is expected to be setup once during startup.
type Environment struct {
	Logger log.Logger

	Store store.Store
	// Node and Indexer serve triggerCaching and the health check. Both may
	// be nil, in which case the routes answer with an error.
	Node    chain.Node
	Indexer *events.Indexer
	// Signer signs validated DDOs. May be nil.
	Signer *signer.Signer
	RBAC   *rbac.Client

	// Serve the Prometheus registry under /metrics.
	Prometheus bool

	// How long triggerCaching waits for a transaction to be mined.
	ReceiptTimeout  time.Duration
	ReceiptInterval time.Duration
}

// Handler returns the routes of the API.
func (env *Environment) Handler() http.Handler {
	if env.Logger == nil {
		env.Logger = log.NewNopLogger()
	}
	if env.ReceiptTimeout <= 0 {
		env.ReceiptTimeout = defaultReceiptTimeout
	}
	if env.ReceiptInterval <= 0 {
		env.ReceiptInterval = defaultReceiptInterval
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", env.Root)
	mux.HandleFunc("GET /health", env.Health)

	mux.HandleFunc("GET "+Prefix+"/assets/ddo/{did}", env.GetDDO)
	mux.HandleFunc("GET "+Prefix+"/assets/metadata/{did}", env.GetMetadata)
	mux.HandleFunc("POST "+Prefix+"/assets/names", env.AssetNames)
	mux.HandleFunc("POST "+Prefix+"/assets/query", env.Query)
	mux.HandleFunc("POST "+Prefix+"/assets/ddo/validate", env.ValidateDDO)
	mux.HandleFunc("POST "+Prefix+"/assets/triggerCaching", env.TriggerCaching)

	mux.HandleFunc("GET "+Prefix+"/chains/list", env.ChainsList)
	mux.HandleFunc("GET "+Prefix+"/chains/status/{chainId}", env.ChainStatus)

	if env.Prometheus {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return mux
}
