// Package purgatory keeps the purgatory flag of cached assets in sync with
// the published lists of flagged assets and accounts.
package purgatory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tendermint/aquarius/config"
	"github.com/tendermint/aquarius/internal/ddo"
	"github.com/tendermint/aquarius/internal/store"
	"github.com/tendermint/aquarius/libs/log"
)

const (
	fetchTimeout = 30 * time.Second
	// upper bound on the assets returned by one search
	searchSize = 10000
)

// AssetEntry is an element of the asset list.
type AssetEntry struct {
	DID    string `json:"did"`
	Reason string `json:"reason"`
}

// AccountEntry is an element of the account list.
type AccountEntry struct {
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

// Purgatory holds the last fetched lists. It is safe for concurrent use.
type Purgatory struct {
	logger   log.Logger
	store    store.Store
	assetURL string
	acctURL  string
	interval time.Duration
	http     *http.Client
	now      func() time.Time

	mtx        sync.RWMutex
	assets     map[string]string // did -> reason
	accounts   map[string]string // lower-cased address -> reason
	flagged    map[string]bool   // dids set to true by the last update
	lastUpdate time.Time
}

// New returns a Purgatory for cfg. Update is a no-op when no list is
// configured.
func New(logger log.Logger, s store.Store, cfg *config.PurgatoryConfig) *Purgatory {
	return &Purgatory{
		logger:   logger,
		store:    s,
		assetURL: cfg.AssetURL,
		acctURL:  cfg.AccountURL,
		interval: cfg.UpdateInterval,
		http:     &http.Client{Timeout: fetchTimeout},
		now:      time.Now,
		assets:   make(map[string]string),
		accounts: make(map[string]string),
		flagged:  make(map[string]bool),
	}
}

// Enabled reports whether at least one list is configured.
func (p *Purgatory) Enabled() bool { return p.assetURL != "" || p.acctURL != "" }

// IsInPurgatory reports whether the asset or its owner is listed, with the
// reason.
func (p *Purgatory) IsInPurgatory(did, owner string) (bool, string) {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	if reason, ok := p.assets[did]; ok {
		return true, reason
	}
	if reason, ok := p.accounts[strings.ToLower(owner)]; ok && owner != "" {
		return true, reason
	}
	return false, ""
}

// Update refreshes the lists and the purgatory state of the affected assets.
// It does nothing when the previous update is younger than the interval.
func (p *Purgatory) Update(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	p.mtx.RLock()
	fresh := !p.lastUpdate.IsZero() && p.now().Sub(p.lastUpdate) < p.interval
	p.mtx.RUnlock()
	if fresh {
		return nil
	}

	var (
		assets   []AssetEntry
		accounts []AccountEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	if p.assetURL != "" {
		g.Go(func() error { return p.fetch(gctx, p.assetURL, &assets) })
	}
	if p.acctURL != "" {
		g.Go(func() error { return p.fetch(gctx, p.acctURL, &accounts) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	assetReasons := make(map[string]string, len(assets))
	for _, e := range assets {
		assetReasons[e.DID] = e.Reason
	}
	accountReasons := make(map[string]string, len(accounts))
	for _, e := range accounts {
		accountReasons[strings.ToLower(e.Address)] = e.Reason
	}

	// every did flagged by this update, with its reason
	listed := make(map[string]string, len(assetReasons))
	for did, reason := range assetReasons {
		listed[did] = reason
	}
	for addr, reason := range accountReasons {
		dids, err := p.assetsOwnedBy(ctx, addr)
		if err != nil {
			return err
		}
		for _, did := range dids {
			if _, ok := listed[did]; !ok {
				listed[did] = reason
			}
		}
	}

	p.mtx.Lock()
	previous := p.flagged
	first := p.lastUpdate.IsZero()
	p.assets = assetReasons
	p.accounts = accountReasons
	p.mtx.Unlock()

	// flags written before a restart are only known to the store
	if first {
		stored, err := p.flaggedInStore(ctx)
		if err != nil {
			return err
		}
		previous = make(map[string]bool, len(stored))
		for _, did := range stored {
			previous[did] = true
		}
	}

	flagged := make(map[string]bool, len(listed))
	for did, reason := range listed {
		ok, err := p.setState(ctx, did, true, reason)
		if err != nil {
			return err
		}
		if ok {
			flagged[did] = true
		}
	}
	for did := range previous {
		if _, still := listed[did]; still {
			continue
		}
		if _, err := p.setState(ctx, did, false, ""); err != nil {
			return err
		}
	}

	p.mtx.Lock()
	p.flagged = flagged
	p.lastUpdate = p.now()
	p.mtx.Unlock()

	p.logger.Info("purgatory updated", "assets", len(assetReasons), "accounts", len(accountReasons), "flagged", len(flagged))
	return nil
}

func (p *Purgatory) fetch(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetching purgatory list %s: %w", url, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, res.Body)
		return fmt.Errorf("fetching purgatory list %s: %s", url, res.Status)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding purgatory list %s: %w", url, err)
	}
	return nil
}

func (p *Purgatory) assetsOwnedBy(ctx context.Context, owner string) ([]string, error) {
	dids, err := p.searchDIDs(ctx, map[string]interface{}{
		"match": map[string]interface{}{"nft.owner": owner},
	})
	if err != nil {
		return nil, fmt.Errorf("searching assets of %s: %w", owner, err)
	}
	return dids, nil
}

func (p *Purgatory) flaggedInStore(ctx context.Context) ([]string, error) {
	dids, err := p.searchDIDs(ctx, map[string]interface{}{
		"term": map[string]interface{}{"purgatory.state": true},
	})
	if err != nil {
		return nil, fmt.Errorf("searching flagged assets: %w", err)
	}
	return dids, nil
}

func (p *Purgatory) searchDIDs(ctx context.Context, clause map[string]interface{}) ([]string, error) {
	query, err := json.Marshal(map[string]interface{}{
		"query": clause,
		"size":  searchSize,
	})
	if err != nil {
		return nil, err
	}
	raw, err := p.store.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	res, err := store.DecodeSearch(raw)
	if err != nil {
		return nil, err
	}
	dids := make([]string, 0, len(res.Hits.Hits))
	for _, h := range res.Hits.Hits {
		dids = append(dids, h.ID)
	}
	return dids, nil
}

// setState writes the purgatory object of one asset. Missing assets are
// skipped and reported as not written.
func (p *Purgatory) setState(ctx context.Context, did string, state bool, reason string) (bool, error) {
	d, err := p.store.Get(ctx, did)
	if store.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if current := d.Object("purgatory"); current != nil {
		if st, _ := current["state"].(bool); st == state {
			return true, nil
		}
	}
	SetState(d, state, reason)
	if err := p.store.Put(ctx, d); err != nil {
		return false, fmt.Errorf("updating purgatory state of %s: %w", did, err)
	}
	p.logger.Info("purgatory state changed", "did", did, "state", state, "reason", reason)
	return true, nil
}

// SetState writes the purgatory object of d.
func SetState(d ddo.DDO, state bool, reason string) {
	pg := map[string]interface{}{"state": state}
	if state && reason != "" {
		pg["reason"] = reason
	}
	d["purgatory"] = pg
}
