package store

import (
	"context"
	"fmt"
	"time"

	dbm "github.com/tendermint/tm-db"

	"github.com/tendermint/aquarius/config"
	"github.com/tendermint/aquarius/libs/log"
)

// NewFromConfig builds the configured backend. Elasticsearch indices are
// not created here; call EnsureIndices once the store answers Ping.
func NewFromConfig(cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendKV:
		db, err := dbm.NewDB("assets", dbm.BackendType(cfg.DBBackend), cfg.DBDir())
		if err != nil {
			return nil, fmt.Errorf("opening asset db: %w", err)
		}
		return NewKVStore(db, cfg.Store.Index), nil

	case config.StoreBackendElasticsearch:
		return NewESStore(ESOptions{
			Addresses:      []string{cfg.Store.ESAddress},
			Username:       cfg.Store.ESUsername,
			Password:       cfg.Store.ESPassword,
			Index:          cfg.Store.Index,
			CACertFile:     cfg.Store.TLSCACert,
			ClientCertFile: cfg.Store.TLSClientCert,
			ClientKeyFile:  cfg.Store.TLSClientKey,
			SkipVerify:     cfg.Store.IsTLSEnabled() && !cfg.Store.TLSVerify,
		})

	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

// indexCreator is implemented by backends that need their indices created.
type indexCreator interface {
	EnsureIndices(ctx context.Context) error
}

// WaitReady blocks until s answers Ping, retrying every interval, then
// creates missing indices. It returns early with ctx.Err() when cancelled.
func WaitReady(ctx context.Context, s Store, interval time.Duration, logger log.Logger) error {
	for {
		err := s.Ping(ctx)
		if err == nil {
			break
		}
		logger.Error("connection to store failed, retrying", "backend", s.Type(), "err", err, "retry_in", interval)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	logger.Info("stable connection to store", "backend", s.Type())

	if ic, ok := s.(indexCreator); ok {
		return ic.EnsureIndices(ctx)
	}
	return nil
}
