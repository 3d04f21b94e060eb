// Package audit records every on-chain event the monitor handled, and what
// it did with it.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/tendermint/aquarius/config"
)

type EventSinkType string

const (
	NULL EventSinkType = "null"
	PSQL EventSinkType = "psql"
)

// Outcome of handling one event.
const (
	OutcomeStored  = "stored"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Record describes one handled event log.
type Record struct {
	ChainID     int64
	TxHash      string
	LogIndex    uint
	BlockNumber int64
	Event       string
	Contract    string
	DID         string
	Outcome     string
	Reason      string
	Time        time.Time
}

// EventSink stores Records. Indexing the same (chain, tx, log index) twice
// keeps the first record.
type EventSink interface {
	IndexEvent(ctx context.Context, r Record) error

	// Type checks the eventsink structure type.
	Type() EventSinkType

	// Stop will close the data store connection, if the eventsink supports it.
	Stop() error
}

// SinkFactory returns a newly-minted EventSink for the given configuration.
//
// Note: The returned EventSink should clean up any resources instantiated
// by the SinkFactory for it in EventSink.Stop().
type SinkFactory func(cfg *config.AuditConfig) (EventSink, error)

var registry = map[string]SinkFactory{}

func RegisterSink(name string, factory SinkFactory) {
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("duplicate audit sink factory: '%s'", name))
	}
	registry[name] = factory
}

func CreateSink(cfg *config.AuditConfig) (EventSink, error) {
	factory := registry[cfg.Sink]
	if factory == nil {
		return nil, fmt.Errorf("unknown audit sink: %s", cfg.Sink)
	}
	return factory(cfg)
}
