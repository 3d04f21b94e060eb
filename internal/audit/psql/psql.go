// Package psql implements an audit sink backed by a PostgreSQL database.
package psql

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/adlio/schema"
	// Register the Postgres database driver.
	_ "github.com/lib/pq"

	"github.com/tendermint/aquarius/config"
	"github.com/tendermint/aquarius/internal/audit"
)

const (
	tableProcessedEvents = "processed_events"
	driverName           = "postgres"

	// stable id of the embedded schema in the migrations table
	schemaMigrationID = "2024-01-15 processed events"
)

//go:embed schema.sql
var schemaSQL string

var _ audit.EventSink = (*EventSink)(nil)

func init() {
	audit.RegisterSink(config.AuditSinkPSQL, func(cfg *config.AuditConfig) (audit.EventSink, error) {
		return NewEventSink(cfg.PsqlConn)
	})
}

// EventSink is an audit sink that writes data to a PostgreSQL database.
type EventSink struct {
	store *sql.DB
}

// NewEventSink constructs an event sink associated with the PostgreSQL
// database specified by connStr, and installs the schema when missing.
func NewEventSink(connStr string) (*EventSink, error) {
	db, err := sql.Open(driverName, connStr)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &EventSink{store: db}, nil
}

// Migrate applies the sink schema to db.
func Migrate(db *sql.DB) error {
	migrations := []*schema.Migration{{ID: schemaMigrationID, Script: schemaSQL}}
	if err := schema.NewMigrator().Apply(db, migrations); err != nil {
		return fmt.Errorf("applying audit schema: %w", err)
	}
	return nil
}

// DB returns the underlying Postgres connection used by the sink.
// This is exported to support testing.
func (es *EventSink) DB() *sql.DB { return es.store }

// Type returns the structure type for this sink, which is always
// audit.PSQL.
func (es *EventSink) Type() audit.EventSinkType { return audit.PSQL }

// IndexEvent inserts r. A record for the same event log is left as is.
func (es *EventSink) IndexEvent(ctx context.Context, r audit.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := es.store.ExecContext(ctx, `
INSERT INTO `+tableProcessedEvents+`
  (chain_id, tx_hash, log_index, block_number, event, contract, did, outcome, reason, created_at)
  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
  ON CONFLICT DO NOTHING;
`, r.ChainID, r.TxHash, int64(r.LogIndex), r.BlockNumber, r.Event, r.Contract, r.DID, r.Outcome, r.Reason, ts.UTC())
	if err != nil {
		return fmt.Errorf("indexing event %s/%d: %w", r.TxHash, r.LogIndex, err)
	}
	return nil
}

// Outcome returns the recorded outcome of an event log, or "" when the
// event was never recorded.
func (es *EventSink) Outcome(ctx context.Context, chainID int64, txHash string, logIndex uint) (string, error) {
	var outcome string
	err := es.store.QueryRowContext(ctx, `
SELECT outcome FROM `+tableProcessedEvents+`
  WHERE chain_id = $1 AND tx_hash = $2 AND log_index = $3;
`, chainID, txHash, int64(logIndex)).Scan(&outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return outcome, err
}

// Stop closes the underlying PostgreSQL database.
func (es *EventSink) Stop() error { return es.store.Close() }
