package null

import (
	"context"

	"github.com/tendermint/aquarius/config"
	"github.com/tendermint/aquarius/internal/audit"
)

var _ audit.EventSink = (*EventSink)(nil)

func init() {
	audit.RegisterSink(config.AuditSinkNull, func(*config.AuditConfig) (audit.EventSink, error) {
		return NewEventSink(), nil
	})
}

// EventSink implements a no-op audit sink.
type EventSink struct{}

func NewEventSink() audit.EventSink {
	return &EventSink{}
}

func (nes *EventSink) Type() audit.EventSinkType {
	return audit.NULL
}

func (nes *EventSink) IndexEvent(context.Context, audit.Record) error {
	return nil
}

func (nes *EventSink) Stop() error {
	return nil
}
