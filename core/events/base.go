package events

import "time"

type Kind string

type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

// Base carries the fields every event shares. Embed it and construct it with
// NewBase.
type Base struct {
	kind      Kind
	timestamp time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}

// Handler receives events. Handlers are called sequentially on the emitting
// component's event loop and must not block for long.
type Handler func(Event)
