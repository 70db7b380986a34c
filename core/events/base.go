package events

import "time"

// Kind is the wire name of an event type ("turn_start", "tool_call_progress").
type Kind string

// Event is implemented by every engine event. Consumers switch on Kind to
// decode the payload they care about.
type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

// Base carries the kind and creation time every event shares. Embed it and
// build it with NewBase so the timestamp is never zero.
type Base struct {
	kind      Kind
	timestamp time.Time
}

// NewBase stamps a base with the current time.
func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

// Kind reports the event's wire name.
func (b Base) Kind() Kind { return b.kind }

// Timestamp reports when the event was created.
func (b Base) Timestamp() time.Time { return b.timestamp }
