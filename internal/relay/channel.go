package relay

import "encoding/json"

// Channel is one live, bidirectional connection to a participant.
//
// A Channel owns exactly one underlying transport session and is never
// shared between two registry entries; the registry holds a non-owning
// reference. Implementations live in the transport layer.
type Channel interface {
	// ID is a unique connection identifier, stable for the channel's lifetime.
	ID() string

	// Send enqueues an event for delivery. It must never block: it returns
	// false when the channel is closed or its outbound queue is full, and the
	// event is dropped.
	Send(Event) bool

	// Close tears down the underlying transport. Idempotent.
	Close() error
}

type EventKind string

const (
	EventRegistered EventKind = "registered"
	EventSignal     EventKind = "signal"
	EventUserJoined EventKind = "user_joined"
	EventUserLeft   EventKind = "user_left"
	EventCallEnded  EventKind = "call_ended"
)

// Event is an outbound notification routed to a channel. Payload is opaque
// to the relay and forwarded verbatim.
type Event struct {
	Kind EventKind

	// Identity is the subject of registered/user_joined/user_left/call_ended.
	Identity string

	// Room is set on user_joined/user_left.
	Room string

	// From is the sender identity on signal events. It is attached by the
	// router, never trusted from the payload.
	From string

	Payload json.RawMessage
}
