package relay

import (
	"log/slog"

	"webrtc-signal-relay/internal/metrics"
)

// Router is the signal-routing engine. It owns the registry, room table and
// call-peer table, and implements every lifecycle operation the transport's
// per-connection read loops invoke.
//
// Delivery is at-most-once and best-effort. Fan-out snapshots the member set
// under a read lock, then enqueues after all locks are released; a full or
// closed channel drops the event and bumps a counter.
type Router struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	registry *Registry
	rooms    *Rooms
	calls    *Calls
}

type RouterConfig struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func NewRouter(cfg RouterConfig) *Router {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		log:      log,
		metrics:  cfg.Metrics,
		registry: NewRegistry(),
		rooms:    NewRooms(),
		calls:    NewCalls(),
	}
}

// Connect registers a freshly accepted channel under its connection-derived
// ID, making it addressable before any explicit register message.
func (r *Router) Connect(ch Channel) {
	r.registry.Register(ch.ID(), ch)
	r.metrics.Inc(metrics.ConnectionsOpened)
	r.log.Debug("channel connected", "channel_id", ch.ID())
}

// Register re-registers ch under a client-chosen identity, superseding any
// prior holder. Existing room memberships move to the new identity so the
// disconnect path cannot leak them; co-members observe the move as a
// user_left(old) + user_joined(new) pair.
func (r *Router) Register(ch Channel, identity string) {
	old, ok := r.registry.IdentityOf(ch)
	if !ok {
		// Already superseded or closed; nothing to bind the identity to.
		r.metrics.Inc(metrics.StaleDisconnects)
		return
	}

	prev, superseded := r.registry.Register(identity, ch)

	if old != identity {
		rooms := r.rooms.Rename(old, identity)
		r.calls.Rename(old, identity)
		for _, room := range rooms {
			for _, member := range r.rooms.Members(room) {
				if member == identity {
					continue
				}
				r.deliver(member, Event{Kind: EventUserLeft, Room: room, Identity: old})
				r.deliver(member, Event{Kind: EventUserJoined, Room: room, Identity: identity})
			}
		}
	}

	if superseded {
		r.metrics.Inc(metrics.RegistrationsSuperseded)
		r.log.Info("registration superseded", "identity", identity, "old_channel_id", prev.ID(), "new_channel_id", ch.ID())
		_ = prev.Close()
	}

	r.send(ch, Event{Kind: EventRegistered, Identity: identity})
	r.log.Debug("identity registered", "identity", identity, "channel_id", ch.ID())
}

// Join adds the channel's identity to a room and notifies the other members.
// Joining twice is a no-op and re-notifies nobody.
func (r *Router) Join(ch Channel, room string) {
	identity, ok := r.registry.IdentityOf(ch)
	if !ok {
		return
	}
	if !r.rooms.Join(room, identity) {
		return
	}
	for _, member := range r.rooms.Members(room) {
		if member == identity {
			continue
		}
		r.deliver(member, Event{Kind: EventUserJoined, Room: room, Identity: identity})
	}
	r.log.Debug("joined room", "identity", identity, "room", room)
}

// Leave removes the channel's identity from a room and notifies the
// remaining members. Leaving a room you are not in is a no-op.
func (r *Router) Leave(ch Channel, room string) {
	identity, ok := r.registry.IdentityOf(ch)
	if !ok {
		return
	}
	if !r.rooms.Leave(room, identity) {
		return
	}
	for _, member := range r.rooms.Members(room) {
		r.deliver(member, Event{Kind: EventUserLeft, Room: room, Identity: identity})
	}
	r.log.Debug("left room", "identity", identity, "room", room)
}

// Signal routes an opaque payload. Exactly one of room/to is set; the
// signaling layer validates this before calling. Room mode fans out to every
// member except the sender. Direct mode sends to one identity and records
// the pair in the call table; an unknown target is dropped and counted,
// never surfaced to the sender.
func (r *Router) Signal(ch Channel, room, to string, payload []byte) {
	identity, ok := r.registry.IdentityOf(ch)
	if !ok {
		return
	}

	ev := Event{Kind: EventSignal, From: identity, Payload: payload}

	if room != "" {
		for _, member := range r.rooms.Members(room) {
			if member == identity {
				continue
			}
			r.deliver(member, ev)
		}
		return
	}

	target, ok := r.registry.Lookup(to)
	if !ok {
		r.metrics.Inc(metrics.SignalUnknownTarget)
		r.log.Debug("signal to unknown target", "from", identity, "to", to)
		return
	}
	r.send(target, ev)
	r.calls.Link(identity, to)
}

// EndCall notifies the identity's room co-members and linked direct-call
// peers that the call ended, then drops the identity's call links.
func (r *Router) EndCall(ch Channel) {
	identity, ok := r.registry.IdentityOf(ch)
	if !ok {
		return
	}

	recipients := make(map[string]struct{})
	for _, room := range r.rooms.RoomsOf(identity) {
		for _, member := range r.rooms.Members(room) {
			recipients[member] = struct{}{}
		}
	}
	for _, peer := range r.calls.Drop(identity) {
		recipients[peer] = struct{}{}
	}
	delete(recipients, identity)

	ev := Event{Kind: EventCallEnded, Identity: identity}
	for member := range recipients {
		r.deliver(member, ev)
	}
	r.log.Debug("call ended", "identity", identity, "recipients", len(recipients))
}

// Disconnect runs the cleanup for a closed channel. A superseded channel no
// longer reverse-resolves and is ignored, so a late close cannot evict the
// newer registration or its room memberships.
func (r *Router) Disconnect(ch Channel) {
	identity, ok := r.registry.IdentityOf(ch)
	if !ok {
		r.metrics.Inc(metrics.StaleDisconnects)
		return
	}
	if !r.registry.Unregister(identity, ch) {
		r.metrics.Inc(metrics.StaleDisconnects)
		return
	}

	for _, room := range r.rooms.RemoveFromAll(identity) {
		for _, member := range r.rooms.Members(room) {
			r.deliver(member, Event{Kind: EventUserLeft, Room: room, Identity: identity})
		}
	}

	// A direct-mode peer has no room through which to observe the departure.
	for _, peer := range r.calls.Drop(identity) {
		r.deliver(peer, Event{Kind: EventCallEnded, Identity: identity})
	}

	r.metrics.Inc(metrics.ConnectionsClosed)
	r.log.Debug("channel disconnected", "identity", identity, "channel_id", ch.ID())
}

// deliver resolves an identity and enqueues. Misses are normal during
// disconnect races; drops are counted, not retried.
func (r *Router) deliver(identity string, ev Event) {
	ch, ok := r.registry.Lookup(identity)
	if !ok {
		return
	}
	r.send(ch, ev)
}

func (r *Router) send(ch Channel, ev Event) {
	if !ch.Send(ev) {
		r.metrics.Inc(metrics.SignalSendDropped)
		r.log.Debug("event dropped", "kind", string(ev.Kind), "channel_id", ch.ID())
	}
}
