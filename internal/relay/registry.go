package relay

import "sync"

// Registry maps participant identities to live channels. It is the single
// source of truth for "who is currently reachable".
//
// Invariant: at most one live channel per identity, and at most one identity
// per live channel, at any instant.
type Registry struct {
	mu         sync.RWMutex
	byIdentity map[string]Channel
	byChannel  map[string]string // channel ID -> identity
}

func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[string]Channel),
		byChannel:  make(map[string]string),
	}
}

// Register inserts or replaces the identity's mapping (last-writer-wins).
//
// When the identity was held by a different live channel, that channel is
// returned with superseded=true. The registry does not close it; deciding
// that is the caller's job. Any previous identity held by ch is cleared, so
// a channel maps to at most one identity.
func (r *Registry) Register(identity string, ch Channel) (prev Channel, superseded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byChannel[ch.ID()]; ok && old != identity {
		if cur, held := r.byIdentity[old]; held && cur.ID() == ch.ID() {
			delete(r.byIdentity, old)
		}
	}

	if cur, ok := r.byIdentity[identity]; ok && cur.ID() != ch.ID() {
		prev = cur
		superseded = true
		delete(r.byChannel, cur.ID())
	}

	r.byIdentity[identity] = ch
	r.byChannel[ch.ID()] = identity
	return prev, superseded
}

// Lookup is a pure read; it never blocks on I/O.
func (r *Registry) Lookup(identity string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.byIdentity[identity]
	return ch, ok
}

// Unregister removes the mapping only if the stored channel is ch. This
// guards against a stale disconnect evicting a newer registration for the
// same identity after supersession.
func (r *Registry) Unregister(identity string, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byIdentity[identity]
	if !ok || cur.ID() != ch.ID() {
		return false
	}
	delete(r.byIdentity, identity)
	delete(r.byChannel, ch.ID())
	return true
}

// IdentityOf reverse-resolves the identity currently served by ch. A
// superseded channel no longer resolves.
func (r *Registry) IdentityOf(ch Channel) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.byChannel[ch.ID()]
	return identity, ok
}

// Len reports the number of live registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}
