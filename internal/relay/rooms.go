package relay

import "sync"

// Rooms maps room names to the set of participant identities joined to
// them. Rooms are created implicitly on first join and deleted when their
// member set empties; no empty room is ever retained.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		rooms: make(map[string]map[string]struct{}),
	}
}

// Join adds identity to room, creating the room if absent. It reports
// whether the identity was newly added (joining twice is a no-op).
func (t *Rooms) Join(room, identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	members, ok := t.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		t.rooms[room] = members
	}
	if _, already := members[identity]; already {
		return false
	}
	members[identity] = struct{}{}
	return true
}

// Leave removes identity from room. Leaving a room you are not in is a
// no-op. The room entry is deleted when its set empties.
func (t *Rooms) Leave(room, identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaveLocked(room, identity)
}

func (t *Rooms) leaveLocked(room, identity string) bool {
	members, ok := t.rooms[room]
	if !ok {
		return false
	}
	if _, in := members[identity]; !in {
		return false
	}
	delete(members, identity)
	if len(members) == 0 {
		delete(t.rooms, room)
	}
	return true
}

// Members returns a snapshot of the room's member set, safe to iterate
// while the table is concurrently mutated. The snapshot may be slightly
// stale by the time callers fan out.
func (t *Rooms) Members(room string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	members, ok := t.rooms[room]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// RoomsOf returns the rooms identity currently belongs to.
func (t *Rooms) RoomsOf(identity string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	for room, members := range t.rooms {
		if _, in := members[identity]; in {
			out = append(out, room)
		}
	}
	return out
}

// RemoveFromAll leaves every room identity belongs to, returning the
// affected rooms so the caller can notify remaining members.
func (t *Rooms) RemoveFromAll(identity string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var affected []string
	for room, members := range t.rooms {
		if _, in := members[identity]; !in {
			continue
		}
		affected = append(affected, room)
		delete(members, identity)
		if len(members) == 0 {
			delete(t.rooms, room)
		}
	}
	return affected
}

// Rename moves all of old's memberships to next, returning the affected
// rooms. Used when a channel re-registers under a client-chosen identity
// so the disconnect path cannot leak memberships under the old identity.
func (t *Rooms) Rename(old, next string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var affected []string
	for room, members := range t.rooms {
		if _, in := members[old]; !in {
			continue
		}
		delete(members, old)
		members[next] = struct{}{}
		affected = append(affected, room)
	}
	return affected
}

// RoomCount reports the number of live rooms.
func (t *Rooms) RoomCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms)
}
