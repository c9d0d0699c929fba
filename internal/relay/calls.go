package relay

import "sync"

// Calls records which identities have exchanged direct-mode signals, so a
// call-ended notification reaches the actual counterparties instead of every
// connected client. Links are symmetric.
type Calls struct {
	mu    sync.Mutex
	peers map[string]map[string]struct{}
}

func NewCalls() *Calls {
	return &Calls{
		peers: make(map[string]map[string]struct{}),
	}
}

// Link records a direct-signal exchange between a and b. Self-links are
// ignored.
func (c *Calls) Link(a, b string) {
	if a == b {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.linkLocked(a, b)
	c.linkLocked(b, a)
}

func (c *Calls) linkLocked(from, to string) {
	set, ok := c.peers[from]
	if !ok {
		set = make(map[string]struct{})
		c.peers[from] = set
	}
	set[to] = struct{}{}
}

// Drop removes every link involving identity and returns the former peers.
func (c *Calls) Drop(identity string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.peers[identity]
	if !ok {
		return nil
	}
	delete(c.peers, identity)

	out := make([]string, 0, len(set))
	for peer := range set {
		out = append(out, peer)
		if back, ok := c.peers[peer]; ok {
			delete(back, identity)
			if len(back) == 0 {
				delete(c.peers, peer)
			}
		}
	}
	return out
}

// Rename moves all of old's links to next, fixing up the reverse entries.
func (c *Calls) Rename(old, next string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.peers[old]
	if !ok {
		return
	}
	delete(c.peers, old)
	for peer := range set {
		if peer == next {
			continue
		}
		if back, ok := c.peers[peer]; ok {
			delete(back, old)
		}
		c.linkLocked(next, peer)
		c.linkLocked(peer, next)
	}
}
