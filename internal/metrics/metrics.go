package metrics

import "sync"

// Counter names used across the relay. Names are intentionally simple; a
// follow-up metrics task can standardize and export these via OTel.
const (
	ConnectionsOpened = "connections_opened"
	ConnectionsClosed = "connections_closed"

	SignalUnknownTarget = "signal_unknown_target"
	SignalSendDropped   = "signal_send_dropped"

	DropReasonRateLimited = "rate_limited"
	DropReasonBadMessage  = "bad_message"
	DropReasonSlowClient  = "slow_client"

	RegistrationsSuperseded = "registrations_superseded"
	StaleDisconnects        = "stale_disconnects"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The relay is expected to plug into a real metrics backend eventually; this
// type exists to keep routing decisions (dropped sends, unknown targets)
// observable and testable in the meantime.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
