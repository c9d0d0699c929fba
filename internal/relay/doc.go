// Package relay contains the connection registry and signal-routing engine:
// it tracks which participant identity is reachable through which live
// channel, groups identities into rooms, and routes opaque signaling
// payloads with consistent lifecycle semantics on connect and disconnect.
//
// The package never performs transport I/O. Channels are handles owned by
// the transport layer; sends only enqueue onto a channel's outbound queue.
package relay
