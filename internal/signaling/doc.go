// Package signaling implements the relay's WebSocket surface: the JSON wire
// protocol, per-connection hardening (read limit, message rate limit, idle
// timeout with ping keepalive), and the bounded outbound queue that decouples
// routing from slow clients.
package signaling
