// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection queue of detection events; a client that cannot keep
	// up loses the oldest events rather than blocking the broadcaster.
	EventQueueSize = 16

	// Write deadline for a single WebSocket push.
	PushTimeout = 5 * time.Second

	ReadHeaderTimeout = 5 * time.Second
	ShutdownTimeout   = 5 * time.Second
)
