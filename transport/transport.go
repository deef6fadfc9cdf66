// Package transport is the byte-level connection a relay FSM drives: dial,
// write one message, read one message, close. Swapping the implementation
// (a different websocket stack, an in-memory pipe for tests) never touches
// the relay or pool packages above it.
package transport

import (
	"net/http"
	"time"

	"codeberg.org/nostrcore/relaysdk/context"
)

// Conn is one open connection to a relay.
type Conn interface {
	// WriteMessage sends one complete text or binary frame.
	WriteMessage(c context.T, data []byte) error
	// ReadMessage blocks until the next complete frame arrives, appending
	// its payload to buf.
	ReadMessage(c context.T, buf []byte) ([]byte, error)
	// Ping writes a WebSocket ping control frame; ReadMessage's internal
	// loop observes the matching pong and records the round-trip time
	// PongRTT reports.
	Ping(c context.T) error
	// PongRTT returns the latency measured from the most recently sent
	// ping to its pong, and whether a pong has arrived for it yet.
	PongRTT() (time.Duration, bool)
	Close() error
}

// Dialer opens a Conn to a relay URL. ws://, wss://, and onion addresses
// are all handled the same way once resolved to a net.Conn by the
// implementation's dialer.
type Dialer interface {
	Dial(c context.T, url string, header http.Header) (Conn, error)
}
