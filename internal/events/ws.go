package events

import "time"

// WSConnect is emitted once a WebSocket connection is upgraded.
type WSConnect struct {
	ConnID      string
	Subprotocol string
}

// WSDisconnect is emitted when a WebSocket connection closes.
type WSDisconnect struct {
	ConnID   string
	Code     int
	Err      error
	Duration time.Duration
}
