// Package ws serves GraphQL over a multiplexed WebSocket using the
// graphql-transport-ws subprotocol.
//
// Every subscribe message becomes one input.Input whose id is the message
// id, so responses are correlated on the socket by the same id that the
// execution falls back to as its identity.
package ws

import "encoding/json"

// Subprotocol is the only WebSocket subprotocol accepted.
const Subprotocol = "graphql-transport-ws"

// Message types.
const (
	TypeConnectionInit = "connection_init"
	TypeConnectionAck  = "connection_ack"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeSubscribe      = "subscribe"
	TypeNext           = "next"
	TypeError          = "error"
	TypeComplete       = "complete"
)

// Close codes.
const (
	CloseInvalidMessage      = 4400
	CloseUnauthorized        = 4401
	CloseForbidden           = 4403
	CloseNotAcceptable       = 4406
	CloseInitTimeout         = 4408
	CloseSubscriberExists    = 4409
	CloseTooManyInitRequests = 4429
)

// Message is one protocol frame.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newMessage(id, typ string, payload any) Message {
	m := Message{ID: id, Type: typ}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err == nil {
			m.Payload = b
		}
	}
	return m
}
