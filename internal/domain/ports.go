package domain

import "encoding/json"

// EventHandler receives the raw JSON data of a relay event.
type EventHandler func(data json.RawMessage)

// Subscription identifies a registered handler so it can be removed.
type Subscription struct {
	Event string
	ID    int
}

// Signaler is the duplex signaling channel to the relay. Exactly one
// underlying transport exists per session; Connect is idempotent and
// transport-level reconnection is handled internally.
type Signaler interface {
	// Connect establishes the connection, or is a no-op if already
	// connected.
	Connect() error

	// Connected reports whether the transport is currently up.
	Connected() bool

	// Send marshals payload and emits it under the given event name.
	// Fire-and-forget: the call is dropped when not connected.
	Send(event string, payload any)

	// On registers a handler. Handlers for the same event fire in
	// registration order, sequentially on the channel's read loop.
	On(event string, fn EventHandler) Subscription

	// Off removes a previously registered handler.
	Off(sub Subscription)

	Close()
}
