package signal

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrClosed       = errors.New("signal: transport closed")
	ErrNotConnected = errors.New("signal: transport not connected")
)

// Handler consumes one event's payload. Handlers run on the transport's
// read loop, one at a time, in arrival order.
type Handler func(data json.RawMessage)

// Transport is the signaling side-channel for one room visit. Implementations
// deliver named JSON events fire-and-forget; delivery is FIFO per event name
// only. The session receives a Transport by injection, so tests can run
// against a fake.
type Transport interface {
	// Connect establishes the channel and blocks until the relay has
	// assigned a connection id or ctx expires.
	Connect(ctx context.Context) error

	// ID is the relay-assigned connection id, empty before Connect.
	ID() string

	// Emit sends a named event. No delivery acknowledgment, no buffering
	// guarantee across reconnects.
	Emit(event string, payload any) error

	// On registers the handler for an event name. There is exactly one
	// handler per name; registering again replaces the previous one, so an
	// event never fires twice for one delivery.
	On(event string, handler Handler)

	// Off removes the handler for an event name.
	Off(event string)

	// OnReconnect registers a hook invoked after the channel has been
	// re-established with a fresh connection id, so consumers can
	// re-announce their presence.
	OnReconnect(hook func())

	Close() error
}
