package transport

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by PublishData while no transport
// connection is established.
var ErrNotConnected = errors.New("transport: not connected")

// Handlers receives session lifecycle and data events. Nil callbacks are
// skipped. Callbacks fire on the session's read loop goroutine, one at a
// time.
type Handlers struct {
	OnConnected               func()
	OnDisconnected            func(reason string)
	OnReconnecting            func()
	OnReconnected             func()
	OnParticipantConnected    func(identity string)
	OnParticipantDisconnected func(identity string)
	OnData                    func(payload []byte, identity string)
}

// Session is the transport contract the synchronization core consumes:
// one connection to one conversation-scoped channel, with a reliable
// best-effort send primitive. "Reliable" means the transport retries
// delivery internally, not exactly-once.
type Session interface {
	Connect(ctx context.Context, serverURL, token string) error
	Disconnect()
	PublishData(ctx context.Context, payload []byte) error
}
