// Package realtime defines the transport contract for realtime speech
// services: a single long-lived duplex message channel carrying JSON commands
// from the client and JSON events from the service.
//
// The central abstraction is [Session]: one connection lifetime. Outbound
// messages are the closed set of [Command] variants; inbound messages are
// decoded exactly once, at the transport boundary, into the closed set of
// [Event] variants. Callers never see raw JSON or base64 text.
//
// Error taxonomy:
//
//   - [*ConnectionError]: the channel could not be established. Fatal.
//   - [*TransportError]: one Send or Receive failed while the channel is
//     nominally alive. Decode failures on Receive are recoverable.
//   - [*ConnectionClosedError]: the peer ended the session. Terminal but clean.
//
// All implementations must be safe for concurrent use by exactly one sender
// and one receiver; Send calls are additionally serialized internally.
package realtime

import "context"

// Session represents an open realtime connection.
//
// Send and Receive may be called concurrently with each other. Each call is
// atomic with respect to message framing. Close may be called from any
// goroutine, is idempotent, and unblocks a pending Receive.
type Session interface {
	// ID returns the client-side session identifier. After the service
	// acknowledges the session, the service-assigned ID is available from
	// the [SessionAcknowledged] event.
	ID() string

	// Send serializes cmd and writes it as one message. It fails with a
	// [*TransportError] if the session is closed or the peer reset it.
	Send(ctx context.Context, cmd Command) error

	// Receive blocks until one complete message arrives and returns it as an
	// [Event]. A malformed message yields a [*TransportError] and leaves the
	// session usable; a peer close yields a [*ConnectionClosedError].
	Receive(ctx context.Context) (Event, error)

	// Close releases the underlying socket. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Provider opens sessions against one configured endpoint with one
// credential.
type Provider interface {
	// Connect establishes a new session, including any authentication
	// handshake, and returns it ready for Send/Receive. Failures are reported
	// as [*ConnectionError]. The caller owns the Session and must Close it.
	Connect(ctx context.Context) (Session, error)

	// Endpoint returns the URL sessions are opened against, with credentials
	// redacted.
	Endpoint() string
}
