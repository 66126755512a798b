package realtime

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is wrapped by a [*TransportError] when Send or Receive is
// called on a session that was closed locally.
var ErrSessionClosed = errors.New("realtime: session closed")

// ConnectionError reports that the duplex channel could not be established:
// DNS, TLS, HTTP upgrade, or authentication failure. No retry is attempted.
type ConnectionError struct {
	// Endpoint is the redacted URL that was dialled.
	Endpoint string

	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("realtime: connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError reports a failed Send or Receive on a nominally live
// session.
type TransportError struct {
	// Op is "send", "receive" or "decode".
	Op string

	// Type is the message type involved, when known.
	Type string

	Err error
}

func (e *TransportError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("realtime: %s %s: %v", e.Op, e.Type, e.Err)
	}
	return fmt.Sprintf("realtime: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Recoverable reports whether the session remains usable after this error.
// Only decode failures of a single inbound message are recoverable.
func (e *TransportError) Recoverable() bool { return e.Op == "decode" }

// ConnectionClosedError reports that the peer terminated the session. It is
// the normal end of a stream rather than an application failure.
type ConnectionClosedError struct {
	// Code is the websocket close status code, or -1 if the connection was
	// dropped without a close frame.
	Code int

	// Reason is the close reason sent by the peer, if any.
	Reason string
}

func (e *ConnectionClosedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("realtime: connection closed by peer (%d): %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("realtime: connection closed by peer (%d)", e.Code)
}

// IsConnectionClosed reports whether err is or wraps a [*ConnectionClosedError].
func IsConnectionClosed(err error) bool {
	var closed *ConnectionClosedError
	return errors.As(err, &closed)
}

// IsRecoverable reports whether err is a recoverable [*TransportError].
func IsRecoverable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Recoverable()
}
