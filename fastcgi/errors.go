package fastcgi

import "errors"

// Connection- and request-level error kinds beyond the wire-format errors
// protocol.ErrMalformedRecord/ErrMalformedParams already cover.
var (
	// ErrUnexpectedRecord signals a record for an unknown or already
	// dispatched request id; the connection is dropped.
	ErrUnexpectedRecord = errors.New("fastcgi: unexpected record")

	// ErrUnknownRole signals a BEGIN_REQUEST for a role other than
	// Responder; the engine replies UNKNOWN_ROLE and never invokes the
	// handler for that request.
	ErrUnknownRole = errors.New("fastcgi: unknown role")

	// ErrTransportFailure wraps an I/O error on a connection's read or
	// write side.
	ErrTransportFailure = errors.New("fastcgi: transport failure")

	// ErrServerClosed is returned by Serve when it is called after
	// Shutdown has run.
	ErrServerClosed = errors.New("fastcgi: server closed")
)
