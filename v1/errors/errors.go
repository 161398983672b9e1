// Package errors holds the sentinel errors shared by the go-decay event
// transports, so callers can classify failures with errors.Is without
// importing a specific transport.
package errors

import "errors"

var (
	// ErrTimeout reports that a publish did not complete within the
	// caller's context deadline.
	ErrTimeout = errors.New("timeout")

	// ErrConnectionClosed reports a publish on a bus that has already
	// been closed.
	ErrConnectionClosed = errors.New("connection closed")
)
