package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a lookup or mutation against an ID absent from the store.
	ErrNotFound = errors.New("not found")
	// ErrStaleCursor marks a sync cursor the remote service no longer recognizes.
	// The sync engine recovers from it with a full sync; it is never surfaced
	// to callers as a user error.
	ErrStaleCursor = errors.New("stale sync cursor")

	ErrMissingID      = errors.New("missing id")
	ErrMissingAccount = errors.New("missing account reference")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidDate    = errors.New("invalid date")
)

// TransportError is a network, auth or server failure talking to the remote
// finance service. The local store is left unchanged; the caller may retry.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: remote service returned %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteRejectedError is a write the remote service refused. It carries the
// attempted operation and the server's stated reason so the caller can decide
// between retry and abandon.
type RemoteRejectedError struct {
	Op     string
	ID     string
	Reason string
}

func (e *RemoteRejectedError) Error() string {
	return fmt.Sprintf("remote rejected %s of %s: %s", e.Op, e.ID, e.Reason)
}
