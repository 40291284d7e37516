package errors

import "errors"

// Gateway errors.
var (
	ErrNotAuthenticated  = errors.New("not authenticated to remote storage")
	ErrUnauthorized      = errors.New("access to remote document denied")
	ErrNotFound          = errors.New("remote document not found")
	ErrGateway           = errors.New("remote storage request failed")
	ErrMalformedDocument = errors.New("malformed remote document")
)

// Sync errors.
var (
	ErrSyncInProgress    = errors.New("sync already in progress")
	ErrNoPendingConflict = errors.New("no pending conflict to resolve")
	ErrStaleConflict     = errors.New("local data changed since conflict was detected")
	ErrInvalidChoice     = errors.New("invalid conflict resolution choice")
	ErrUnknownDomain     = errors.New("unknown collection domain")
)
