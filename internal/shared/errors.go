// Package shared contains canonical type definitions shared across unidata.
package shared //nolint:revive // internal shared package is intentional

import "errors"

// Semantic errors for data-access operations.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("unidata: record not found")

	// ErrUnavailable indicates the provider is not in the Ready state.
	ErrUnavailable = errors.New("unidata: backend unavailable")

	// ErrInvalidCollection indicates the collection name is malformed or empty.
	ErrInvalidCollection = errors.New("unidata: invalid collection name")

	// ErrInvalidQuery indicates the query specification cannot be executed.
	ErrInvalidQuery = errors.New("unidata: invalid query")

	// ErrIndexPrecondition indicates the backend rejected a filter
	// combination for lack of a server-side index and no in-memory
	// fallback applied.
	ErrIndexPrecondition = errors.New("unidata: index precondition failed")

	// ErrInitFailed indicates the backend handshake did not succeed.
	// The provider stays in the Failed state until an explicit retry.
	ErrInitFailed = errors.New("unidata: initialization failed")

	// ErrTxRolledBack indicates a relational transaction was rolled back.
	ErrTxRolledBack = errors.New("unidata: transaction rolled back")
)
