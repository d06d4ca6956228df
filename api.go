// Package unidata provides a backend-agnostic data-access layer for the
// point-of-sale application. Application code is written once against the
// Provider; the relational (SQLite) and document (Firestore) adapters
// reconcile the two data models behind the same contract.
package unidata

import (
	"context"

	"github.com/tillworks/unidata/internal/shared"
)

// Semantic errors for data-access operations (re-exported from internal/shared).
var (
	ErrNotFound          = shared.ErrNotFound
	ErrUnavailable       = shared.ErrUnavailable
	ErrInvalidCollection = shared.ErrInvalidCollection
	ErrInvalidQuery      = shared.ErrInvalidQuery
	ErrIndexPrecondition = shared.ErrIndexPrecondition
	ErrInitFailed        = shared.ErrInitFailed
	ErrTxRolledBack      = shared.ErrTxRolledBack
)

// Record is a schema-less mapping from field name to scalar or null value.
// Every record returned by a read carries the "id" field populated from the
// backend's native identifier: an int64 row ID on the relational backend, a
// string document key on the document backend.
type Record = shared.Record

// Query describes a backend-agnostic read. Offset is best-effort on the
// document backend: an approximate positional skip, not a stable cursor, so
// callers must not assume exact-offset correctness across concurrent writes.
type Query = shared.Query

// Update describes a partial write applied to every matched record.
type Update = shared.Update

// Tx is the handle passed to a transaction callback. On the relational
// backend operations are atomic all-or-nothing; on the document backend they
// execute sequentially with no rollback (see the adapter's documentation).
type Tx interface {
	// Query returns records matching q within the transaction.
	Query(ctx context.Context, collection string, q Query) ([]Record, error)

	// Insert writes a new record and returns its backend-native identifier.
	Insert(ctx context.Context, collection string, fields Record) (any, error)

	// Update applies u.Fields to every record matching u.Where.
	Update(ctx context.Context, collection string, u Update) (int64, error)

	// Delete removes every record matching the where-clause.
	Delete(ctx context.Context, collection string, where string, args ...any) (int64, error)
}

// Backend defines the CRUD operations both adapters implement.
// Implementations (sqlite, firestore) satisfy this interface.
type Backend interface {
	// Query returns records matching q.
	Query(ctx context.Context, collection string, q Query) ([]Record, error)

	// Get fetches a single record by its native identifier.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, collection string, id any) (Record, error)

	// Count returns the number of records matching the where-clause.
	// An empty where counts the whole collection.
	Count(ctx context.Context, collection string, where string, args ...any) (int64, error)

	// Insert writes a new record and returns its backend-native identifier.
	// Any caller-supplied "id" field is stripped; explicitID, when non-empty,
	// chooses the document key on backends with string keys.
	Insert(ctx context.Context, collection string, fields Record, explicitID string) (any, error)

	// Update applies u.Fields to every record matching u.Where and returns
	// the affected count.
	Update(ctx context.Context, collection string, u Update) (int64, error)

	// Delete removes every record matching the where-clause and returns the
	// affected count.
	Delete(ctx context.Context, collection string, where string, args ...any) (int64, error)

	// Transaction runs fn against a Tx handle. Atomicity is backend-defined:
	// all-or-nothing on the relational adapter, sequential best-effort on the
	// document adapter.
	Transaction(ctx context.Context, fn func(tx Tx) error) error

	// Clear removes every record in the collection, in bounded batches where
	// the backend caps per-batch operations. Returns the number removed.
	Clear(ctx context.Context, collection string) (int64, error)
}

// Lifecycle is implemented by backends requiring explicit connection
// management. The Provider handshake drives it during initialization.
type Lifecycle interface {
	// Connect establishes the backend connection.
	Connect(ctx context.Context) error

	// Close releases the backend connection.
	Close(ctx context.Context) error

	// Health verifies the backend is reachable.
	Health(ctx context.Context) error
}
