package firestore

import (
	"context"

	"github.com/tillworks/unidata"
)

// Tx is a transaction-shaped wrapper over the adapter. Firestore's native
// transaction primitive cannot safely mix reads and writes in this runtime
// context, so every call forwards immediately to the backend instead of
// buffering until a commit point.
//
// Guarantee: operations execute in the order issued. There is NO
// all-or-nothing rollback; a failure partway through leaves prior operations
// committed. Callers that require true atomicity must run on the relational
// adapter or restructure to tolerate partial application.
type Tx struct {
	b *Backend
}

// Transaction runs fn against a pseudo-transaction handle.
// The first error from fn is returned; prior operations stay committed.
func (b *Backend) Transaction(_ context.Context, fn func(tx unidata.Tx) error) error {
	return fn(&Tx{b: b})
}

// Query returns records matching q.
func (t *Tx) Query(ctx context.Context, collection string, q unidata.Query) ([]unidata.Record, error) {
	return t.b.Query(ctx, collection, q)
}

// Insert writes a new document immediately and returns its key.
func (t *Tx) Insert(ctx context.Context, collection string, fields unidata.Record) (any, error) {
	return t.b.Insert(ctx, collection, fields, "")
}

// Update applies u.Fields immediately to every matched document.
func (t *Tx) Update(ctx context.Context, collection string, u unidata.Update) (int64, error) {
	return t.b.Update(ctx, collection, u)
}

// Delete removes matching documents immediately.
func (t *Tx) Delete(ctx context.Context, collection string, where string, args ...any) (int64, error) {
	return t.b.Delete(ctx, collection, where, args...)
}

// Ensure Tx implements unidata.Tx.
var _ unidata.Tx = (*Tx)(nil)
