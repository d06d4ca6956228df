// Package firestore implements the document-store adapter for Google Cloud
// Firestore. It translates the generic where/order/limit dialect into chained
// native filter calls and works around the backend's structural limits:
// bounded value-set membership filters, compound-query indexing failures, and
// per-batch write ceilings.
package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/tillworks/unidata"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// inChunkLimit is the membership ceiling: the most values one native
	// "in" filter may carry.
	inChunkLimit = 10

	// clearPageSize bounds each fetch-then-delete round of Clear.
	clearPageSize = 250
)

// Backend implements unidata.Backend over Firestore. Inserts return string
// document keys; Transaction returns a pseudo-transaction (see Tx), not an
// atomic one.
type Backend struct {
	client *firestore.Client
	now    func() time.Time
	health string
	run    queryRunner
}

// New creates a Firestore backend over the given client.
func New(client *firestore.Client, opts ...Option) *Backend {
	b := &Backend{
		client: client,
		now:    time.Now,
		health: "settings",
		run:    runQuery,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Option configures a Backend.
type Option func(*Backend)

// WithClock overrides the timestamp source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// WithHealthCollection sets the collection probed by Health.
func WithHealthCollection(name string) Option {
	return func(b *Backend) {
		b.health = name
	}
}

func (b *Backend) col(collection string) *firestore.CollectionRef {
	return b.client.Collection(collection)
}

// Get fetches a single record by document key.
// Returns ErrNotFound if the key does not exist.
func (b *Backend) Get(ctx context.Context, collection string, id any) (unidata.Record, error) {
	if !unidata.ValidCollection(collection) {
		return nil, unidata.ErrInvalidCollection
	}
	key, ok := id.(string)
	if !ok || key == "" {
		return nil, unidata.ErrInvalidQuery
	}
	snap, err := b.col(collection).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, unidata.ErrNotFound
		}
		return nil, err
	}
	return normalizeDoc(snap), nil
}

// Count returns the number of documents matching the where-clause.
// Note: this fetches the matching documents and may be slow/expensive for
// large result sets.
func (b *Backend) Count(ctx context.Context, collection string, where string, args ...any) (int64, error) {
	records, err := b.Query(ctx, collection, unidata.Query{Where: where, Args: args})
	if err != nil {
		return 0, err
	}
	return int64(len(records)), nil
}

// Insert writes a new document and returns its string key. A caller-supplied
// "id" field is stripped and creation/update timestamps are stamped if
// absent. The key is explicitID when given, otherwise client-generated.
func (b *Backend) Insert(ctx context.Context, collection string, fields unidata.Record, explicitID string) (any, error) {
	if !unidata.ValidCollection(collection) {
		return nil, unidata.ErrInvalidCollection
	}
	key := explicitID
	if key == "" {
		key = uuid.NewString()
	}
	prepared := unidata.PrepareInsert(fields, b.now())
	if _, err := b.col(collection).Doc(key).Set(ctx, map[string]any(prepared)); err != nil {
		return nil, err
	}
	return key, nil
}

// Update applies u.Fields to every document matching u.Where. A
// point-lookup-shaped filter resolves directly by key; anything else first
// queries for matching keys, then applies one batched merge-write per
// document. Documents matched by the query snapshot are all included;
// concurrent writes from elsewhere may or may not be reflected.
func (b *Backend) Update(ctx context.Context, collection string, u unidata.Update) (int64, error) {
	keys, err := b.resolveKeys(ctx, collection, u.Where, u.Args)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	prepared := map[string]any(unidata.PrepareUpdate(u.Fields, b.now()))
	bw := b.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(keys))
	for _, key := range keys {
		job, err := bw.Set(b.col(collection).Doc(key), prepared, firestore.MergeAll)
		if err != nil {
			bw.End()
			return 0, err
		}
		jobs = append(jobs, job)
	}
	bw.End()
	if err := awaitJobs(jobs); err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

// Delete removes every document matching the where-clause using the same
// resolve-then-batch pattern as Update.
func (b *Backend) Delete(ctx context.Context, collection string, where string, args ...any) (int64, error) {
	keys, err := b.resolveKeys(ctx, collection, where, args)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	bw := b.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(keys))
	for _, key := range keys {
		job, err := bw.Delete(b.col(collection).Doc(key))
		if err != nil {
			bw.End()
			return 0, err
		}
		jobs = append(jobs, job)
	}
	bw.End()
	if err := awaitJobs(jobs); err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

// Clear removes every document in the collection in bounded rounds:
// fetch up to clearPageSize keys, batch-delete them, repeat until empty.
// A single unbounded delete would exceed the per-batch operation ceiling.
func (b *Backend) Clear(ctx context.Context, collection string) (int64, error) {
	if !unidata.ValidCollection(collection) {
		return 0, unidata.ErrInvalidCollection
	}
	var total int64
	for {
		snaps, err := b.col(collection).Limit(clearPageSize).Documents(ctx).GetAll()
		if err != nil {
			return total, err
		}
		if len(snaps) == 0 {
			return total, nil
		}

		bw := b.client.BulkWriter(ctx)
		jobs := make([]*firestore.BulkWriterJob, 0, len(snaps))
		for _, snap := range snaps {
			job, err := bw.Delete(snap.Ref)
			if err != nil {
				bw.End()
				return total, err
			}
			jobs = append(jobs, job)
		}
		bw.End()
		if err := awaitJobs(jobs); err != nil {
			return total, err
		}
		total += int64(len(snaps))
		if len(snaps) < clearPageSize {
			return total, nil
		}
	}
}

// resolveKeys returns the document keys matched by the where-clause. A
// point-lookup-shaped filter resolves by key without touching the general
// translator; the key is included only if the document exists.
func (b *Backend) resolveKeys(ctx context.Context, collection string, where string, args []any) ([]string, error) {
	if !unidata.ValidCollection(collection) {
		return nil, unidata.ErrInvalidCollection
	}
	if key, ok := pointLookupKey(where, args); ok {
		snap, err := b.col(collection).Doc(key).Get(ctx)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil, nil
			}
			return nil, err
		}
		if !snap.Exists() {
			return nil, nil
		}
		return []string{key}, nil
	}

	records, err := b.Query(ctx, collection, unidata.Query{Where: where, Args: args})
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(records))
	for _, record := range records {
		if key, ok := record[unidata.IDField].(string); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// awaitJobs surfaces the first per-write failure from a BulkWriter flush.
func awaitJobs(jobs []*firestore.BulkWriterJob) error {
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return err
		}
	}
	return nil
}

// Connect is a no-op as the Firestore client is pre-configured.
func (b *Backend) Connect(_ context.Context) error {
	return nil
}

// Close closes the Firestore client connection.
func (b *Backend) Close(_ context.Context) error {
	return b.client.Close()
}

// Health checks Firestore connectivity by listing a single document.
func (b *Backend) Health(ctx context.Context) error {
	iter := b.col(b.health).Limit(1).Documents(ctx)
	defer iter.Stop()
	_, err := iter.Next()
	if err == iterator.Done {
		// Empty collection is healthy
		return nil
	}
	return err
}

// Ensure Backend implements unidata.Backend and unidata.Lifecycle.
var (
	_ unidata.Backend   = (*Backend)(nil)
	_ unidata.Lifecycle = (*Backend)(nil)
)
