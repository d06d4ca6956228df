package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/tillworks/unidata"
	"github.com/tillworks/unidata/internal/predicate"
	"github.com/tillworks/unidata/internal/shared"
	"github.com/zoobzio/capitan"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// queryRunner executes a built native query and returns normalized records.
// Backends swap it out in tests to drive the failure paths.
type queryRunner func(ctx context.Context, fq firestore.Query) ([]unidata.Record, error)

func runQuery(ctx context.Context, fq firestore.Query) ([]unidata.Record, error) {
	snaps, err := fq.Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return normalizeDocs(snaps), nil
}

// isIndexPrecondition reports whether the backend rejected the query for
// lack of a composite index.
func isIndexPrecondition(err error) bool {
	return status.Code(err) == codes.FailedPrecondition
}

func indexPreconditionErr(err error) error {
	return fmt.Errorf("%w: %w", unidata.ErrIndexPrecondition, err)
}

// Query returns records matching q.
//
// Three execution paths, tried in order:
//  1. Point lookup: a single equality on the reserved identifier field
//     fetches the document directly by key, never touching the translator.
//  2. Membership: an IN clause is partitioned into chunks within the
//     membership ceiling, the chunks run concurrently, and order/limit/
//     offset apply in memory over the deduplicated union.
//  3. General: one chained native filter per predicate plus server-side
//     ordering; a missing-index failure retries unordered and sorts in
//     memory with the same comparator.
func (b *Backend) Query(ctx context.Context, collection string, q unidata.Query) ([]unidata.Record, error) {
	if !unidata.ValidCollection(collection) {
		return nil, unidata.ErrInvalidCollection
	}

	where, dropped := predicate.Parse(q.Where, q.Args)
	for _, clause := range dropped {
		capitan.Emit(ctx, unidata.QueryClauseDropped,
			unidata.FieldCollection.Field(collection),
			unidata.FieldClause.Field(clause),
		)
	}
	order := predicate.ParseOrderBy(q.OrderBy)

	if key, ok := where.PointLookup(); ok {
		record, err := b.Get(ctx, collection, key)
		if err != nil {
			if errors.Is(err, unidata.ErrNotFound) {
				return []unidata.Record{}, nil
			}
			return nil, err
		}
		return []unidata.Record{record}, nil
	}

	if where.In != nil {
		return b.queryMembership(ctx, collection, where, order, q.Limit, q.Offset)
	}
	return b.queryGeneral(ctx, collection, where, order, q.Limit, q.Offset)
}

// queryGeneral chains one filter per predicate and pushes ordering, offset
// and limit to the server. When the backend signals that the filter+order
// combination needs a missing server-side index, the same filters rerun
// without ordering and the result sorts in memory; offset then degrades to
// best-effort front truncation.
func (b *Backend) queryGeneral(ctx context.Context, collection string, where predicate.Where, order []predicate.OrderKey, limit, offset int) ([]unidata.Record, error) {
	filtered := b.applyPredicates(collection, where.Predicates)

	fq := filtered
	for _, key := range order {
		fq = fq.OrderBy(fieldPath(key.Field), direction(key.Desc))
	}
	if offset > 0 {
		fq = fq.Offset(offset)
	}
	if limit > 0 {
		fq = fq.Limit(limit)
	}

	records, err := b.run(ctx, fq)
	if err != nil {
		if !isIndexPrecondition(err) {
			return nil, err
		}
		if len(order) == 0 {
			return nil, indexPreconditionErr(err)
		}

		capitan.Emit(ctx, unidata.QueryIndexFallback,
			unidata.FieldCollection.Field(collection),
			unidata.FieldError.Field(err),
		)
		records, err = b.run(ctx, filtered)
		if err != nil {
			if isIndexPrecondition(err) {
				return nil, indexPreconditionErr(err)
			}
			return nil, err
		}
		predicate.SortRecords(records, order)
		return window(records, offset, limit), nil
	}
	return records, nil
}

// queryMembership fans the IN chunks out concurrently, merges the results
// into a map keyed by identifier to deduplicate overlaps, and applies order,
// offset and limit in memory. A failed chunk fails the whole query; dropping
// one would corrupt the result set.
func (b *Backend) queryMembership(ctx context.Context, collection string, where predicate.Where, order []predicate.OrderKey, limit, offset int) ([]unidata.Record, error) {
	in := where.In
	chunks := chunkValues(in.Values, inChunkLimit)
	results := make([][]unidata.Record, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			fq := b.applyPredicates(collection, where.Predicates).
				Where(fieldPath(in.Field), "in", b.inValues(collection, in.Field, chunk))
			records, err := b.run(gctx, fq)
			if err != nil {
				return err
			}
			results[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if isIndexPrecondition(err) {
			return nil, indexPreconditionErr(err)
		}
		return nil, err
	}

	merged := mergeDedup(results)

	// Sorting also runs with an empty order: the identifier tie-break keeps
	// the merged set deterministic across repeated calls.
	predicate.SortRecords(merged, order)
	return window(merged, offset, limit), nil
}

// mergeDedup unions the per-chunk results into one set, keyed by identifier
// so a record matched by more than one chunk appears once.
func mergeDedup(results [][]unidata.Record) []unidata.Record {
	seen := make(map[any]struct{})
	var merged []unidata.Record
	for _, chunk := range results {
		for _, record := range chunk {
			id := record[unidata.IDField]
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, record)
		}
	}
	return merged
}

func (b *Backend) applyPredicates(collection string, preds []predicate.Predicate) firestore.Query {
	fq := b.col(collection).Query
	for _, p := range preds {
		fq = fq.Where(fieldPath(p.Field), nativeOp(p.Op), b.fieldValue(collection, p.Field, p.Value))
	}
	return fq
}

// fieldPath maps the reserved identifier fields to the native document ID
// path; everything else passes through.
func fieldPath(field string) string {
	if isIDField(field) {
		return firestore.DocumentID
	}
	return field
}

// fieldValue converts values compared against the document ID into
// references, as the native API requires for __name__ filters.
func (b *Backend) fieldValue(collection, field string, value any) any {
	if !isIDField(field) {
		return value
	}
	if key, ok := value.(string); ok {
		return b.col(collection).Doc(key)
	}
	return value
}

func (b *Backend) inValues(collection, field string, values []any) []any {
	if !isIDField(field) {
		return values
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = b.fieldValue(collection, field, v)
	}
	return out
}

func isIDField(field string) bool {
	return field == shared.IDField || field == shared.DocumentIDField
}

func nativeOp(op predicate.Op) string {
	if op == predicate.OpEq {
		return "=="
	}
	return string(op)
}

func direction(desc bool) firestore.Direction {
	if desc {
		return firestore.Desc
	}
	return firestore.Asc
}

// pointLookupKey reports whether the where-clause is a single equality on
// the reserved identifier field with one string argument.
func pointLookupKey(where string, args []any) (string, bool) {
	parsed, dropped := predicate.Parse(where, args)
	if len(dropped) > 0 {
		return "", false
	}
	return parsed.PointLookup()
}

// chunkValues partitions values into slices no larger than size.
func chunkValues(values []any, size int) [][]any {
	var chunks [][]any
	for len(values) > size {
		chunks = append(chunks, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		chunks = append(chunks, values)
	}
	return chunks
}

// window applies best-effort offset truncation then limit.
func window(records []unidata.Record, offset, limit int) []unidata.Record {
	if offset > 0 {
		if offset >= len(records) {
			return []unidata.Record{}
		}
		records = records[offset:]
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	if records == nil {
		records = []unidata.Record{}
	}
	return records
}

func normalizeDoc(snap *firestore.DocumentSnapshot) unidata.Record {
	record := unidata.Record(snap.Data())
	if record == nil {
		record = unidata.Record{}
	}
	record[unidata.IDField] = snap.Ref.ID
	return record
}

func normalizeDocs(snaps []*firestore.DocumentSnapshot) []unidata.Record {
	records := make([]unidata.Record, 0, len(snaps))
	for _, snap := range snaps {
		records = append(records, normalizeDoc(snap))
	}
	return records
}
