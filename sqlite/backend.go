package sqlite

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tillworks/unidata"
)

// Backend implements unidata.Backend over an embedded SQLite database.
// Predicates, order, limit and offset are passed through to the engine
// unmodified; transactions are true all-or-nothing; inserts return the
// auto-increment integer row ID.
type Backend struct {
	db *sqlx.DB
	ex executor
}

// New creates a SQLite backend over the given connection.
//
// The executor works through sqlx.ExtContext, satisfied by both *sqlx.DB and
// *sqlx.Tx, so transactional and non-transactional paths share all statement
// code.
func New(db *sqlx.DB, opts ...Option) *Backend {
	b := &Backend{
		db: db,
		ex: executor{ext: db, now: time.Now},
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
		b.ex.now = now
	}
}

// Query returns records matching q.
func (b *Backend) Query(ctx context.Context, collection string, q unidata.Query) ([]unidata.Record, error) {
	return b.ex.query(ctx, collection, q)
}

// Get fetches a single record by row ID.
// Returns ErrNotFound if the row does not exist.
func (b *Backend) Get(ctx context.Context, collection string, id any) (unidata.Record, error) {
	return b.ex.get(ctx, collection, id)
}

// Count returns the number of rows matching the where-clause.
func (b *Backend) Count(ctx context.Context, collection string, where string, args ...any) (int64, error) {
	return b.ex.count(ctx, collection, where, args)
}

// Insert writes a new row and returns its auto-increment row ID as int64.
// explicitID is a document-backend concept and is ignored here.
func (b *Backend) Insert(ctx context.Context, collection string, fields unidata.Record, _ string) (any, error) {
	id, err := b.ex.insert(ctx, collection, fields)
	if err != nil {
		return nil, err
	}
	return id, nil
}

// Update applies u.Fields to every row matching u.Where.
func (b *Backend) Update(ctx context.Context, collection string, u unidata.Update) (int64, error) {
	return b.ex.update(ctx, collection, u)
}

// Delete removes every row matching the where-clause.
func (b *Backend) Delete(ctx context.Context, collection string, where string, args ...any) (int64, error) {
	return b.ex.del(ctx, collection, where, args)
}

// Clear removes every row in the table.
func (b *Backend) Clear(ctx context.Context, collection string) (int64, error) {
	return b.ex.del(ctx, collection, "", nil)
}

// Transaction runs fn inside a database transaction. All statements issued
// through the Tx handle commit together or not at all; any error from fn
// rolls the transaction back and is returned to the caller.
func (b *Backend) Transaction(ctx context.Context, fn func(tx unidata.Tx) error) error {
	txx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	handle := &Tx{ex: executor{ext: txx, now: b.ex.now}}
	if err := fn(handle); err != nil {
		if rbErr := txx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w: rollback after %v: %w", unidata.ErrTxRolledBack, err, rbErr)
		}
		return err
	}
	return txx.Commit()
}

// Connect verifies the database handle.
func (b *Backend) Connect(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close closes the database handle.
func (b *Backend) Close(_ context.Context) error {
	return b.db.Close()
}

// Health checks connectivity.
func (b *Backend) Health(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Tx executes statements inside an open transaction.
type Tx struct {
	ex executor
}

// Query returns records matching q within the transaction.
func (t *Tx) Query(ctx context.Context, collection string, q unidata.Query) ([]unidata.Record, error) {
	return t.ex.query(ctx, collection, q)
}

// Insert writes a new row within the transaction.
func (t *Tx) Insert(ctx context.Context, collection string, fields unidata.Record) (any, error) {
	id, err := t.ex.insert(ctx, collection, fields)
	if err != nil {
		return nil, err
	}
	return id, nil
}

// Update applies u.Fields within the transaction.
func (t *Tx) Update(ctx context.Context, collection string, u unidata.Update) (int64, error) {
	return t.ex.update(ctx, collection, u)
}

// Delete removes matching rows within the transaction.
func (t *Tx) Delete(ctx context.Context, collection string, where string, args ...any) (int64, error) {
	return t.ex.del(ctx, collection, where, args)
}

// executor holds the statement code shared by Backend and Tx.
type executor struct {
	ext sqlx.ExtContext
	now func() time.Time
}

func (e executor) query(ctx context.Context, collection string, q unidata.Query) ([]unidata.Record, error) {
	stmt, args, err := buildSelect(collection, q)
	if err != nil {
		return nil, err
	}
	rows, err := e.ext.QueryxContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []unidata.Record
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		out = append(out, normalizeRow(row))
	}
	return out, rows.Err()
}

func (e executor) get(ctx context.Context, collection string, id any) (unidata.Record, error) {
	records, err := e.query(ctx, collection, unidata.Query{
		Where: "id = ?",
		Args:  []any{id},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, unidata.ErrNotFound
	}
	return records[0], nil
}

func (e executor) count(ctx context.Context, collection string, where string, args []any) (int64, error) {
	if !unidata.ValidCollection(collection) {
		return 0, unidata.ErrInvalidCollection
	}
	stmt := "SELECT COUNT(*) FROM " + collection
	if w := normalizeClause(where); w != "" {
		stmt += " WHERE " + w
	}
	var n int64
	if err := e.ext.QueryRowxContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (e executor) insert(ctx context.Context, collection string, fields unidata.Record) (int64, error) {
	if !unidata.ValidCollection(collection) {
		return 0, unidata.ErrInvalidCollection
	}
	prepared := unidata.PrepareInsert(fields, e.now())
	cols := sortedColumns(prepared)
	if len(cols) == 0 {
		return 0, unidata.ErrInvalidQuery
	}

	args := make([]any, 0, len(cols))
	marks := make([]string, 0, len(cols))
	for _, col := range cols {
		args = append(args, prepared[col])
		marks = append(marks, "?")
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		collection, strings.Join(cols, ", "), strings.Join(marks, ", "))

	res, err := e.ext.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (e executor) update(ctx context.Context, collection string, u unidata.Update) (int64, error) {
	if !unidata.ValidCollection(collection) {
		return 0, unidata.ErrInvalidCollection
	}
	prepared := unidata.PrepareUpdate(u.Fields, e.now())
	cols := sortedColumns(prepared)
	if len(cols) == 0 {
		return 0, unidata.ErrInvalidQuery
	}

	args := make([]any, 0, len(cols)+len(u.Args))
	sets := make([]string, 0, len(cols))
	for _, col := range cols {
		sets = append(sets, col+" = ?")
		args = append(args, prepared[col])
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s", collection, strings.Join(sets, ", "))
	if w := normalizeClause(u.Where); w != "" {
		stmt += " WHERE " + w
		args = append(args, u.Args...)
	}

	res, err := e.ext.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (e executor) del(ctx context.Context, collection string, where string, args []any) (int64, error) {
	if !unidata.ValidCollection(collection) {
		return 0, unidata.ErrInvalidCollection
	}
	stmt := "DELETE FROM " + collection
	if w := normalizeClause(where); w != "" {
		stmt += " WHERE " + w
	}
	res, err := e.ext.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// buildSelect assembles the pass-through SELECT. SQLite requires LIMIT
// before OFFSET; a bare offset uses LIMIT -1.
func buildSelect(collection string, q unidata.Query) (string, []any, error) {
	if !unidata.ValidCollection(collection) {
		return "", nil, unidata.ErrInvalidCollection
	}
	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(collection)

	args := append([]any(nil), q.Args...)
	if w := normalizeClause(q.Where); w != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(w)
	}
	if o := normalizeClause(q.OrderBy); o != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(o)
	}
	switch {
	case q.Limit > 0:
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
		if q.Offset > 0 {
			sb.WriteString(" OFFSET ?")
			args = append(args, q.Offset)
		}
	case q.Offset > 0:
		sb.WriteString(" LIMIT -1 OFFSET ?")
		args = append(args, q.Offset)
	}
	return sb.String(), args, nil
}

var documentIDToken = regexp.MustCompile(`\b` + unidata.DocumentIDField + `\b`)

// normalizeClause maps the reserved document identifier field to the row ID
// column so where/order strings written against the unified contract address
// the same logical field on both backends.
func normalizeClause(clause string) string {
	clause = strings.TrimSpace(clause)
	if clause == "" {
		return ""
	}
	return documentIDToken.ReplaceAllString(clause, "id")
}

// normalizeRow copies the scanned row, converting raw byte columns to
// strings so records look identical across backends.
func normalizeRow(row map[string]any) unidata.Record {
	out := make(unidata.Record, len(row))
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			out[k] = string(b)
			continue
		}
		out[k] = v
	}
	return out
}

func sortedColumns(fields unidata.Record) []string {
	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !unidata.ValidCollection(col) {
			continue
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Ensure Backend implements unidata.Backend and unidata.Lifecycle.
var (
	_ unidata.Backend   = (*Backend)(nil)
	_ unidata.Lifecycle = (*Backend)(nil)
	_ unidata.Tx        = (*Tx)(nil)
)
