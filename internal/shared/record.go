// Package shared contains canonical type definitions shared across unidata.
package shared //nolint:revive // internal shared package is intentional

import "regexp"

// IDField is the field every returned record carries, populated from the
// backend's native identifier (int64 row ID or string document key).
const IDField = "id"

// DocumentIDField is the reserved where-clause field signalling a point
// lookup by native key. Adapters short-circuit it before general translation.
const DocumentIDField = "documentId"

// Timestamp fields stamped on write when absent.
const (
	CreatedAtField = "created_at"
	UpdatedAtField = "updated_at"
)

// Record is a schema-less mapping from field name to scalar or null value.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Query describes a backend-agnostic read: a constrained where-clause with
// positional arguments, a comma-separated order-by list, and a limit/offset
// window. Offset is best-effort on the document backend (approximate
// positional skip, not a stable cursor).
type Query struct {
	Where   string
	Args    []any
	OrderBy string
	Limit   int
	Offset  int
}

// Update describes a backend-agnostic partial write: fields to set on every
// record matched by the where-clause.
type Update struct {
	Fields Record
	Where  string
	Args   []any
}

var collectionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidCollection reports whether name is a usable collection identifier.
// Both adapters interpolate the name into native calls, so it is restricted
// to identifier characters.
func ValidCollection(name string) bool {
	return collectionName.MatchString(name)
}
