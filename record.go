package unidata

import (
	"time"

	"github.com/tillworks/unidata/internal/shared"
)

// Reserved field names.
const (
	// IDField is present on every returned record.
	IDField = shared.IDField

	// DocumentIDField, used alone in a where-clause with one equality
	// argument, signals a point lookup by native key.
	DocumentIDField = shared.DocumentIDField

	// CreatedAtField and UpdatedAtField are stamped on write when absent.
	CreatedAtField = shared.CreatedAtField
	UpdatedAtField = shared.UpdatedAtField
)

// PrepareInsert returns a copy of fields ready for insertion: the caller's
// "id" field is stripped (the backend assigns or is given the key) and
// creation/update timestamps are stamped if absent.
func PrepareInsert(fields Record, now time.Time) Record {
	out := fields.Clone()
	delete(out, IDField)
	if _, ok := out[CreatedAtField]; !ok {
		out[CreatedAtField] = now
	}
	if _, ok := out[UpdatedAtField]; !ok {
		out[UpdatedAtField] = now
	}
	return out
}

// PrepareUpdate returns a copy of fields ready for a partial update: the
// "id" field is stripped and the update timestamp is stamped if absent.
func PrepareUpdate(fields Record, now time.Time) Record {
	out := fields.Clone()
	delete(out, IDField)
	if _, ok := out[UpdatedAtField]; !ok {
		out[UpdatedAtField] = now
	}
	return out
}

// ValidCollection reports whether name is a usable collection identifier.
func ValidCollection(name string) bool {
	return shared.ValidCollection(name)
}
