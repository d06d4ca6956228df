package predicate

import "strings"

// OrderKey is one (field, direction) entry of a multi-field sort.
type OrderKey struct {
	Field string
	Desc  bool
}

// ParseOrderBy splits a comma-separated order-by string into ordered sort
// keys. Each segment is "field" or "field ASC|DESC"; a missing or
// unrecognized direction token defaults to ascending. Multi-field order is
// preserved left to right as primary/secondary sort keys.
func ParseOrderBy(orderBy string) []OrderKey {
	var keys []OrderKey
	for _, seg := range strings.Split(orderBy, ",") {
		parts := strings.Fields(seg)
		if len(parts) == 0 {
			continue
		}
		key := OrderKey{Field: parts[0]}
		if len(parts) > 1 && strings.EqualFold(parts[1], "DESC") {
			key.Desc = true
		}
		keys = append(keys, key)
	}
	return keys
}
