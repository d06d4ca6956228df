package predicate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tillworks/unidata/internal/shared"
)

// SortRecords orders records in place by the given keys: null sorts before
// any non-null value, numeric values compare numerically, everything else
// compares as a case-insensitive string. A full tie across all keys breaks on
// the id field ascending, making the sort total and repeatable on unchanged
// data.
func SortRecords(records []shared.Record, keys []OrderKey) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		for _, key := range keys {
			c := CompareValues(a[key.Field], b[key.Field])
			if c == 0 {
				continue
			}
			if key.Desc {
				return c > 0
			}
			return c < 0
		}
		return CompareValues(a[shared.IDField], b[shared.IDField]) < 0
	})
}

// CompareValues compares two record field values, returning -1, 0 or 1.
func CompareValues(a, b any) int {
	aNil, bNil := isNull(a), isNull(b)
	switch {
	case aNil && bNil:
		return 0
	case aNil:
		return -1
	case bNil:
		return 1
	}

	if af, aOK := asFloat(a); aOK {
		if bf, bOK := asFloat(b); bOK {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}

	if at, aOK := a.(time.Time); aOK {
		if bt, bOK := b.(time.Time); bOK {
			return at.Compare(bt)
		}
	}

	return strings.Compare(asString(a), asString(b))
}

func isNull(v any) bool {
	return v == nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return strings.ToLower(s)
	}
	return strings.ToLower(fmt.Sprint(v))
}
