// Package predicate parses the constrained where/order dialect shared by both
// backend adapters and provides the in-memory comparator used when ordering
// cannot be pushed to the document backend.
package predicate

import (
	"regexp"
	"strings"

	"github.com/tillworks/unidata/internal/shared"
)

// Op is a comparison operator in a where-clause.
type Op string

// Supported operators.
const (
	OpEq  Op = "="
	OpNEq Op = "!="
	OpGTE Op = ">="
	OpLTE Op = "<="
	OpGT  Op = ">"
	OpLT  Op = "<"
)

// Predicate is a single (field, operator, value) condition. All predicates in
// a Where are implicitly conjunctive.
type Predicate struct {
	Field string
	Op    Op
	Value any
}

// InClause is a value-set membership condition. At most one per query.
type InClause struct {
	Field  string
	Values []any
}

// Where is the parsed form of a where-clause string plus positional args.
type Where struct {
	Predicates []Predicate
	In         *InClause
}

// PointLookup reports whether the parsed clause is exactly one equality on
// a reserved identifier field ("documentId" or "id") with a string key, and
// returns the key if so.
func (w Where) PointLookup() (string, bool) {
	if w.In != nil || len(w.Predicates) != 1 {
		return "", false
	}
	p := w.Predicates[0]
	if (p.Field != shared.DocumentIDField && p.Field != shared.IDField) || p.Op != OpEq {
		return "", false
	}
	key, ok := p.Value.(string)
	return key, ok
}

var (
	// field <op> ?  — the six comparison forms. Longer operators first so
	// ">=" is not consumed as ">".
	comparison = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*)\s*(!=|>=|<=|=|>|<)\s*\?$`)

	// field IN (?, ?, ...) — the membership form.
	membership = regexp.MustCompile(`(?i)^([A-Za-z_][A-Za-z0-9_.]*)\s+IN\s*\(\s*\?(?:\s*,\s*\?)*\s*\)$`)

	andSplit = regexp.MustCompile(`(?i)\s+AND\s+`)
)

// Parse splits where on the AND token and matches each clause against the
// comparison or membership forms, consuming one positional argument per ?
// placeholder in declaration order.
//
// An unparseable clause is dropped rather than rejected, preserving the
// permissive legacy behavior; its placeholders still consume arguments so the
// remaining clauses keep positional alignment. A second membership clause is
// dropped the same way (translation supports at most one). Dropped clause
// text is returned so callers can report it.
func Parse(where string, args []any) (Where, []string) {
	var (
		w       Where
		dropped []string
	)

	where = strings.TrimSpace(where)
	if where == "" {
		return w, nil
	}

	pos := 0
	take := func(n int) []any {
		if pos+n > len(args) {
			n = len(args) - pos
		}
		if n <= 0 {
			return nil
		}
		vals := args[pos : pos+n]
		pos += n
		return vals
	}

	for _, clause := range andSplit.Split(where, -1) {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		placeholders := strings.Count(clause, "?")

		if m := comparison.FindStringSubmatch(clause); m != nil {
			vals := take(1)
			if len(vals) != 1 {
				dropped = append(dropped, clause)
				continue
			}
			w.Predicates = append(w.Predicates, Predicate{
				Field: m[1],
				Op:    Op(m[2]),
				Value: vals[0],
			})
			continue
		}

		if m := membership.FindStringSubmatch(clause); m != nil {
			vals := take(placeholders)
			if len(vals) != placeholders || w.In != nil {
				dropped = append(dropped, clause)
				continue
			}
			w.In = &InClause{
				Field:  m[1],
				Values: append([]any(nil), vals...),
			}
			continue
		}

		// Unrecognized clause: consume its placeholders and drop it.
		take(placeholders)
		dropped = append(dropped, clause)
	}

	return w, dropped
}
