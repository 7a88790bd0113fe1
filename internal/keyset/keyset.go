// Package keyset implements keyset pagination over the composite key
// (priority DESC, id ASC).
package keyset

import (
	"fmt"
	"slices"
	"strings"
)

// Key is a position in the ordering.
type Key struct {
	Priority int
	ID       string
}

// Cursor is the last key a caller has consumed. The zero Cursor, with a nil
// Key, starts from the beginning.
type Cursor struct {
	Key *Key
}

// Start is the cursor before the first row.
var Start = Cursor{}

// At returns a cursor positioned at k.
func At(priority int, id string) Cursor {
	return Cursor{Key: &Key{Priority: priority, ID: id}}
}

// FromNullable builds a cursor from the two persisted columns. The cursor is
// only set when both are present.
func FromNullable(priority *int, id *string) Cursor {
	if priority == nil || id == nil {
		return Start
	}
	return At(*priority, *id)
}

// IsStart reports whether the cursor is before the first row.
func (c Cursor) IsStart() bool {
	return c.Key == nil
}

// Compare orders a before b: -1 when a comes first, 1 when b does, 0 when equal.
// Higher priority comes first; ties break on ascending id.
func Compare(a, b Key) int {
	switch {
	case a.Priority > b.Priority:
		return -1
	case a.Priority < b.Priority:
		return 1
	default:
		return strings.Compare(a.ID, b.ID)
	}
}

// Admits reports whether k comes strictly after the cursor.
func (c Cursor) Admits(k Key) bool {
	return c.Key == nil || Compare(*c.Key, k) < 0
}

// Predicate renders the SQL condition selecting rows after the cursor using
// positional placeholders starting at firstArg. It returns an empty clause and
// no args for the start cursor.
func (c Cursor) Predicate(priorityCol, idCol string, firstArg int) (string, []any) {
	if c.Key == nil {
		return "", nil
	}
	p, id := firstArg, firstArg+1
	clause := fmt.Sprintf("(%[1]s < $%[3]d OR (%[1]s = $%[3]d AND %[2]s > $%[4]d))", priorityCol, idCol, p, id)
	return clause, []any{c.Key.Priority, c.Key.ID}
}

// OrderBy renders the ORDER BY expression matching Compare.
func OrderBy(priorityCol, idCol string) string {
	return priorityCol + " DESC, " + idCol + " ASC"
}

// Page returns up to limit items after cursor, in key order, plus the cursor
// positioned at the last returned item. When nothing is returned the input
// cursor is returned unchanged.
func Page[T any](items []T, cursor Cursor, limit int, key func(T) Key) ([]T, Cursor) {
	after := make([]T, 0, len(items))
	for _, it := range items {
		if cursor.Admits(key(it)) {
			after = append(after, it)
		}
	}
	slices.SortFunc(after, func(a, b T) int { return Compare(key(a), key(b)) })

	if limit > 0 && len(after) > limit {
		after = after[:limit]
	}
	if len(after) == 0 {
		return after, cursor
	}

	last := key(after[len(after)-1])
	return after, At(last.Priority, last.ID)
}
