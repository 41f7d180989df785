package filter

// Retain is the allow-list predicate on the plays retain column. Matching is
// exact and case-sensitive with no trimming; empty and unknown values are not
// retained.
type Retain struct {
	values map[string]struct{}
}

// NewRetain builds the predicate from values.
func NewRetain(values []string) Retain {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return Retain{values: m}
}

// Keep reports whether value is in the allow-list.
func (r Retain) Keep(value string) bool {
	_, ok := r.values[value]
	return ok
}
