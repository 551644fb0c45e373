package memory

// Op is a filter comparison operator.
type Op string

const (
	OpEq Op = "eq"
	OpGt Op = "gt"
	OpLt Op = "lt"
)

// Condition compares a single metadata field against a literal.
type Condition struct {
	Field string
	Op    Op
	Value interface{}
}

// Filter is a conjunction of conditions over note metadata. An empty
// filter matches everything. Disjunction is intentionally unsupported.
type Filter []Condition

// Eq builds a single-condition equality filter.
func Eq(field string, value interface{}) Filter {
	return Filter{{Field: field, Op: OpEq, Value: value}}
}

// And appends a condition to the filter.
func (f Filter) And(field string, op Op, value interface{}) Filter {
	return append(f, Condition{Field: field, Op: op, Value: value})
}

// Matches reports whether every condition holds for the given metadata.
// A condition on a missing field never matches.
func (f Filter) Matches(metadata map[string]interface{}) bool {
	for _, cond := range f {
		value, ok := metadata[cond.Field]
		if !ok {
			return false
		}
		if !cond.matches(value) {
			return false
		}
	}
	return true
}

func (c Condition) matches(value interface{}) bool {
	// Numbers compare numerically regardless of concrete type; JSON
	// round-trips land metadata numbers as float64.
	if a, aok := asFloat(value); aok {
		b, bok := asFloat(c.Value)
		if !bok {
			return false
		}
		switch c.Op {
		case OpEq:
			return a == b
		case OpGt:
			return a > b
		case OpLt:
			return a < b
		}
		return false
	}

	if a, aok := value.(string); aok {
		b, bok := c.Value.(string)
		if !bok {
			return false
		}
		switch c.Op {
		case OpEq:
			return a == b
		case OpGt:
			return a > b
		case OpLt:
			return a < b
		}
		return false
	}

	if a, aok := value.(bool); aok {
		b, bok := c.Value.(bool)
		return c.Op == OpEq && aok && bok && a == b
	}

	return false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
