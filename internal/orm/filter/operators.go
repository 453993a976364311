package filter

import "fmt"

// Operator represents a comparison operator
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpIn
	OpNotIn
	OpLike
	OpNotLike
	OpILike
	OpIsNull
	OpIsNotNull
	OpBetween
)

// String returns the SQL representation of the operator
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "!="
	case OpGreaterThan:
		return ">"
	case OpGreaterThanOrEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessThanOrEqual:
		return "<="
	case OpIn:
		return "IN"
	case OpNotIn:
		return "NOT IN"
	case OpLike:
		return "LIKE"
	case OpNotLike:
		return "NOT LIKE"
	case OpILike:
		return "ILIKE"
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	case OpBetween:
		return "BETWEEN"
	default:
		return "UNKNOWN"
	}
}

// Key returns the request-level operator key (e.g. "$gte")
func (o Operator) Key() string {
	switch o {
	case OpEqual, OpIsNull:
		return "$eq"
	case OpNotEqual, OpIsNotNull:
		return "$ne"
	case OpGreaterThan:
		return "$gt"
	case OpGreaterThanOrEqual:
		return "$gte"
	case OpLessThan:
		return "$lt"
	case OpLessThanOrEqual:
		return "$lte"
	case OpIn:
		return "$in"
	case OpNotIn:
		return "$notIn"
	case OpLike:
		return "$like"
	case OpNotLike:
		return "$notLike"
	case OpILike:
		return "$iLike"
	case OpBetween:
		return "$between"
	default:
		return "$unknown"
	}
}

// Reserved keys at the request boundary
const (
	KeyOr          = "$or"
	KeyAnd         = "$and"
	KeyNot         = "$not"
	KeyPassthrough = "$$"
)

// operatorKeys maps request-level operator keys to operators
var operatorKeys = map[string]Operator{
	"$eq":      OpEqual,
	"$ne":      OpNotEqual,
	"$gt":      OpGreaterThan,
	"$gte":     OpGreaterThanOrEqual,
	"$lt":      OpLessThan,
	"$lte":     OpLessThanOrEqual,
	"$in":      OpIn,
	"$notIn":   OpNotIn,
	"$nin":     OpNotIn,
	"$like":    OpLike,
	"$notLike": OpNotLike,
	"$iLike":   OpILike,
	"$ilike":   OpILike,
	"$between": OpBetween,
}

// ParseOperator converts a request-level operator key to an Operator
func ParseOperator(key string) (Operator, error) {
	op, ok := operatorKeys[key]
	if !ok {
		return OpEqual, fmt.Errorf("%w: unknown operator %s", ErrInvalidFilter, key)
	}
	return op, nil
}

// isOperatorKey reports whether key is a comparison operator key
func isOperatorKey(key string) bool {
	_, ok := operatorKeys[key]
	return ok
}
