// Package filter provides the typed filter predicate used by query planning.
//
// A Filter is an implicit conjunction of expressions. Expressions are a sealed
// set of node types: Comparison, And, Or, Not and Scope. A Scope carries the
// part of a filter that applies to an associated entity; its Passthrough terms
// are merged into the join filter without field-name filtering.
//
// Filters are built once at the request boundary with Parse and are never
// mutated afterwards. Operations that narrow a filter return a new one.
package filter

import "errors"

// ErrInvalidFilter is returned when a request-level filter cannot be parsed
var ErrInvalidFilter = errors.New("invalid filter")

// Expr is a filter expression node.
//
// This is a sealed interface; only types in this package implement it.
type Expr interface {
	exprNode()
}

// Comparison compares a field with a value: Field Op Value
type Comparison struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// And is satisfied when every expression is satisfied
type And struct {
	Exprs []Expr
}

// Or is satisfied when any expression is satisfied
type Or struct {
	Exprs []Expr
}

// Not negates an expression
type Not struct {
	Expr Expr
}

// Scope is the filter for an associated entity
type Scope struct {
	Association string
	Filter      Filter
	Passthrough Filter
}

func (Comparison) exprNode() {}
func (And) exprNode()        {}
func (Or) exprNode()         {}
func (Not) exprNode()        {}
func (*Scope) exprNode()     {}

// Filter is a conjunction of expressions. A nil or empty Filter matches everything.
type Filter []Expr

// IsEmpty returns true if the filter has no terms
func (f Filter) IsEmpty() bool {
	return len(f) == 0
}

// Scope returns the scope for the named association, if present
func (f Filter) Scope(association string) (*Scope, bool) {
	for _, expr := range f {
		if s, ok := expr.(*Scope); ok && s.Association == association {
			return s, true
		}
	}
	return nil, false
}

// WithoutScopes returns a copy of the filter without scopes for the given associations
func (f Filter) WithoutScopes(associations map[string]bool) Filter {
	if len(associations) == 0 {
		return f.Clone()
	}

	result := make(Filter, 0, len(f))
	for _, expr := range f {
		if s, ok := expr.(*Scope); ok && associations[s.Association] {
			continue
		}
		result = append(result, expr)
	}
	return result
}

// Clone returns a shallow copy of the term list
func (f Filter) Clone() Filter {
	if f == nil {
		return nil
	}
	result := make(Filter, len(f))
	copy(result, f)
	return result
}

// Expr collapses the filter into a single expression
func (f Filter) Expr() Expr {
	if len(f) == 1 {
		return f[0]
	}
	return And{Exprs: f.Clone()}
}

// Eq builds an equality comparison
func Eq(field string, value interface{}) Comparison {
	return Comparison{Field: field, Operator: OpEqual, Value: value}
}

// Contains builds a pattern comparison matching values that contain q
func Contains(field string, q string) Comparison {
	return Comparison{Field: field, Operator: OpLike, Value: "%" + q + "%"}
}
