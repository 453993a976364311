package query

import "github.com/conduit-lang/datasource/internal/orm/filter"

// BuildSearch builds one "contains q" comparison per search field
func BuildSearch(qFields []string, q string) []filter.Expr {
	exprs := make([]filter.Expr, 0, len(qFields))
	for _, field := range qFields {
		exprs = append(exprs, filter.Contains(field, q))
	}
	return exprs
}

// ApplySearch returns where with the free-text disjunction added. An existing
// top-level Or is replaced, not merged.
func ApplySearch(where filter.Filter, qFields []string, q string) filter.Filter {
	if q == "" {
		return where
	}
	exprs := BuildSearch(qFields, q)
	if len(exprs) == 0 {
		return where
	}

	result := make(filter.Filter, 0, len(where)+1)
	for _, expr := range where {
		if _, isOr := expr.(filter.Or); isOr {
			continue
		}
		result = append(result, expr)
	}
	return append(result, filter.Or{Exprs: exprs})
}
