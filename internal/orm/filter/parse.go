package filter

import (
	"fmt"
	"sort"
	"strings"
)

// Parse converts a loosely typed request filter into a Filter.
//
// Keys starting with "$" are operators; every other key is a field. A field
// value may be a scalar (equality), nil (IS NULL), a list (IN), a map of
// operator keys (comparisons) or a map of field keys (a Scope for an
// associated entity). Inside a Scope, the "$$" key holds terms that are merged
// into the join filter verbatim. Keys are processed in sorted order so the
// resulting Filter is deterministic.
func Parse(input map[string]interface{}) (Filter, error) {
	terms, passthrough, err := parseMap(input, "")
	if err != nil {
		return nil, err
	}
	return append(terms, passthrough...), nil
}

// MustParse is like Parse but panics on error. Intended for tests and static filters.
func MustParse(input map[string]interface{}) Filter {
	f, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return f
}

func parseMap(input map[string]interface{}, path string) (Filter, Filter, error) {
	keys := make([]string, 0, len(input))
	for key := range input {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var terms, passthrough Filter
	for _, key := range keys {
		value := input[key]
		at := joinPath(path, key)

		switch {
		case key == KeyPassthrough:
			nested, err := asMap(value, at)
			if err != nil {
				return nil, nil, err
			}
			parsed, err := Parse(nested)
			if err != nil {
				return nil, nil, err
			}
			passthrough = append(passthrough, parsed...)

		case key == KeyOr || key == KeyAnd:
			exprs, err := parseList(value, at)
			if err != nil {
				return nil, nil, err
			}
			if key == KeyOr {
				terms = append(terms, Or{Exprs: exprs})
			} else {
				terms = append(terms, And{Exprs: exprs})
			}

		case key == KeyNot:
			nested, err := asMap(value, at)
			if err != nil {
				return nil, nil, err
			}
			parsed, err := Parse(nested)
			if err != nil {
				return nil, nil, err
			}
			terms = append(terms, Not{Expr: parsed.Expr()})

		case strings.HasPrefix(key, "$"):
			return nil, nil, fmt.Errorf("%w: unexpected operator %s at %s", ErrInvalidFilter, key, pathOrRoot(path))

		default:
			fieldTerms, err := parseField(key, value, at)
			if err != nil {
				return nil, nil, err
			}
			terms = append(terms, fieldTerms...)
		}
	}

	return terms, passthrough, nil
}

// parseList parses the operand of $or/$and: a list of filters or a single filter map
func parseList(value interface{}, path string) ([]Expr, error) {
	switch v := value.(type) {
	case []interface{}:
		exprs := make([]Expr, 0, len(v))
		for i, item := range v {
			nested, err := asMap(item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			parsed, err := Parse(nested)
			if err != nil {
				return nil, err
			}
			if parsed.IsEmpty() {
				continue
			}
			exprs = append(exprs, parsed.Expr())
		}
		return exprs, nil
	case []map[string]interface{}:
		items := make([]interface{}, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return parseList(items, path)
	case map[string]interface{}:
		parsed, err := Parse(v)
		if err != nil {
			return nil, err
		}
		return []Expr(parsed), nil
	default:
		return nil, fmt.Errorf("%w: %s expects a list of filters, got %T", ErrInvalidFilter, path, value)
	}
}

func parseField(field string, value interface{}, path string) ([]Expr, error) {
	switch v := value.(type) {
	case nil:
		return []Expr{Comparison{Field: field, Operator: OpIsNull}}, nil
	case []interface{}:
		return []Expr{Comparison{Field: field, Operator: OpIn, Value: v}}, nil
	case []string:
		values := make([]interface{}, len(v))
		for i := range v {
			values[i] = v[i]
		}
		return []Expr{Comparison{Field: field, Operator: OpIn, Value: values}}, nil
	case map[string]interface{}:
		if isComparisonMap(v) {
			return parseComparisons(field, v, path)
		}
		terms, passthrough, err := parseMap(v, path)
		if err != nil {
			return nil, err
		}
		return []Expr{&Scope{Association: field, Filter: terms, Passthrough: passthrough}}, nil
	default:
		return []Expr{Eq(field, value)}, nil
	}
}

func parseComparisons(field string, ops map[string]interface{}, path string) ([]Expr, error) {
	keys := make([]string, 0, len(ops))
	for key := range ops {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	exprs := make([]Expr, 0, len(keys))
	for _, key := range keys {
		op, err := ParseOperator(key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", joinPath(path, key), err)
		}
		value := ops[key]

		switch op {
		case OpEqual:
			if value == nil {
				op = OpIsNull
			}
		case OpNotEqual:
			if value == nil {
				op = OpIsNotNull
			}
		case OpIn, OpNotIn:
			list, ok := toList(value)
			if !ok {
				return nil, fmt.Errorf("%w: %s expects a list, got %T", ErrInvalidFilter, joinPath(path, key), value)
			}
			value = list
		case OpBetween:
			list, ok := toList(value)
			if !ok || len(list) != 2 {
				return nil, fmt.Errorf("%w: %s expects [min, max]", ErrInvalidFilter, joinPath(path, key))
			}
			value = list
		}

		exprs = append(exprs, Comparison{Field: field, Operator: op, Value: value})
	}
	return exprs, nil
}

// isComparisonMap reports whether every key of m is a comparison operator
func isComparisonMap(m map[string]interface{}) bool {
	if len(m) == 0 {
		return false
	}
	for key := range m {
		if !isOperatorKey(key) {
			return false
		}
	}
	return true
}

func toList(value interface{}) ([]interface{}, bool) {
	switch v := value.(type) {
	case []interface{}:
		return v, true
	case []string:
		list := make([]interface{}, len(v))
		for i := range v {
			list[i] = v[i]
		}
		return list, true
	default:
		return nil, false
	}
}

func asMap(value interface{}, path string) (map[string]interface{}, error) {
	m, ok := value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s expects an object, got %T", ErrInvalidFilter, path, value)
	}
	return m, nil
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func pathOrRoot(path string) string {
	if path == "" {
		return "root"
	}
	return path
}
