package filter

import (
	"encoding/json"
	"fmt"
)

// ToMap converts a filter back into its request-level form. It is the inverse
// of Parse up to key ordering.
func ToMap(f Filter) map[string]interface{} {
	result := make(map[string]interface{})
	var extra []interface{}

	put := func(key string, value interface{}) {
		if _, taken := result[key]; taken {
			extra = append(extra, map[string]interface{}{key: value})
			return
		}
		result[key] = value
	}

	for _, expr := range f {
		switch e := expr.(type) {
		case Comparison:
			ops, _ := result[e.Field].(map[string]interface{})
			if ops == nil {
				if _, taken := result[e.Field]; taken {
					extra = append(extra, map[string]interface{}{e.Field: comparisonOperand(e)})
					continue
				}
				ops = make(map[string]interface{})
				result[e.Field] = ops
			}
			key := e.Operator.Key()
			if _, taken := ops[key]; taken {
				extra = append(extra, map[string]interface{}{e.Field: comparisonOperand(e)})
				continue
			}
			ops[key] = comparisonValue(e)
		case And:
			put(KeyAnd, exprList(e.Exprs))
		case Or:
			put(KeyOr, exprList(e.Exprs))
		case Not:
			put(KeyNot, ToMap(Filter{e.Expr}))
		case *Scope:
			nested := ToMap(e.Filter)
			if !e.Passthrough.IsEmpty() {
				nested[KeyPassthrough] = ToMap(e.Passthrough)
			}
			put(e.Association, nested)
		}
	}

	if len(extra) > 0 {
		if existing, ok := result[KeyAnd].([]interface{}); ok {
			result[KeyAnd] = append(existing, extra...)
		} else {
			result[KeyAnd] = extra
		}
	}

	return result
}

// Key returns a deterministic string form of the filter, suitable for cache keys
func Key(f Filter) string {
	data, err := json.Marshal(ToMap(f))
	if err != nil {
		return fmt.Sprintf("%v", f)
	}
	return string(data)
}

func exprList(exprs []Expr) []interface{} {
	list := make([]interface{}, len(exprs))
	for i, expr := range exprs {
		list[i] = ToMap(Filter{expr})
	}
	return list
}

func comparisonOperand(c Comparison) map[string]interface{} {
	return map[string]interface{}{c.Operator.Key(): comparisonValue(c)}
}

func comparisonValue(c Comparison) interface{} {
	switch c.Operator {
	case OpIsNull, OpIsNotNull:
		return nil
	default:
		return c.Value
	}
}
