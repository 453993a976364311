package query

import "github.com/conduit-lang/datasource/internal/orm/filter"

// Describe returns a JSON-friendly view of the plan for logs and the CLI
func (p *Plan) Describe() map[string]interface{} {
	desc := map[string]interface{}{
		"attributes": p.Attributes,
	}
	if p.Entity != nil {
		desc["entity"] = p.Entity.Name()
	}
	if len(p.Include) > 0 {
		desc["include"] = describeIncludes(p.Include)
	}
	if !p.Where.IsEmpty() {
		desc["where"] = filter.ToMap(p.Where)
	}
	if len(p.Order) > 0 {
		order := make([][]string, len(p.Order))
		for i, term := range p.Order {
			order[i] = []string{term.Field, string(term.Direction)}
		}
		desc["order"] = order
	}
	if p.Limit != nil {
		desc["limit"] = *p.Limit
	}
	if p.Offset != nil {
		desc["offset"] = *p.Offset
	}
	if p.Distinct {
		desc["distinct"] = true
	}
	return desc
}

func describeIncludes(nodes []*IncludeNode) []map[string]interface{} {
	result := make([]map[string]interface{}, len(nodes))
	for i, node := range nodes {
		desc := map[string]interface{}{
			"association": node.Association.Name,
			"attributes":  node.Attributes,
		}
		if node.Required != nil {
			desc["required"] = *node.Required
		}
		if len(node.Include) > 0 {
			desc["include"] = describeIncludes(node.Include)
		}
		if node.Where != nil {
			desc["where"] = filter.ToMap(node.Where)
		}
		result[i] = desc
	}
	return result
}
