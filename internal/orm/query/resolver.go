package query

import (
	"github.com/conduit-lang/datasource/internal/orm/filter"
	"github.com/conduit-lang/datasource/internal/orm/schema"
)

// IncludeNode is one joined association in a plan
type IncludeNode struct {
	Association *schema.Association
	Attributes  []string
	Include     []*IncludeNode
	Required    *bool
	// Where is nil when the filter has no scope for the association. A
	// non-nil Where, even empty, still needs a matching row unless Required
	// says otherwise.
	Where filter.Filter
}

// Resolution is the result of resolving a field list against an entity
type Resolution struct {
	// Attributes are the requested names that are not expanded associations
	Attributes []string
	Include    []*IncludeNode
	// Where is the input filter without the scopes relocated into Include
	Where filter.Filter
}

// Resolve splits fields into root attributes and a join tree, and partitions
// where between the root and the joins.
//
// A field is expanded into a join only when it is both declared in fieldMap
// and an association of entity; anything else is kept verbatim as an
// attribute. A scope in where for an expanded association is moved into the
// join, keeping only comparisons on projected sub-fields plus its passthrough
// terms. In filterDriven mode expanded names stay in Attributes and joins are
// emitted only for associations the filter scopes, even when nothing of the
// scope survives cleaning.
//
// Neither fieldMap nor where is modified.
func Resolve(entity *schema.Entity, fieldMap FieldMap, fields []FieldSpec, where filter.Filter, filterDriven bool) Resolution {
	var (
		names     = make([]string, 0, len(fields))
		include   []*IncludeNode
		expanded  = make(map[string]bool)
		relocated = make(map[string]bool)
	)

	for _, spec := range fields {
		name := spec.FieldName()
		names = append(names, name)

		meta, ok := fieldMap[name]
		if !ok {
			continue
		}
		assoc, ok := entity.Association(name)
		if !ok {
			continue
		}

		if !filterDriven {
			expanded[name] = true
		}

		subFields, required := subFieldsFor(spec, meta, assoc)

		scope, scoped := where.Scope(name)
		var nestedWhere filter.Filter
		if scoped {
			nestedWhere = scope.Filter
		}

		nested := Resolve(assoc.Target, meta.Nested(), subFields, nestedWhere, filterDriven)

		var cleaned filter.Filter
		if scoped {
			relocated[name] = true
			cleaned = cleanScope(nested.Where, scope.Passthrough, nested.Attributes)
		}

		if filterDriven && !scoped {
			continue
		}

		include = append(include, &IncludeNode{
			Association: assoc,
			Attributes:  nested.Attributes,
			Include:     nested.Include,
			Required:    required,
			Where:       cleaned,
		})
	}

	attributes := names
	if len(expanded) > 0 {
		attributes = make([]string, 0, len(names))
		for _, name := range names {
			if !expanded[name] {
				attributes = append(attributes, name)
			}
		}
	}

	return Resolution{
		Attributes: attributes,
		Include:    include,
		Where:      where.WithoutScopes(relocated),
	}
}

// subFieldsFor picks the association's sub-fields: a Detailed request with
// fields, then the configured defaults, then the target key. The target key
// fallback leaves requiredness unset.
func subFieldsFor(spec FieldSpec, meta FieldMeta, assoc *schema.Association) ([]FieldSpec, *bool) {
	if d, ok := spec.(Detailed); ok && d.Fields != nil {
		return d.Fields, d.Required
	}
	if meta.Fields != nil {
		return meta.Fields, meta.Required
	}
	return []FieldSpec{Bare(assoc.TargetKey)}, nil
}

// cleanScope keeps the terms of a join filter that reference resolved
// sub-fields and appends the passthrough terms unfiltered
func cleanScope(where, passthrough filter.Filter, resolved []string) filter.Filter {
	allowed := make(map[string]bool, len(resolved))
	for _, name := range resolved {
		allowed[name] = true
	}

	cleaned := make(filter.Filter, 0, len(where)+len(passthrough))
	for _, expr := range where {
		switch e := expr.(type) {
		case filter.Comparison:
			if allowed[e.Field] {
				cleaned = append(cleaned, e)
			}
		case *filter.Scope:
			if allowed[e.Association] {
				cleaned = append(cleaned, e)
			}
		}
	}
	return append(cleaned, passthrough...)
}
