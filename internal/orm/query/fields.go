// Package query builds query plans from field projections, filters, search
// terms, sort keys and pagination. Plans describe the root attributes to
// select, a tree of joined associations and the residual root filter; they are
// executed by a separate executor.
package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidFields is returned when a field list cannot be parsed
var ErrInvalidFields = errors.New("invalid fields")

// FieldSpec is a requested field: either Bare or Detailed.
//
// This is a sealed interface; only types in this package implement it.
type FieldSpec interface {
	FieldName() string
	fieldSpec()
}

// Bare requests a field by name
type Bare string

// Detailed requests an association with explicit sub-fields and join requiredness
type Detailed struct {
	Name     string
	Fields   []FieldSpec
	Required *bool
}

func (b Bare) FieldName() string     { return string(b) }
func (d Detailed) FieldName() string { return d.Name }
func (Bare) fieldSpec()              {}
func (Detailed) fieldSpec()          {}

// Names returns the field names of specs in order
func Names(specs []FieldSpec) []string {
	names := make([]string, len(specs))
	for i, spec := range specs {
		names[i] = spec.FieldName()
	}
	return names
}

// BareFields converts names to Bare specs
func BareFields(names ...string) []FieldSpec {
	specs := make([]FieldSpec, len(names))
	for i, name := range names {
		specs[i] = Bare(name)
	}
	return specs
}

// FieldMeta configures how an exposed field maps to an association
type FieldMeta struct {
	// Fields are the default sub-fields projected from the association.
	// Detailed entries also declare the nested associations that may be
	// expanded one level deeper.
	Fields []FieldSpec

	// Required makes the join an inner join when true
	Required *bool
}

// Nested returns the field map for the association's target entity
func (m FieldMeta) Nested() FieldMap {
	var nested FieldMap
	for _, spec := range m.Fields {
		d, ok := spec.(Detailed)
		if !ok {
			continue
		}
		if nested == nil {
			nested = make(FieldMap)
		}
		nested[d.Name] = FieldMeta{Fields: d.Fields, Required: d.Required}
	}
	return nested
}

// FieldMap maps exposed association names to their configuration. It is
// built once per resource and never modified by planning.
type FieldMap map[string]FieldMeta

// Names returns the configured association names in sorted order
func (m FieldMap) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns one Bare spec per configured association, sorted by name
func (m FieldMap) Specs() []FieldSpec {
	return BareFields(m.Names()...)
}

// ParseFields converts a loosely typed field list into specs. Accepted forms:
// a comma separated string, a list of strings, or a list mixing strings and
// objects of the form {"name": ..., "fields": [...], "required": bool}.
func ParseFields(value interface{}) ([]FieldSpec, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		var specs []FieldSpec
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				specs = append(specs, Bare(part))
			}
		}
		return specs, nil
	case []string:
		return BareFields(v...), nil
	case []interface{}:
		specs := make([]FieldSpec, 0, len(v))
		for i, item := range v {
			spec, err := parseFieldSpec(item)
			if err != nil {
				return nil, fmt.Errorf("%w: item %d: %v", ErrInvalidFields, i, err)
			}
			specs = append(specs, spec)
		}
		return specs, nil
	case []FieldSpec:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidFields, value)
	}
}

func parseFieldSpec(item interface{}) (FieldSpec, error) {
	switch v := item.(type) {
	case string:
		return Bare(v), nil
	case map[string]interface{}:
		name, _ := v["name"].(string)
		if name == "" {
			return nil, errors.New("object field requires a name")
		}
		d := Detailed{Name: name}
		if raw, ok := v["fields"]; ok && raw != nil {
			fields, err := ParseFields(raw)
			if err != nil {
				return nil, err
			}
			if fields == nil {
				fields = []FieldSpec{}
			}
			d.Fields = fields
		}
		if raw, ok := v["required"]; ok && raw != nil {
			required, ok := raw.(bool)
			if !ok {
				return nil, fmt.Errorf("required must be a boolean, got %T", raw)
			}
			d.Required = &required
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported field %T", item)
	}
}

// ParseFieldMap converts the configuration form of a field map:
//
//	customer:
//	  fields: [id, name, {name: address, fields: [city]}]
//	  required: true
func ParseFieldMap(raw map[string]interface{}) (FieldMap, error) {
	fieldMap := make(FieldMap, len(raw))
	for name, value := range raw {
		var meta FieldMeta
		switch v := value.(type) {
		case nil:
		case map[string]interface{}:
			if fields, ok := v["fields"]; ok {
				specs, err := ParseFields(fields)
				if err != nil {
					return nil, fmt.Errorf("field map %s: %w", name, err)
				}
				meta.Fields = specs
			}
			if raw, ok := v["required"]; ok && raw != nil {
				required, ok := raw.(bool)
				if !ok {
					return nil, fmt.Errorf("%w: field map %s: required must be a boolean", ErrInvalidFields, name)
				}
				meta.Required = &required
			}
		default:
			return nil, fmt.Errorf("%w: field map %s: expected an object, got %T", ErrInvalidFields, name, value)
		}
		fieldMap[name] = meta
	}
	return fieldMap, nil
}
