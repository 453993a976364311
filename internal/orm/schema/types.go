// Package schema provides entity metadata for the data source: resource
// declarations (fields, primary key, relationships), a registry that freezes
// them into read-only Entity views, and the value coercions applied when rows
// are materialized into records.
package schema

import (
	"fmt"
	"sort"

	"github.com/go-openapi/inflect"
)

// PrimitiveType represents the declared storage type of a field
type PrimitiveType int

const (
	// Text types
	TypeString PrimitiveType = iota
	TypeText

	// Numeric types
	TypeInt
	TypeBigInt
	TypeFloat
	TypeDecimal

	// Boolean
	TypeBool

	// Time types
	TypeTimestamp
	TypeDate
	TypeTime

	// Unique identifiers
	TypeUUID

	// JSON types
	TypeJSON
	TypeJSONB

	// Enum
	TypeEnum
)

// String returns the string representation of the primitive type
func (p PrimitiveType) String() string {
	switch p {
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeInt:
		return "int"
	case TypeBigInt:
		return "bigint"
	case TypeFloat:
		return "float"
	case TypeDecimal:
		return "decimal"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	case TypeTime:
		return "time"
	case TypeUUID:
		return "uuid"
	case TypeJSON:
		return "json"
	case TypeJSONB:
		return "jsonb"
	case TypeEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// ParsePrimitiveType converts a string to a PrimitiveType
func ParsePrimitiveType(s string) (PrimitiveType, error) {
	switch s {
	case "string":
		return TypeString, nil
	case "text":
		return TypeText, nil
	case "int", "integer":
		return TypeInt, nil
	case "bigint":
		return TypeBigInt, nil
	case "float":
		return TypeFloat, nil
	case "decimal":
		return TypeDecimal, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "timestamp":
		return TypeTimestamp, nil
	case "date":
		return TypeDate, nil
	case "time":
		return TypeTime, nil
	case "uuid":
		return TypeUUID, nil
	case "json":
		return TypeJSON, nil
	case "jsonb":
		return TypeJSONB, nil
	case "enum":
		return TypeEnum, nil
	default:
		return 0, fmt.Errorf("unknown primitive type: %s", s)
	}
}

// TypeSpec represents a field type with nullability
type TypeSpec struct {
	BaseType   PrimitiveType
	Nullable   bool
	Default    interface{}
	EnumValues []string
}

// String returns a string representation of the TypeSpec
func (t *TypeSpec) String() string {
	s := t.BaseType.String()
	if t.Nullable {
		return s + "?"
	}
	return s + "!"
}

// IsText returns true if the type is stored as text
func (t *TypeSpec) IsText() bool {
	return t.BaseType == TypeString || t.BaseType == TypeText || t.BaseType == TypeEnum
}

// IsTemporal returns true if the type is a date/time type
func (t *TypeSpec) IsTemporal() bool {
	return t.BaseType == TypeTimestamp || t.BaseType == TypeDate || t.BaseType == TypeTime
}

// Field represents a column of a resource
type Field struct {
	Name        string
	Type        *TypeSpec
	Annotations []Annotation
}

// HasAnnotation returns true if the field carries the named annotation
func (f *Field) HasAnnotation(name string) bool {
	for _, annotation := range f.Annotations {
		if annotation.Name == name {
			return true
		}
	}
	return false
}

// Annotation represents field annotations like @primary, @auto, @unique
type Annotation struct {
	Name string
	Args []interface{}
}

// RelationType represents the type of relationship
type RelationType int

const (
	RelationshipBelongsTo RelationType = iota
	RelationshipHasMany
	RelationshipHasManyThrough
	RelationshipHasOne
)

// String returns the string representation of the relationship type
func (r RelationType) String() string {
	switch r {
	case RelationshipBelongsTo:
		return "belongs_to"
	case RelationshipHasMany:
		return "has_many"
	case RelationshipHasManyThrough:
		return "has_many_through"
	case RelationshipHasOne:
		return "has_one"
	default:
		return "unknown"
	}
}

// ParseRelationType converts a string to a RelationType
func ParseRelationType(s string) (RelationType, error) {
	switch s {
	case "belongs_to":
		return RelationshipBelongsTo, nil
	case "has_many":
		return RelationshipHasMany, nil
	case "has_many_through":
		return RelationshipHasManyThrough, nil
	case "has_one":
		return RelationshipHasOne, nil
	default:
		return 0, fmt.Errorf("unknown relationship type: %s", s)
	}
}

// Relationship represents a relationship between resources
type Relationship struct {
	Type           RelationType
	TargetResource string
	FieldName      string
	Nullable       bool

	// ForeignKey is the referencing column: on this resource for belongs_to,
	// on the target for has_one/has_many, on the join table for has_many_through.
	ForeignKey string

	// TargetKey is the referenced column on the target (defaults to its primary key)
	TargetKey string

	// For has_many_through
	JoinTable      string
	AssociationKey string
}

// ResourceSchema is the declaration of one resource
type ResourceSchema struct {
	Name          string
	Fields        map[string]*Field
	Relationships map[string]*Relationship

	// TableName defaults to the pluralized snake_case resource name
	TableName string

	// PrimaryKey overrides the @primary annotation lookup
	PrimaryKey string

	fieldOrder []string
}

// NewResourceSchema creates a new ResourceSchema
func NewResourceSchema(name string) *ResourceSchema {
	return &ResourceSchema{
		Name:          name,
		Fields:        make(map[string]*Field),
		Relationships: make(map[string]*Relationship),
		TableName:     TableName(name),
	}
}

// AddField adds a field and records its declaration order
func (r *ResourceSchema) AddField(field *Field) {
	if _, exists := r.Fields[field.Name]; !exists {
		r.fieldOrder = append(r.fieldOrder, field.Name)
	}
	r.Fields[field.Name] = field
}

// AddRelationship adds a relationship keyed by its field name
func (r *ResourceSchema) AddRelationship(rel *Relationship) {
	r.Relationships[rel.FieldName] = rel
}

// FieldNames returns field names in declaration order. Fields assigned
// directly to the Fields map follow in sorted order.
func (r *ResourceSchema) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	seen := make(map[string]bool, len(r.Fields))
	for _, name := range r.fieldOrder {
		if _, ok := r.Fields[name]; ok && !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}

	var rest []string
	for name := range r.Fields {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)

	return append(names, rest...)
}

// GetPrimaryKey returns the primary key field
func (r *ResourceSchema) GetPrimaryKey() (*Field, error) {
	if r.PrimaryKey != "" {
		if field, ok := r.Fields[r.PrimaryKey]; ok {
			return field, nil
		}
		return nil, fmt.Errorf("resource %s: primary key %s is not a field", r.Name, r.PrimaryKey)
	}
	for _, name := range r.FieldNames() {
		if r.Fields[name].HasAnnotation("primary") {
			return r.Fields[name], nil
		}
	}
	if field, ok := r.Fields["id"]; ok {
		return field, nil
	}
	return nil, fmt.Errorf("resource %s has no primary key", r.Name)
}

// HasField returns true if the resource has a field with the given name
func (r *ResourceSchema) HasField(name string) bool {
	_, exists := r.Fields[name]
	return exists
}

// HasRelationship returns true if the resource has a relationship with the given name
func (r *ResourceSchema) HasRelationship(name string) bool {
	_, exists := r.Relationships[name]
	return exists
}

// TableName converts a resource name to a table name (snake_case plural)
func TableName(resourceName string) string {
	return inflect.Pluralize(inflect.Underscore(resourceName))
}
