// Package validation checks records against their entity before the
// repository writes them. It covers nullability, enum membership, value
// types and the format annotations (email, url, phone).
package validation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/conduit-lang/datasource/internal/orm/crud"
	"github.com/conduit-lang/datasource/internal/orm/schema"
)

// Engine validates records for a crud.Repository
type Engine struct {
	coercions  *schema.Coercions
	annotation map[string]FieldValidator
}

// NewEngine creates an engine using coercions for type checks. A nil
// coercions uses schema.DefaultCoercions.
func NewEngine(coercions *schema.Coercions) *Engine {
	if coercions == nil {
		coercions = schema.DefaultCoercions()
	}
	return &Engine{
		coercions: coercions,
		annotation: map[string]FieldValidator{
			"email": &EmailValidator{},
			"url":   &URLValidator{},
			"phone": &PhoneValidator{},
		},
	}
}

// RegisterAnnotation runs v for every field carrying the annotation name
func (e *Engine) RegisterAnnotation(name string, v FieldValidator) {
	e.annotation[name] = v
}

var _ crud.Validator = (*Engine)(nil)

// Validate implements crud.Validator. Deletes are not checked.
func (e *Engine) Validate(_ context.Context, entity *schema.Entity, record map[string]interface{}, operation crud.Operation) error {
	if operation == crud.OperationDelete {
		return nil
	}

	var errs []crud.FieldError
	add := func(field, typ, message string, value interface{}) {
		errs = append(errs, crud.FieldError{Field: field, Message: message, Type: typ, Value: value})
	}

	for _, name := range entity.AttributeNames() {
		field, ok := entity.Field(name)
		if !ok || field.Type == nil {
			continue
		}
		value, present := record[name]

		// Layer 1: nullability
		if value == nil {
			if field.Type.Nullable || generated(entity, field) {
				continue
			}
			if present || operation == crud.OperationCreate {
				add(name, "required", "is required", nil)
			}
			continue
		}

		// Layer 2: the value must convert to the field's type
		coerced, err := e.coercions.Coerce(field.Type, value)
		if err != nil {
			add(name, "type", fmt.Sprintf("must be a %s", field.Type.BaseType), value)
			continue
		}

		// Layer 3: enum membership
		if len(field.Type.EnumValues) > 0 {
			if err := (&EnumValidator{Values: field.Type.EnumValues}).Validate(coerced); err != nil {
				add(name, "enum", err.Error(), value)
				continue
			}
		}

		// Layer 4: format annotations
		for _, annotation := range field.Annotations {
			v, ok := e.annotation[annotation.Name]
			if !ok {
				continue
			}
			if err := v.Validate(coerced); err != nil {
				add(name, annotation.Name, err.Error(), value)
				break
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return &crud.ValidationError{Errors: errs}
}

// generated reports whether the store or executor fills the field when it is
// left out: the primary key, defaulted columns and the write timestamps.
func generated(entity *schema.Entity, field *schema.Field) bool {
	if field.Name == entity.PrimaryKey() || field.HasAnnotation("primary") {
		return true
	}
	if field.Type.Default != nil || field.HasAnnotation("default") {
		return true
	}
	if field.Type.IsTemporal() {
		switch strings.ToLower(field.Name) {
		case "created_at", "updated_at":
			return true
		}
	}
	return false
}
