package crud

import (
	"context"

	"github.com/conduit-lang/datasource/internal/orm/schema"
)

// Operation represents a write operation type
type Operation int

const (
	// OperationCreate represents a create operation
	OperationCreate Operation = iota
	// OperationUpdate represents an update operation
	OperationUpdate
	// OperationDelete represents a delete operation
	OperationDelete
)

// String returns the string representation of the operation
func (o Operation) String() string {
	switch o {
	case OperationCreate:
		return "create"
	case OperationUpdate:
		return "update"
	case OperationDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Validator checks a record before it is written. Returning a
// *ValidationError lets ClassifyError report per-field details.
type Validator interface {
	Validate(ctx context.Context, entity *schema.Entity, record map[string]interface{}, operation Operation) error
}

// ValidatorFunc adapts a function to the Validator interface
type ValidatorFunc func(ctx context.Context, entity *schema.Entity, record map[string]interface{}, operation Operation) error

// Validate calls f
func (f ValidatorFunc) Validate(ctx context.Context, entity *schema.Entity, record map[string]interface{}, operation Operation) error {
	return f(ctx, entity, record, operation)
}

// Stage is the point of a write at which hooks run
type Stage int

const (
	// StageBefore runs after validation and before the write
	StageBefore Stage = iota
	// StageAfter runs with the stored record once the write succeeded
	StageAfter
)

// String returns the string representation of the stage
func (s Stage) String() string {
	if s == StageBefore {
		return "before"
	}
	return "after"
}

// Hooks runs lifecycle callbacks around repository writes. A before hook
// error aborts the write.
type Hooks interface {
	Run(ctx context.Context, entity *schema.Entity, stage Stage, operation Operation, record map[string]interface{}) error
}
