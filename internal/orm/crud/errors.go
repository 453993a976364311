package crud

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Common repository error types
var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrUniqueViolation is returned when a unique constraint is violated
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")

	// ErrValidationFailed is returned when validation fails
	ErrValidationFailed = errors.New("validation failed")

	// ErrCheckViolation is returned when a check constraint is violated
	ErrCheckViolation = errors.New("check constraint violation")

	// ErrNotNullViolation is returned when a NOT NULL constraint is violated
	ErrNotNullViolation = errors.New("not null constraint violation")
)

// ValidationError contains multiple validation errors for a record
type ValidationError struct {
	Errors []FieldError
}

// Error implements the error interface
func (ve *ValidationError) Error() string {
	if len(ve.Errors) == 0 {
		return "validation failed"
	}
	if len(ve.Errors) == 1 {
		return fmt.Sprintf("validation failed: %s: %s", ve.Errors[0].Field, ve.Errors[0].Message)
	}
	return fmt.Sprintf("validation failed: %d errors", len(ve.Errors))
}

// Is matches ErrValidationFailed
func (ve *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// FieldError represents an error on a specific field
type FieldError struct {
	Field   string      `json:"path"`
	Message string      `json:"message"`
	Type    string      `json:"type,omitempty"`
	Value   interface{} `json:"value,omitempty"`
}

// ConstraintError is a database constraint failure normalized across drivers.
// It matches its Kind sentinel and the driver error with errors.Is/As.
type ConstraintError struct {
	Kind       error
	Constraint string
	Fields     []FieldError
	Detail     string
	Err        error
}

// Error implements the error interface
func (e *ConstraintError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Detail
}

// Unwrap returns the sentinel and the driver error
func (e *ConstraintError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// ConvertDBError converts driver errors from pgx, lib/pq and go-sqlite3 to
// repository errors. Unknown errors are returned unchanged.
func ConvertDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fromPostgres(err, pgErr.Code, pgErr.ConstraintName, pgErr.ColumnName, pgErr.Detail)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fromPostgres(err, string(pqErr.Code), pqErr.Constraint, pqErr.Column, pqErr.Detail)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrConstraint {
		return fromSQLite(err, liteErr)
	}

	return err
}

// pgKeyDetail matches "Key (email)=(a@example.com) already exists."
var pgKeyDetail = regexp.MustCompile(`Key \((.+?)\)=\((.*?)\)`)

func fromPostgres(err error, code, constraint, column, detail string) error {
	var kind error
	switch code {
	case "23505": // unique_violation
		kind = ErrUniqueViolation
	case "23503": // foreign_key_violation
		kind = ErrForeignKeyViolation
	case "23514": // check_violation
		kind = ErrCheckViolation
	case "23502": // not_null_violation
		kind = ErrNotNullViolation
		if detail == "" && column != "" {
			detail = "column " + column
		}
	default:
		return err
	}

	ce := &ConstraintError{Kind: kind, Constraint: constraint, Detail: detail, Err: err}
	if m := pgKeyDetail.FindStringSubmatch(detail); m != nil {
		columns := strings.Split(m[1], ", ")
		values := strings.Split(m[2], ", ")
		for i, name := range columns {
			fe := FieldError{Field: name, Message: name + " must be unique", Type: "unique violation"}
			if len(values) == len(columns) {
				fe.Value = values[i]
			}
			ce.Fields = append(ce.Fields, fe)
		}
	} else if column != "" {
		ce.Fields = []FieldError{{Field: column, Message: kind.Error(), Type: code}}
	}
	return ce
}

func fromSQLite(err error, liteErr sqlite3.Error) error {
	var kind error
	switch liteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		kind = ErrUniqueViolation
	case sqlite3.ErrConstraintForeignKey:
		kind = ErrForeignKeyViolation
	case sqlite3.ErrConstraintCheck:
		kind = ErrCheckViolation
	case sqlite3.ErrConstraintNotNull:
		kind = ErrNotNullViolation
	default:
		return err
	}

	// "UNIQUE constraint failed: users.email, users.name"
	message := liteErr.Error()
	ce := &ConstraintError{Kind: kind, Detail: message, Err: err}
	if i := strings.Index(message, "failed: "); i >= 0 {
		for _, qualified := range strings.Split(message[i+len("failed: "):], ", ") {
			name := qualified
			if dot := strings.LastIndex(qualified, "."); dot >= 0 {
				name = qualified[dot+1:]
			}
			ce.Fields = append(ce.Fields, FieldError{Field: name, Message: kind.Error(), Type: liteErr.ExtendedCode.Error()})
		}
	}
	return ce
}

// IsNotFound returns true if the error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUniqueViolation returns true if the error is ErrUniqueViolation
func IsUniqueViolation(err error) bool {
	return errors.Is(err, ErrUniqueViolation)
}

// IsForeignKeyViolation returns true if the error is ErrForeignKeyViolation
func IsForeignKeyViolation(err error) bool {
	return errors.Is(err, ErrForeignKeyViolation)
}

// IsValidationFailed returns true if the error is a validation error
func IsValidationFailed(err error) bool {
	if errors.Is(err, ErrValidationFailed) {
		return true
	}
	var valErr *ValidationError
	return errors.As(err, &valErr)
}
