package crud

import (
	"errors"
	"net/http"
	"sync"
)

// ErrorResult is the caller-facing shape of a failed operation
type ErrorResult struct {
	Status  int         `json:"status"`
	Message string      `json:"message,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// ErrorRule classifies err, reporting false when it does not apply
type ErrorRule func(err error) (ErrorResult, bool)

var (
	rulesMu sync.RWMutex
	rules   []ErrorRule
)

// RegisterErrorRule adds a rule consulted before the built-in ones. Rules
// registered later take precedence.
func RegisterErrorRule(rule ErrorRule) {
	rulesMu.Lock()
	defer rulesMu.Unlock()
	rules = append([]ErrorRule{rule}, rules...)
}

// ClassifyError maps an error to a status and details. Anything
// unrecognized becomes a bad request carrying the raw message, which exposes
// backend errors to the caller.
func ClassifyError(err error) ErrorResult {
	if err == nil {
		return ErrorResult{Status: http.StatusOK}
	}

	rulesMu.RLock()
	registered := rules
	rulesMu.RUnlock()

	for _, rule := range registered {
		if result, ok := rule(err); ok {
			return result
		}
	}
	for _, rule := range builtinRules {
		if result, ok := rule(err); ok {
			return result
		}
	}
	return ErrorResult{Status: http.StatusBadRequest, Message: err.Error(), Details: err.Error()}
}

var builtinRules = []ErrorRule{
	classifyValidation,
	classifyUnique,
	classifyNotFound,
}

func classifyValidation(err error) (ErrorResult, bool) {
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		return ErrorResult{}, false
	}
	return ErrorResult{
		Status:  http.StatusBadRequest,
		Message: valErr.Error(),
		Details: fieldDetails(valErr.Errors),
	}, true
}

func classifyUnique(err error) (ErrorResult, bool) {
	if !IsUniqueViolation(err) {
		return ErrorResult{}, false
	}
	result := ErrorResult{Status: http.StatusBadRequest, Message: err.Error()}

	var ce *ConstraintError
	if errors.As(err, &ce) {
		result.Details = fieldDetails(ce.Fields)
	} else {
		result.Details = map[string]FieldError{}
	}
	return result, true
}

func classifyNotFound(err error) (ErrorResult, bool) {
	if !IsNotFound(err) {
		return ErrorResult{}, false
	}
	return ErrorResult{Status: http.StatusNotFound, Message: err.Error()}, true
}

// fieldDetails keys field errors by field; the first error per field wins
func fieldDetails(fieldErrors []FieldError) map[string]FieldError {
	details := make(map[string]FieldError, len(fieldErrors))
	for _, fe := range fieldErrors {
		if _, exists := details[fe.Field]; !exists {
			details[fe.Field] = fe
		}
	}
	return details
}
