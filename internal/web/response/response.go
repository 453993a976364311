// Package response renders JSON bodies and classified errors
package response

import (
	"encoding/json"
	"net/http"

	"github.com/conduit-lang/datasource/internal/orm/crud"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// ListResponse is the body of a list request
type ListResponse struct {
	Data  []crud.Record `json:"data"`
	Total *int          `json:"total,omitempty"`
}

// CountResponse is the body of a count request
type CountResponse struct {
	Count int `json:"count"`
}

// JSON renders v with the given status
func JSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// Error renders err through crud.ClassifyError
func Error(w http.ResponseWriter, err error) {
	Classified(w, crud.ClassifyError(err))
}

// Classified renders an already classified error
func Classified(w http.ResponseWriter, result crud.ErrorResult) {
	JSON(w, result.Status, &ErrorResponse{
		Error:   "error",
		Message: result.Message,
		Code:    errorCodeFromStatus(result.Status),
		Details: result.Details,
	})
}

// BadRequest renders a 400 Bad Request error
func BadRequest(w http.ResponseWriter, message string) {
	Classified(w, crud.ErrorResult{Status: http.StatusBadRequest, Message: message})
}

// NotFound renders a 404 Not Found error
func NotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Resource not found"
	}
	Classified(w, crud.ErrorResult{Status: http.StatusNotFound, Message: message})
}

// MethodNotAllowed renders a 405 Method Not Allowed error
func MethodNotAllowed(w http.ResponseWriter) {
	Classified(w, crud.ErrorResult{Status: http.StatusMethodNotAllowed, Message: "method not allowed"})
}

// Unauthorized renders a 401
func Unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	Classified(w, crud.ErrorResult{Status: http.StatusUnauthorized, Message: message})
}

// Forbidden renders a 403
func Forbidden(w http.ResponseWriter, message string) {
	Classified(w, crud.ErrorResult{Status: http.StatusForbidden, Message: message})
}

// TooManyRequests renders a 429
func TooManyRequests(w http.ResponseWriter) {
	Classified(w, crud.ErrorResult{Status: http.StatusTooManyRequests, Message: "rate limit exceeded"})
}

// InternalError renders a 500 without exposing the cause
func InternalError(w http.ResponseWriter) {
	Classified(w, crud.ErrorResult{Status: http.StatusInternalServerError, Message: "An unexpected error occurred"})
}

// errorCodeFromStatus maps HTTP status codes to error codes
func errorCodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "unprocessable_entity"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	default:
		return "error"
	}
}
