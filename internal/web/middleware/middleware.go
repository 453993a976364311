// Package middleware provides the HTTP middleware of the datasource server:
// request IDs, zap request logging and panic recovery.
package middleware

import (
	"net/http"

	"go.uber.org/zap"
)

// Middleware is a function that wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Default returns the server stack in execution order: request ID,
// logging, recovery.
func Default(logger *zap.Logger) []Middleware {
	return []Middleware{
		RequestID(logger),
		Logging(logger),
		Recovery(logger),
	}
}
