package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// RequestIDKey is the context key for request IDs
	RequestIDKey ContextKey = "request_id"

	loggerKey ContextKey = "logger"

	// maxRequestIDLength bounds client supplied request IDs
	maxRequestIDLength = 128
)

// RequestIDConfig holds configuration for the request ID middleware
type RequestIDConfig struct {
	// HeaderName is the header carrying the request ID both ways
	HeaderName string
	// Generator creates IDs for requests without a usable one
	Generator func() string
	// Logger is the base of the request scoped logger
	Logger *zap.Logger
}

// RequestID tags every request with an ID from X-Request-ID or a new uuid,
// and stores a logger carrying that ID in the request context
func RequestID(logger *zap.Logger) Middleware {
	return RequestIDWithConfig(RequestIDConfig{
		HeaderName: "X-Request-ID",
		Generator:  func() string { return uuid.New().String() },
		Logger:     logger,
	})
}

// RequestIDWithConfig creates a request ID middleware with custom configuration
func RequestIDWithConfig(config RequestIDConfig) Middleware {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(config.HeaderName)
			if !validRequestID(requestID) {
				if requestID != "" {
					config.Logger.Debug("replacing client request id", zap.Int("length", len(requestID)))
				}
				requestID = config.Generator()
			}

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, loggerKey, config.Logger.With(zap.String("request_id", requestID)))
			w.Header().Set(config.HeaderName, requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRequestID extracts the request ID from the context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// RequestLogger returns the request scoped logger, or fallback outside the
// request ID middleware
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return fallback
}

// validRequestID accepts short IDs made of letters, digits and -_.:
// so that client values can go to logs and headers unescaped
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, char := range id {
		switch {
		case char >= 'a' && char <= 'z', char >= 'A' && char <= 'Z', char >= '0' && char <= '9':
		case char == '-', char == '_', char == '.', char == ':':
		default:
			return false
		}
	}
	return true
}
