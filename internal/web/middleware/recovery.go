package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/conduit-lang/datasource/internal/web/response"
)

// RecoveryConfig holds configuration for the recovery middleware
type RecoveryConfig struct {
	// EnableStackTrace determines whether to log stack traces
	EnableStackTrace bool
	// Logger is an optional custom logger
	Logger func(error, []byte)
	// ResponseHandler is an optional custom response handler
	ResponseHandler func(http.ResponseWriter, *http.Request, interface{})
}

// Recovery creates a middleware that recovers from panics and logs them to logger
func Recovery(logger *zap.Logger) Middleware {
	return RecoveryWithConfig(RecoveryConfig{
		EnableStackTrace: true,
		Logger: func(err error, stack []byte) {
			logger.Error("panic recovered", zap.Error(err), zap.ByteString("stack", stack))
		},
	})
}

// RecoveryWithConfig creates a recovery middleware with custom configuration
func RecoveryWithConfig(config RecoveryConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					// Capture stack trace
					var stack []byte
					if config.EnableStackTrace {
						stack = debug.Stack()
					}

					// Log the panic
					if config.Logger != nil {
						// Convert err to error type if possible
						var errValue error
						switch e := err.(type) {
						case error:
							errValue = e
						default:
							errValue = &panicError{value: err}
						}
						config.Logger(errValue, stack)
					}

					// Send response
					if config.ResponseHandler != nil {
						config.ResponseHandler(w, r, err)
					} else {
						defaultRecoveryResponse(w, r, err)
					}
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// defaultRecoveryResponse sends a JSON 500 without the panic value
func defaultRecoveryResponse(w http.ResponseWriter, r *http.Request, err interface{}) {
	response.InternalError(w)
}

// panicError wraps a panic value as an error
type panicError struct {
	value interface{}
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}
