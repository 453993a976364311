package middleware

import (
	"net/http"
	"strings"

	"github.com/conduit-lang/datasource/internal/web/auth"
	"github.com/conduit-lang/datasource/internal/web/response"
)

// AuthConfig holds configuration for authentication middleware
type AuthConfig struct {
	Tokens *auth.TokenService
	// WriteRoles, when set, are required for POST, PUT, PATCH and DELETE
	WriteRoles []string
	// SkipPaths are served without a token
	SkipPaths []string
}

// Auth requires a valid bearer token and stores its principal in the
// request context
func Auth(config AuthConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, skipPath := range config.SkipPaths {
				if r.URL.Path == skipPath {
					next.ServeHTTP(w, r)
					return
				}
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				response.Unauthorized(w, "authorization required")
				return
			}
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				response.Unauthorized(w, "invalid authorization format")
				return
			}

			principal, err := config.Tokens.ValidateToken(token)
			if err != nil {
				response.Unauthorized(w, "invalid token")
				return
			}

			if len(config.WriteRoles) > 0 && isWrite(r.Method) && !principal.HasRole(config.WriteRoles...) {
				response.Forbidden(w, "token may not modify records")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
