// Package auth verifies the bearer tokens that guard the resource API
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail verification
var ErrInvalidToken = errors.New("invalid token")

// Principal is the caller a token was issued to
type Principal struct {
	Subject string
	Roles   []string
}

// HasRole returns true if the principal carries any of roles
func (p *Principal) HasRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range p.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// TokenService issues and validates HS256 tokens
type TokenService struct {
	secretKey []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewTokenService creates a TokenService with the given secret and token TTL
func NewTokenService(secretKey string, tokenTTL time.Duration) *TokenService {
	return &TokenService{secretKey: []byte(secretKey), tokenTTL: tokenTTL, now: time.Now}
}

// GenerateToken issues a token for subject with roles
func (s *TokenService) GenerateToken(subject string, roles []string) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}
	now := s.now()
	claims := jwt.MapClaims{
		"sub":   subject,
		"roles": roles,
		"iat":   now.Unix(),
		"exp":   now.Add(s.tokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
}

// ValidateToken verifies tokenString and returns its principal
func (s *TokenService) ValidateToken(tokenString string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// only HS256 is accepted, whatever the header claims
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	principal := &Principal{Subject: subject}
	if roles, ok := claims["roles"].([]interface{}); ok {
		for _, role := range roles {
			if name, ok := role.(string); ok {
				principal.Roles = append(principal.Roles, name)
			}
		}
	}
	return principal, nil
}
