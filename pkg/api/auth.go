package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const callerKey contextKey = "caller"

// withCaller attaches the authenticated caller identity to the context.
func withCaller(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, callerKey, identity)
}

// CallerIdentity returns the authenticated caller, or "" for anonymous
// requests on permissionless routes.
func CallerIdentity(ctx context.Context) string {
	identity, _ := ctx.Value(callerKey).(string)
	return identity
}

// JWTValidator validates HS256 bearer tokens whose subject is the caller
// identity.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a validator. An empty secret disables validation;
// identity-gated routes then fail closed.
func NewJWTValidator(secret string) *JWTValidator {
	if secret == "" {
		return nil
	}
	return &JWTValidator{secret: []byte(secret)}
}

// Validate parses a token and returns its subject.
func (v *JWTValidator) Validate(tokenStr string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid token")
	}
	return claims.Subject, nil
}

// identityMiddleware resolves the caller identity for every request. A
// valid bearer token sets it; everything else passes through anonymous.
// Permissionless routes work either way; identity-gated handlers check via
// requireCaller.
func identityMiddleware(validator *JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || validator == nil {
				next.ServeHTTP(w, r)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			identity, err := validator.Validate(parts[1])
			if err != nil {
				WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), identity)))
		})
	}
}

// requireCaller returns the caller identity or writes a 401.
func requireCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity := CallerIdentity(r.Context())
	if identity == "" {
		WriteUnauthorized(w, "")
		return "", false
	}
	return identity, true
}
