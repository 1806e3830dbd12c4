package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// NodeClaims are the JWT claims the gateway expects. The token binds the
// caller to a registered federation node; the envelope signature is still
// verified separately; the token authenticates transport, not content.
type NodeClaims struct {
	jwt.RegisteredClaims
	NodeID string `json:"node_id"`
}

// JWTValidator validates bearer tokens presented by federation nodes.
type JWTValidator struct {
	keyFunc jwt.Keyfunc
}

// NewJWTValidator creates a validator around a key lookup function.
func NewJWTValidator(keyFunc jwt.Keyfunc) *JWTValidator {
	if keyFunc == nil {
		return nil
	}
	return &JWTValidator{keyFunc: keyFunc}
}

// NewHMACValidator creates a validator for a shared HMAC secret.
func NewHMACValidator(secret []byte) *JWTValidator {
	return NewJWTValidator(func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
}

// Validate parses and validates a JWT token string.
func (v *JWTValidator) Validate(tokenStr string) (*NodeClaims, error) {
	if v == nil || v.keyFunc == nil {
		return nil, fmt.Errorf("validator uninitialized")
	}

	claims := &NodeClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

type nodeContextKey struct{}

// WithNodeID attaches the authenticated node ID to the context.
func WithNodeID(ctx context.Context, nodeID string) context.Context {
	return context.WithValue(ctx, nodeContextKey{}, nodeID)
}

// NodeIDFromContext returns the authenticated node ID, if any.
func NodeIDFromContext(ctx context.Context) (string, bool) {
	nodeID, ok := ctx.Value(nodeContextKey{}).(string)
	return nodeID, ok && nodeID != ""
}

// publicPaths are endpoints that do not require authentication.
var publicPaths = []string{
	"/health",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// AuthMiddleware creates JWT auth middleware.
// If validator is nil, all non-public requests are rejected (fail closed).
func AuthMiddleware(validator *JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				WriteUnauthorized(w, "Missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			if validator == nil {
				WriteUnauthorized(w, "Authentication not configured")
				return
			}

			claims, err := validator.Validate(parts[1])
			if err != nil {
				WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			if claims.NodeID == "" {
				WriteUnauthorized(w, "Token node binding is required")
				return
			}

			ctx := WithNodeID(r.Context(), claims.NodeID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
