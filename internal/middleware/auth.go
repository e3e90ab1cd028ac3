package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"thermowatch/internal/logger"
	"thermowatch/internal/metrics"
)

// RoleAdmin may act on any subscriber.
const RoleAdmin = "admin"

// Claims carried by API tokens. The subject is the subscriber id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ActsFor reports whether the token holder may manage subscriberID.
func (c *Claims) ActsFor(subscriberID string) bool {
	return c.Role == RoleAdmin || c.Subject == subscriberID
}

type ctxKey struct{}

// Auth errors
var (
	ErrMissingToken = errors.New("auth: missing bearer token")
	ErrEmptySecret  = errors.New("auth: empty secret")
	ErrMissingSub   = errors.New("auth: missing subject")
)

// ParseToken validates an HS256 token and returns its claims.
// Expiry and not-before are enforced by the parser when present.
func ParseToken(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("auth: invalid token")
	}
	if claims.Subject == "" {
		return nil, ErrMissingSub
	}
	return claims, nil
}

// Auth rejects requests without a valid bearer token. An empty secret
// disables authentication.
func Auth(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		if len(key) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := ParseToken(bearerToken(r), key)
			if err != nil {
				reason := "invalid"
				switch {
				case errors.Is(err, ErrMissingToken):
					reason = "missing"
				case errors.Is(err, jwt.ErrTokenExpired):
					reason = "expired"
				}
				metrics.HTTPAuthFailures.WithLabelValues(reason).Inc()
				log := logger.WithRequestID(r.Header.Get(RequestIDHeader))
				log.Warn().
					Err(err).
					Str("path", r.URL.Path).
					Msg("request rejected")

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="thermowatch"`)
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"success": false,
					"error":   "unauthorized",
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
		})
	}
}

// ClaimsFromContext returns the claims attached by Auth.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ctxKey{}).(*Claims)
	return claims, ok
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
