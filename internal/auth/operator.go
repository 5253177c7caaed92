package auth

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/privacysandbox/pbs-go/internal/config"
)

// OperatorClaims is the symmetric-key JWT shape an operator presents on
// the inbound Authorization header, distinct from the AWS SigV4-style
// x-auth-token a peer coordinator presents (see Interceptor). Grounded on
// the teacher's master-key JWT service, swapping its RBAC claim set for a
// single caller identity.
type OperatorClaims struct {
	jwt.RegisteredClaims
	CallerID uuid.UUID `json:"caller_id,omitempty"`
}

// OperatorAuthenticator validates operator-presented bearer tokens with a
// pre-shared HMAC secret. It is separate from the cross-coordinator
// Interceptor because operators and peer coordinators authenticate with
// different credential shapes (spec.md §4.9 only covers the latter).
type OperatorAuthenticator struct {
	secret      []byte
	requireAuth bool
}

func NewOperatorAuthenticator(cfg config.AuthConfig) *OperatorAuthenticator {
	return &OperatorAuthenticator{secret: []byte(cfg.JWTSecret), requireAuth: cfg.RequireAuth}
}

// Authenticate parses and validates the raw "Authorization: Bearer <jwt>"
// header value, returning the claimed caller id.
func (a *OperatorAuthenticator) Authenticate(authorizationHeader string) (*OperatorClaims, error) {
	if !strings.HasPrefix(authorizationHeader, "Bearer ") {
		return nil, jwt.ErrTokenMalformed
	}
	raw := strings.TrimPrefix(authorizationHeader, "Bearer ")
	if raw == "" {
		return nil, jwt.ErrTokenMalformed
	}

	claims := &OperatorClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Middleware enforces OperatorAuthenticator on requests that do not carry
// the coordinator-to-coordinator x-auth-token header; coordinator calls
// are authenticated separately by whatever fronts this service's peer
// link. A no-op when RequireAuth is false, so local/dev deployments don't
// need a token minted for every call.
func (a *OperatorAuthenticator) Middleware(coordinatorTokenHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.requireAuth || r.Header.Get(coordinatorTokenHeader) != "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := a.Authenticate(r.Header.Get("Authorization"))
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"code":    "BAD_TOKEN",
					"message": "missing or invalid operator bearer token",
				})
				return
			}

			r.Header.Set("x-pbs-caller-id", claims.CallerID.String())
			next.ServeHTTP(w, r)
		})
	}
}

// MintOperatorToken issues a short-lived operator token; used by tests,
// not by any inbound request path.
func (a *OperatorAuthenticator) MintOperatorToken(callerID uuid.UUID, ttl time.Duration) (string, error) {
	claims := &OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		CallerID: callerID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
