package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/privacysandbox/pbs-go/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuthenticator() *OperatorAuthenticator {
	return NewOperatorAuthenticator(config.AuthConfig{RequireAuth: true, JWTSecret: "shared-secret"})
}

func TestMintAndAuthenticateRoundTrip(t *testing.T) {
	a := testAuthenticator()
	callerID := uuid.New()

	token, err := a.MintOperatorToken(callerID, time.Hour)
	require.NoError(t, err)

	claims, err := a.Authenticate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, callerID, claims.CallerID)
}

func TestAuthenticateRejectsMissingHeader(t *testing.T) {
	a := testAuthenticator()
	_, err := a.Authenticate("")
	require.Error(t, err)
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	a := testAuthenticator()
	other := NewOperatorAuthenticator(config.AuthConfig{RequireAuth: true, JWTSecret: "different-secret"})

	token, err := other.MintOperatorToken(uuid.New(), time.Hour)
	require.NoError(t, err)

	_, err = a.Authenticate("Bearer " + token)
	require.Error(t, err)
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	a := testAuthenticator()
	token, err := a.MintOperatorToken(uuid.New(), -time.Minute)
	require.NoError(t, err)

	_, err = a.Authenticate("Bearer " + token)
	require.Error(t, err)
}

func TestMiddlewareAllowsCoordinatorCallsUnauthenticated(t *testing.T) {
	a := testAuthenticator()
	called := false
	handler := a.Middleware("x-auth-token")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/transactions:prepare", nil)
	req.Header.Set("x-auth-token", "opaque-coordinator-token")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.True(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMiddlewareRejectsMissingOperatorToken(t *testing.T) {
	a := testAuthenticator()
	called := false
	handler := a.Middleware("x-auth-token")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/transactions:prepare", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareSkippedWhenAuthNotRequired(t *testing.T) {
	a := NewOperatorAuthenticator(config.AuthConfig{RequireAuth: false})
	called := false
	handler := a.Middleware("x-auth-token")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/transactions:prepare", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.True(t, called)
}
