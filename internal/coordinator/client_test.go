package coordinator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/privacysandbox/pbs-go/internal/auth"
	"github.com/privacysandbox/pbs-go/internal/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testHTTPClient() *httpclient.Client {
	cfg := httpclient.DefaultConfig()
	cfg.RequestTimeout = 500 * time.Millisecond
	cfg.InitialBackoff = 5 * time.Millisecond
	cfg.MaxBackoff = 20 * time.Millisecond
	cfg.MinViableSlot = 2 * time.Millisecond
	return httpclient.New(cfg, zap.NewNop())
}

func validToken(t *testing.T) string {
	t.Helper()
	raw, err := json.Marshal(auth.Token{
		AccessKey: "AKIDEXAMPLE",
		Signature: "deadbeef",
		AmzDate:   "20260115T120000Z",
	})
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestAuthorizedDomainSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "peer-site", r.Header.Get("x-gscp-claimed-identity"))
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"authorized_domain": "https://reporter.example"})
	}))
	defer srv.Close()

	c := New(srv.URL, testHTTPClient(), auth.New(auth.HMACSigner{Secret: []byte("shh")}), zap.NewNop())

	domain, err := c.AuthorizedDomain(context.Background(), auth.RequestMetadata{
		AuthorizationToken: validToken(t),
		ClaimedIdentity:    "peer-site",
	})

	require.NoError(t, err)
	assert.Equal(t, "https://reporter.example", domain)
}

func TestAuthorizedDomainBadToken(t *testing.T) {
	c := New("https://unused.example", testHTTPClient(), auth.New(auth.HMACSigner{Secret: []byte("shh")}), zap.NewNop())

	_, err := c.AuthorizedDomain(context.Background(), auth.RequestMetadata{AuthorizationToken: "not-base64!!"})
	require.Error(t, err)
}

func TestAuthorizedDomainPeerRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, testHTTPClient(), auth.New(auth.HMACSigner{Secret: []byte("shh")}), zap.NewNop())

	_, err := c.AuthorizedDomain(context.Background(), auth.RequestMetadata{
		AuthorizationToken: validToken(t),
		ClaimedIdentity:    "peer-site",
	})
	require.Error(t, err)
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, testHTTPClient(), auth.New(auth.HMACSigner{Secret: []byte("shh")}), zap.NewNop())
	assert.True(t, c.Healthy(context.Background()))
}

func TestHealthyFalseWhenUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", testHTTPClient(), auth.New(auth.HMACSigner{Secret: []byte("shh")}), zap.NewNop())
	assert.False(t, c.Healthy(context.Background()))
}
