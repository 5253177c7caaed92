package auth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/privacysandbox/pbs-go/internal/pbserrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeToken(t Token) string {
	raw, _ := json.Marshal(t)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestPrepareRequestSuccess(t *testing.T) {
	i := New(HMACSigner{Secret: []byte("shared-secret")})

	token := Token{AccessKey: "AKIA123", Signature: "ignored", AmzDate: "20240102T030405Z"}
	req := httptest.NewRequest(http.MethodPost, "https://coordinator.example/v1/transactions:consume-budget", nil)

	err := i.PrepareRequest(RequestMetadata{AuthorizationToken: encodeToken(token), ClaimedIdentity: "https://a.test"}, req, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://a.test", req.Header.Get("x-gscp-claimed-identity"))
	assert.Equal(t, "20240102T030405Z", req.Header.Get("x-amz-date"))
	assert.Contains(t, req.Header.Get("Authorization"), "AKIA123")
}

func TestPrepareRequestMissingFields(t *testing.T) {
	i := New(HMACSigner{Secret: []byte("s")})
	req := httptest.NewRequest(http.MethodPost, "https://coordinator.example/x", nil)

	err := i.PrepareRequest(RequestMetadata{AuthorizationToken: encodeToken(Token{AccessKey: "AKIA123"})}, req, nil)
	requireBadToken(t, err)
}

func TestPrepareRequestNotBase64(t *testing.T) {
	i := New(HMACSigner{Secret: []byte("s")})
	req := httptest.NewRequest(http.MethodPost, "https://coordinator.example/x", nil)

	err := i.PrepareRequest(RequestMetadata{AuthorizationToken: "not-base64!!"}, req, nil)
	requireBadToken(t, err)
}

func TestPrepareRequestEmptyToken(t *testing.T) {
	i := New(HMACSigner{Secret: []byte("s")})
	req := httptest.NewRequest(http.MethodPost, "https://coordinator.example/x", nil)

	err := i.PrepareRequest(RequestMetadata{}, req, nil)
	requireBadToken(t, err)
}

func TestPrepareRequestMalformedDate(t *testing.T) {
	i := New(HMACSigner{Secret: []byte("s")})
	req := httptest.NewRequest(http.MethodPost, "https://coordinator.example/x", nil)

	token := Token{AccessKey: "AKIA123", Signature: "sig", AmzDate: "not-a-date"}
	err := i.PrepareRequest(RequestMetadata{AuthorizationToken: encodeToken(token)}, req, nil)
	requireBadToken(t, err)
}

func TestObtainAuthorizedMetadataFromResponse(t *testing.T) {
	domain, err := ObtainAuthorizedMetadataFromResponse([]byte(`{"authorized_domain":"https://a.test"}`))
	require.NoError(t, err)
	assert.Equal(t, "https://a.test", domain)
}

func TestObtainAuthorizedMetadataFromResponseMissing(t *testing.T) {
	_, err := ObtainAuthorizedMetadataFromResponse([]byte(`{}`))
	requireBadToken(t, err)
}

func TestObtainAuthorizedMetadataFromResponseMalformed(t *testing.T) {
	_, err := ObtainAuthorizedMetadataFromResponse([]byte(`not json`))
	requireBadToken(t, err)
}

func requireBadToken(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	pbsErr, ok := err.(*pbserrors.Error)
	require.True(t, ok)
	assert.Equal(t, pbserrors.CodeBadToken, pbsErr.Code)
}
