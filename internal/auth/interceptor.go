// Package auth implements AuthInterceptor (spec.md §4.9): the outbound
// half of the cross-coordinator call, which turns an inbound auth token
// into a signed, identity-bearing request to a peer PBS, and parses that
// peer's response for the authorized domain it grants.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/privacysandbox/pbs-go/internal/pbserrors"
)

// Token is the decoded shape of the inbound x-auth-token: base64 JSON with
// an AWS SigV4-style credential set.
type Token struct {
	AccessKey     string `json:"access_key"`
	Signature     string `json:"signature"`
	AmzDate       string `json:"amz_date"`
	SecurityToken string `json:"security_token,omitempty"`
}

// RequestMetadata carries the per-call auth context threaded through
// PrepareRequest and ObtainAuthorizedMetadataFromResponse.
type RequestMetadata struct {
	AuthorizationToken string // raw x-auth-token value
	ClaimedIdentity    string // site acting as caller
}

// Signer produces the SigV4-style signature header value for a prepared
// request. It is a narrow capability so the interceptor itself stays
// transport-agnostic and testable without real AWS credentials.
type Signer interface {
	Sign(token Token, method, url string, body []byte) (string, error)
}

// HMACSigner is a stand-in Signer used when the peer coordinator accepts a
// pre-shared-secret HMAC rather than full IAM SigV4; it reuses the same
// token shape so callers can swap in a real SigV4 signer without changing
// the interceptor.
type HMACSigner struct {
	Secret []byte
}

func (s HMACSigner) Sign(token Token, method, url string, body []byte) (string, error) {
	mac := hmac.New(sha256.New, s.Secret)
	fmt.Fprintf(mac, "%s\n%s\n%s\n%s", method, url, token.AmzDate, body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Interceptor adapts an inbound auth token into a signed outbound call.
type Interceptor struct {
	signer Signer
}

func New(signer Signer) *Interceptor {
	return &Interceptor{signer: signer}
}

// PrepareRequest validates meta.AuthorizationToken, sets the claimed
// identity header, and signs req via the configured Signer. Any missing or
// malformed token field is a BadToken error (spec.md §4.9).
func (i *Interceptor) PrepareRequest(meta RequestMetadata, req *http.Request, body []byte) error {
	token, err := decodeToken(meta.AuthorizationToken)
	if err != nil {
		return err
	}

	req.Header.Set("x-gscp-claimed-identity", meta.ClaimedIdentity)

	sig, err := i.signer.Sign(token, req.Method, req.URL.String(), body)
	if err != nil {
		return pbserrors.Wrap(pbserrors.CodeBadToken, "failed to sign outbound request", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("AWS4-HMAC-SHA256 Credential=%s, Signature=%s", token.AccessKey, sig))
	req.Header.Set("x-amz-date", token.AmzDate)
	if token.SecurityToken != "" {
		req.Header.Set("x-amz-security-token", token.SecurityToken)
	}
	return nil
}

func decodeToken(raw string) (Token, error) {
	if raw == "" {
		return Token{}, pbserrors.New(pbserrors.CodeBadToken, "authorization token is missing")
	}

	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return Token{}, pbserrors.Wrap(pbserrors.CodeBadToken, "authorization token is not valid base64", err)
	}

	var token Token
	if err := json.Unmarshal(decoded, &token); err != nil {
		return Token{}, pbserrors.Wrap(pbserrors.CodeBadToken, "authorization token is not valid JSON", err)
	}

	if token.AccessKey == "" || token.Signature == "" || token.AmzDate == "" {
		return Token{}, pbserrors.New(pbserrors.CodeBadToken, "authorization token is missing required fields")
	}
	if _, err := time.Parse("20060102T150405Z", token.AmzDate); err != nil {
		return Token{}, pbserrors.Wrap(pbserrors.CodeBadToken, "authorization token amz_date is malformed", err)
	}

	return token, nil
}

// authorizedDomainResponse is the peer coordinator's response body shape.
type authorizedDomainResponse struct {
	AuthorizedDomain string `json:"authorized_domain"`
}

// ObtainAuthorizedMetadataFromResponse parses the peer's response body and
// returns the authorized_domain it grants, or BadToken if absent/malformed.
func ObtainAuthorizedMetadataFromResponse(body []byte) (string, error) {
	var resp authorizedDomainResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", pbserrors.Wrap(pbserrors.CodeBadToken, "peer response is not valid JSON", err)
	}
	if resp.AuthorizedDomain == "" {
		return "", pbserrors.New(pbserrors.CodeBadToken, "peer response is missing authorized_domain")
	}
	return resp.AuthorizedDomain, nil
}
