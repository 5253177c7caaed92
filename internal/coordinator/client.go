// Package coordinator is the outbound half of the cross-coordinator call
// (spec.md §4.9): it wraps SyncHttpClient with AuthInterceptor so a PBS
// deployment can reach its peer coordinator with a signed, identity-
// bearing request, the way the teacher's provider clients wrap a plain
// http.Client with provider-specific request shaping.
package coordinator

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/privacysandbox/pbs-go/internal/auth"
	"github.com/privacysandbox/pbs-go/internal/httpclient"
	"github.com/privacysandbox/pbs-go/internal/pbserrors"
	"go.uber.org/zap"
)

// Client calls a single peer PBS coordinator, signing every outbound
// request through the configured AuthInterceptor.
type Client struct {
	baseURL     string
	http        *httpclient.Client
	interceptor *auth.Interceptor
	logger      *zap.Logger
}

func New(baseURL string, httpClient *httpclient.Client, interceptor *auth.Interceptor, logger *zap.Logger) *Client {
	return &Client{baseURL: baseURL, http: httpClient, interceptor: interceptor, logger: logger}
}

// AuthorizedDomain asks the peer coordinator, acting on meta's claimed
// identity, which site it authorizes this call for. A PBS that fronts a
// reverse proxy for its peer (rather than trusting the inbound token
// directly) uses this to cross-check the authorized domain it plans to
// enforce budgets against.
func (c *Client) AuthorizedDomain(ctx context.Context, meta auth.RequestMetadata) (string, error) {
	url := c.baseURL + "/v1/auth:authorized-domain"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
	if err != nil {
		return "", pbserrors.Wrap(pbserrors.CodeInitializationError, "failed to build coordinator request", err)
	}

	if err := c.interceptor.PrepareRequest(meta, req, nil); err != nil {
		return "", err
	}

	resp := c.http.Do(ctx, httpclient.Request{
		Method:  req.Method,
		URL:     req.URL.String(),
		Headers: req.Header,
		Body:    nil,
	})

	if resp.Result != httpclient.ResultOk {
		c.logger.Warn("coordinator call did not succeed",
			zap.String("url", url), zap.String("result", string(resp.Result)), zap.Error(resp.Err))
		return "", pbserrors.Wrap(pbserrors.CodeBadToken,
			fmt.Sprintf("coordinator call returned %s", resp.Result), resp.Err)
	}

	return auth.ObtainAuthorizedMetadataFromResponse(resp.Body)
}

// Healthy pings the peer coordinator's liveness endpoint, unauthenticated,
// the way a deployment's readiness probe checks its replication partner.
func (c *Client) Healthy(ctx context.Context) bool {
	resp := c.http.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/v1/service:status",
	})
	return resp.Result == httpclient.ResultOk
}
