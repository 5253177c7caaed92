// Package parser decodes and validates inbound consume-budget request
// bodies (spec.md §4.3, §6) before they reach the consumer. It supports
// both the v2 wire shape (with its two token encodings) and the legacy v1
// binary-only body.
package parser

import (
	"encoding/json"
	"fmt"

	"github.com/privacysandbox/pbs-go/internal/pbserrors"
	"github.com/privacysandbox/pbs-go/internal/site"
)

const (
	versionV2 = "2.0"
	versionV1 = "1.0"

	budgetTypeBinary = "BUDGET_TYPE_BINARY_BUDGET"
)

// TokenWrapper is the v2 "tokens" array element: {"token_int32": n}.
type TokenWrapper struct {
	TokenInt32 int32 `json:"token_int32"`
}

// RawKey is one entry of a v2 data[].keys[] array. Token is accepted either
// as a bare int32 or as a one-element Tokens array; exactly one of the two
// forms must be present.
type RawKey struct {
	Key           string         `json:"key"`
	Token         *int32         `json:"token,omitempty"`
	Tokens        []TokenWrapper `json:"tokens,omitempty"`
	ReportingTime string         `json:"reporting_time"`
	BudgetType    string         `json:"budget_type,omitempty"`
}

// TokenValue returns the single token value carried by this key, however it
// was encoded, and an error if neither or both encodings were supplied or
// if tokens does not hold exactly one element.
func (k RawKey) TokenValue() (int32, error) {
	switch {
	case k.Token != nil && len(k.Tokens) == 0:
		return *k.Token, nil
	case k.Token == nil && len(k.Tokens) == 1:
		return k.Tokens[0].TokenInt32, nil
	case k.Token == nil && len(k.Tokens) == 0:
		return 0, pbserrors.InvalidRequestBody("key %q carries no token", k.Key)
	case k.Token == nil:
		return 0, pbserrors.InvalidRequestBody("key %q tokens must hold exactly one element, got %d", k.Key, len(k.Tokens))
	default:
		return 0, pbserrors.InvalidRequestBody("key %q carries both token and tokens", k.Key)
	}
}

// RawData is one v2 data[] entry: all keys sharing a reporting origin.
type RawData struct {
	ReportingOrigin string   `json:"reporting_origin"`
	Keys            []RawKey `json:"keys"`
}

// RequestV2 is the decoded v2 consume-budget body.
type RequestV2 struct {
	Version string    `json:"v"`
	Data    []RawData `json:"data"`
}

// RequestV1 is the decoded legacy body: flat, binary-only, single implicit
// reporting origin supplied out-of-band (the x-gscp-transaction-origin
// header, or the caller's claimed identity).
type RequestV1 struct {
	Version string   `json:"v"`
	T       []RawKey `json:"t"`
}

// ParsedKey is one fully validated key ready for BudgetConsumer, carrying
// enough of its origin context to derive a BudgetKey.
type ParsedKey struct {
	ReportingOrigin string
	Key             string
	Token           int32
	ReportingTime   string
	BudgetType      string
	RequestIndex    int // 0-based position in the caller's flat key list
}

// DecodeBody peeks at the "v" field to choose between the v1 and v2
// shapes, then delegates to the matching parser.
func DecodeBody(body []byte, authorizedDomain string, transactionOriginOverride string) ([]ParsedKey, error) {
	var probe struct {
		Version string `json:"v"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, pbserrors.InvalidRequestBody("malformed JSON body: %v", err)
	}

	switch probe.Version {
	case versionV2:
		var req RequestV2
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, pbserrors.InvalidRequestBody("malformed v2 body: %v", err)
		}
		return ParseCommonV2(authorizedDomain, req)
	case versionV1:
		var req RequestV1
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, pbserrors.InvalidRequestBody("malformed v1 body: %v", err)
		}
		return parseV1(authorizedDomain, transactionOriginOverride, req)
	default:
		return nil, pbserrors.InvalidRequestBody("unsupported version %q", probe.Version)
	}
}

// ParseCommonV2 validates a decoded v2 request against spec.md §4.3's
// ordered rule set and returns the flattened, per-key validated result in
// original flat-index order.
func ParseCommonV2(authorizedDomain string, req RequestV2) ([]ParsedKey, error) {
	if req.Version != versionV2 {
		return nil, pbserrors.InvalidRequestBody("version must be %q, got %q", versionV2, req.Version)
	}
	if len(req.Data) == 0 {
		return nil, pbserrors.New(pbserrors.CodeNoKeysAvailable, "request has no data entries")
	}

	resolver := site.NewResolver()
	seenOrigins := make(map[string]struct{}, len(req.Data))

	var out []ParsedKey
	var sharedBudgetType string
	idx := 0

	for _, d := range req.Data {
		if d.ReportingOrigin == "" {
			return nil, pbserrors.InvalidRequestBody("reporting_origin must not be empty")
		}

		origSite, err := resolver.Resolve(d.ReportingOrigin)
		if err != nil {
			return nil, pbserrors.InvalidRequestBody("reporting_origin %q is invalid: %v", d.ReportingOrigin, err)
		}
		if origSite != authorizedDomain {
			return nil, pbserrors.ReportingOriginMismatch(d.ReportingOrigin, authorizedDomain)
		}

		if _, dup := seenOrigins[d.ReportingOrigin]; dup {
			return nil, pbserrors.New(pbserrors.CodeInvalidRequest,
				fmt.Sprintf("duplicate reporting_origin %q in request", d.ReportingOrigin))
		}
		seenOrigins[d.ReportingOrigin] = struct{}{}

		if len(d.Keys) == 0 {
			return nil, pbserrors.New(pbserrors.CodeNoKeysAvailable, "reporting_origin has no keys")
		}

		for _, k := range d.Keys {
			budgetType := k.BudgetType
			if budgetType == "" {
				budgetType = budgetTypeBinary
			}

			if sharedBudgetType == "" {
				sharedBudgetType = budgetType
			} else if budgetType != sharedBudgetType {
				return nil, pbserrors.New(pbserrors.CodeInvalidRequest, "all keys in one request must share the same budget_type")
			}

			token, err := k.TokenValue()
			if err != nil {
				return nil, err
			}
			if token != 1 {
				return nil, pbserrors.InvalidRequestBody("key %q token must be 1, got %d", k.Key, token)
			}

			out = append(out, ParsedKey{
				ReportingOrigin: d.ReportingOrigin,
				Key:             k.Key,
				Token:           token,
				ReportingTime:   k.ReportingTime,
				BudgetType:      budgetType,
				RequestIndex:    idx,
			})
			idx++
		}
	}

	return out, nil
}

// parseV1 adapts the legacy flat body onto the same ParsedKey shape,
// supplying the reporting origin from the out-of-band override (spec.md §6
// supplemented feature: x-gscp-transaction-origin / claimed identity).
func parseV1(authorizedDomain, originOverride string, req RequestV1) ([]ParsedKey, error) {
	if req.Version != versionV1 {
		return nil, pbserrors.InvalidRequestBody("version must be %q, got %q", versionV1, req.Version)
	}
	if len(req.T) == 0 {
		return nil, pbserrors.New(pbserrors.CodeNoKeysAvailable, "request has no keys")
	}

	origin := originOverride
	if origin == "" {
		origin = authorizedDomain
	}

	resolver := site.NewResolver()
	origSite, err := resolver.Resolve(origin)
	if err != nil {
		return nil, pbserrors.InvalidRequestBody("v1 reporting origin %q is invalid: %v", origin, err)
	}
	if origSite != authorizedDomain {
		return nil, pbserrors.ReportingOriginMismatch(origin, authorizedDomain)
	}

	out := make([]ParsedKey, 0, len(req.T))
	for i, k := range req.T {
		token, err := k.TokenValue()
		if err != nil {
			return nil, err
		}
		if token != 1 {
			return nil, pbserrors.InvalidRequestBody("key %q token must be 1, got %d", k.Key, token)
		}
		out = append(out, ParsedKey{
			ReportingOrigin: origin,
			Key:             k.Key,
			Token:           token,
			ReportingTime:   k.ReportingTime,
			BudgetType:      budgetTypeBinary,
			RequestIndex:    i,
		})
	}
	return out, nil
}
