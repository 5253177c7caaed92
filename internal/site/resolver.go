// Package site implements the ReportingOrigin → Site transform from
// spec.md §4.2: an eTLD+1 computed against the public suffix list, scheme
// normalized to https, with port and trailing path stripped.
package site

import (
	"fmt"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ErrInvalidReportingOrigin is returned when origin cannot be resolved to
// a registrable domain.
type ErrInvalidReportingOrigin struct {
	Origin string
	Reason string
}

func (e *ErrInvalidReportingOrigin) Error() string {
	return fmt.Sprintf("invalid reporting origin %q: %s", e.Origin, e.Reason)
}

// Resolver converts reporting origins into Sites. It holds no state; it
// exists as a type so components can depend on an interface rather than a
// free function, matching the rest of the request path's constructor-
// injected-collaborator style.
type Resolver struct{}

func NewResolver() *Resolver { return &Resolver{} }

// Resolve implements spec.md §4.2's algorithm:
//  1. strip scheme, extract host
//  2. strip port (only after the first dot in the host) and trailing path
//  3. look up the eTLD+1 via the public suffix list
//  4. re-attach a normalized https:// scheme
func (r *Resolver) Resolve(origin string) (string, error) {
	if origin == "" {
		return "", &ErrInvalidReportingOrigin{Origin: origin, Reason: "empty origin"}
	}

	host := stripScheme(origin)
	host = stripPath(host)
	host = stripPort(host)

	if host == "" {
		return "", &ErrInvalidReportingOrigin{Origin: origin, Reason: "empty host"}
	}

	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", &ErrInvalidReportingOrigin{Origin: origin, Reason: err.Error()}
	}

	return "https://" + etld1, nil
}

// Equal reports whether two reporting origins resolve to the same Site.
func (r *Resolver) Equal(a, b string) bool {
	siteA, errA := r.Resolve(a)
	siteB, errB := r.Resolve(b)
	if errA != nil || errB != nil {
		return false
	}
	return siteA == siteB
}

func stripScheme(origin string) string {
	if idx := strings.Index(origin, "://"); idx != -1 {
		return origin[idx+3:]
	}
	return origin
}

func stripPath(host string) string {
	if idx := strings.IndexByte(host, '/'); idx != -1 {
		host = host[:idx]
	}
	return strings.TrimSuffix(host, "/")
}

// stripPort removes a trailing ":port" suffix, but only considers a colon
// that appears after the first dot in the host — this avoids truncating
// a bracketed IPv6 literal's internal colons and matches spec.md §4.2's
// edge-case note.
func stripPort(host string) string {
	dot := strings.IndexByte(host, '.')
	if dot == -1 {
		return host
	}
	if colon := strings.IndexByte(host[dot:], ':'); colon != -1 {
		return host[:dot+colon]
	}
	return host
}
