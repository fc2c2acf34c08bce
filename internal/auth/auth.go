// Package auth defines the opaque principal-resolution contract the §6
// external interfaces authenticate against. It is deliberately minimal: the
// only its-contract-is-specified boundary, not a full identity system.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/zeebo/errs"
)

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errs.Class("auth: unauthenticated")

// Principal is the opaque identity a request authenticates to. Org scopes
// every stream lookup and query a request can reach.
type Principal struct {
	User  string
	Org   string
	Roles []string
}

// HasRole reports whether p holds role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Authenticator resolves an HTTP request to a Principal. Production
// deployments plug in their own implementation (API keys, OIDC, mTLS, ...);
// this package ships only the contract plus a dev-mode stub.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Principal, error)
}

// HeaderAuthenticator trusts three request headers verbatim: it performs no
// verification and exists only so a local/dev deployment can exercise the
// ingest and query HTTP surfaces without standing up a real identity
// provider. Never use in production.
type HeaderAuthenticator struct {
	// DefaultOrg is used when the org header is absent, so a single-tenant
	// dev deployment doesn't need to set it on every request.
	DefaultOrg string
}

const (
	headerUser  = "X-Obscore-User"
	headerOrg   = "X-Obscore-Org"
	headerRoles = "X-Obscore-Roles"
)

// Authenticate implements Authenticator.
func (a HeaderAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Principal, error) {
	org := r.Header.Get(headerOrg)
	if org == "" {
		org = a.DefaultOrg
	}
	if org == "" {
		return Principal{}, ErrUnauthenticated.New("missing %s header", headerOrg)
	}
	user := r.Header.Get(headerUser)
	if user == "" {
		user = "anonymous"
	}
	var roles []string
	if raw := r.Header.Get(headerRoles); raw != "" {
		for _, role := range strings.Split(raw, ",") {
			role = strings.TrimSpace(role)
			if role != "" {
				roles = append(roles, role)
			}
		}
	}
	return Principal{User: user, Org: org, Roles: roles}, nil
}
