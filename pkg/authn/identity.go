// Package authn extracts the acting identity of an HTTP request.
package authn

import (
	"context"
	"net/http"
	"strings"
)

// Role is the caller's access level.
type Role string

const (
	// RoleViewer may read effective values, versions and the audit log.
	RoleViewer Role = "viewer"
	// RoleOperator may also create drafts, publish, roll back and reset.
	RoleOperator Role = "operator"
)

const (
	// PrincipalHeader carries the caller identity set by a trusted proxy.
	PrincipalHeader = "X-User-Principal"
	// RoleHeader carries the caller role set by a trusted proxy.
	RoleHeader = "X-User-Role"

	anonymous = "system"
)

// Identity is the actor recorded in the ledger and audit log.
type Identity struct {
	Principal string `json:"principal"`
	Role      Role   `json:"role"`
}

// IsOperator reports whether the identity may mutate overrides.
func (i Identity) IsOperator() bool { return i.Role == RoleOperator }

// Extractor derives an Identity from a request.
type Extractor func(r *http.Request) Identity

// HeaderExtractor reads the identity from the proxy headers. The principal
// falls back to the role header, then to "system".
func HeaderExtractor(r *http.Request) Identity {
	id := Identity{Role: parseRole(r.Header.Get(RoleHeader))}
	switch {
	case strings.TrimSpace(r.Header.Get(PrincipalHeader)) != "":
		id.Principal = strings.TrimSpace(r.Header.Get(PrincipalHeader))
	case strings.TrimSpace(r.Header.Get(RoleHeader)) != "":
		id.Principal = strings.TrimSpace(r.Header.Get(RoleHeader))
	default:
		id.Principal = anonymous
	}
	return id
}

func parseRole(s string) Role {
	if strings.EqualFold(strings.TrimSpace(s), string(RoleOperator)) {
		return RoleOperator
	}
	return RoleViewer
}

type contextKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by Middleware. Requests that did
// not pass through it act as an anonymous viewer.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(contextKey{}).(Identity); ok {
		return id
	}
	return Identity{Principal: anonymous, Role: RoleViewer}
}

// Middleware stores the extracted identity in the request context.
func Middleware(extractor Extractor) func(http.Handler) http.Handler {
	if extractor == nil {
		extractor = HeaderExtractor
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), extractor(r))))
		})
	}
}

// RequireOperator rejects non-operators with 403 when enabled. It reads the
// identity stored by Middleware.
func RequireOperator(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !FromContext(r.Context()).IsOperator() {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"insufficient permissions: operator role required"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
