package httpapi

import (
	"net/http"
	"strings"

	"bugtracker.org/internal/auth"
	"bugtracker.org/internal/obs"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// RequireAuth rejects requests without an identity.
func RequireAuth(next http.Handler) http.Handler {
	return guard("auth", func(*auth.Claims) bool { return true })(next)
}

// RequireRole admits identities holding role.
func RequireRole(role auth.Role) Middleware {
	return guard("role:"+string(role), func(c *auth.Claims) bool {
		return c.HasRole(role)
	})
}

// RequireAnyRole admits identities holding at least one of roles.
func RequireAnyRole(roles ...auth.Role) Middleware {
	names := auth.RoleSet(roles).Strings()
	return guard("any_role:"+strings.Join(names, "|"), func(c *auth.Claims) bool {
		for _, role := range roles {
			if c.HasRole(role) {
				return true
			}
		}
		return false
	})
}

// RequirePermission admits identities whose token carries perm.
func RequirePermission(perm auth.Permission) Middleware {
	return guard("permission:"+string(perm), func(c *auth.Claims) bool {
		return c.HasPermission(perm)
	})
}

func guard(name string, allow func(*auth.Claims) bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				obs.GuardDecision(name, "unauthenticated")
				w.Header().Set("WWW-Authenticate", `Bearer realm="bugtracker"`)
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			if !allow(claims) {
				obs.GuardDecision(name, "forbidden")
				writeError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			obs.GuardDecision(name, "allow")
			next.ServeHTTP(w, r)
		})
	}
}
