package rbac

import (
	"log/slog"
	"net/http"

	"github.com/toolgate/toolgate/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers on the
// administration surface.
type Middleware struct {
	Manager *Manager
	Logger  *slog.Logger
}

// Require ensures the current identity holds the named permission.
func (m Middleware) Require(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := shared.IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			d := m.Manager.CheckPermission(r.Context(), id.Name, perm)
			if !d.Allowed {
				if m.Logger != nil {
					m.Logger.Warn("admin access denied",
						slog.String("user", id.Name),
						slog.String("permission", perm),
						slog.String("reason", d.Reason))
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
