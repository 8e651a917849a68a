package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/toolgate/toolgate/internal/shared"
)

// Middleware resolves the caller's identity. A valid bearer token wins;
// otherwise the plain identity header is accepted without admin rights.
// Requests with neither carry on anonymously and downgrade to guest at
// the enforcement layer.
type Middleware struct {
	Service        *Service
	IdentityHeader string
	Logger         *slog.Logger
}

func (m *Middleware) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := bearerToken(r); ok {
			ident, err := m.Service.Authenticate(r.Context(), token)
			if err != nil {
				m.Logger.Warn("auth: bearer token rejected", slog.String("path", r.URL.Path))
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), ident)))
			return
		}
		if name := r.Header.Get(m.IdentityHeader); name != "" {
			ident := shared.Identity{Name: name}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), ident)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}
