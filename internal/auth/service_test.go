package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/internal/shared"
)

type stubCredentials struct {
	creds map[string]Credential
}

func (s *stubCredentials) FindCredential(ctx context.Context, identity string) (Credential, error) {
	c, ok := s.creds[identity]
	if !ok {
		return Credential{}, ErrInvalidToken
	}
	return c, nil
}

func newStub(t *testing.T) *stubCredentials {
	t.Helper()
	hash, err := HashSecret("s3cret")
	require.NoError(t, err)
	return &stubCredentials{creds: map[string]Credential{
		"admin": {Identity: "admin", SecretHash: hash, RoleName: "admin", IsActive: true},
		"dev":   {Identity: "dev", SecretHash: hash, RoleName: "developer", IsActive: true},
		"gone":  {Identity: "gone", SecretHash: hash, RoleName: "developer", IsActive: false},
	}}
}

func TestAuthenticate(t *testing.T) {
	svc := NewService(newStub(t))

	ident, err := svc.Authenticate(context.Background(), "admin:s3cret")
	require.NoError(t, err)
	assert.Equal(t, "admin", ident.Name)
	assert.True(t, ident.Admin)

	ident, err = svc.Authenticate(context.Background(), "dev:s3cret")
	require.NoError(t, err)
	assert.False(t, ident.Admin)
}

func TestAuthenticateRejections(t *testing.T) {
	svc := NewService(newStub(t))

	for _, token := range []string{
		"admin:wrong",
		"nobody:s3cret",
		"gone:s3cret",
		"admin",
		":s3cret",
		"",
	} {
		_, err := svc.Authenticate(context.Background(), token)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}

func TestMiddlewareAttachesIdentity(t *testing.T) {
	mw := &Middleware{
		Service:        NewService(newStub(t)),
		IdentityHeader: "X-Toolgate-User",
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	var seen shared.Identity
	var present bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, present = shared.IdentityFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodPost, "/invoke", nil)
	req.Header.Set("Authorization", "Bearer admin:s3cret")
	mw.Resolve(next).ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, present)
	assert.True(t, seen.Admin)

	req = httptest.NewRequest(http.MethodPost, "/invoke", nil)
	req.Header.Set("X-Toolgate-User", "dev")
	mw.Resolve(next).ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, present)
	assert.Equal(t, "dev", seen.Name)
	assert.False(t, seen.Admin)
}

func TestMiddlewareRejectsBadBearer(t *testing.T) {
	mw := &Middleware{
		Service:        NewService(newStub(t)),
		IdentityHeader: "X-Toolgate-User",
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for a rejected token")
	})

	req := httptest.NewRequest(http.MethodPost, "/invoke", nil)
	req.Header.Set("Authorization", "Bearer admin:wrong")
	rec := httptest.NewRecorder()
	mw.Resolve(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewarePassesAnonymous(t *testing.T) {
	mw := &Middleware{
		Service:        NewService(newStub(t)),
		IdentityHeader: "X-Toolgate-User",
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, present := shared.IdentityFromContext(r.Context())
		assert.False(t, present)
	})

	mw.Resolve(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/invoke", nil))
	assert.True(t, called)
}
