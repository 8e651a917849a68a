package auth

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/toolgate/toolgate/internal/shared"
)

// CredentialSource is the persistence surface. *Repository satisfies
// it.
type CredentialSource interface {
	FindCredential(ctx context.Context, identity string) (Credential, error)
}

// Service validates bearer tokens.
type Service struct {
	repo CredentialSource
}

func NewService(repo CredentialSource) *Service {
	return &Service{repo: repo}
}

// Authenticate validates an "identity:secret" token and returns the
// caller's identity. Every failure collapses to ErrInvalidToken.
func (s *Service) Authenticate(ctx context.Context, token string) (shared.Identity, error) {
	identity, secret, ok := strings.Cut(token, ":")
	if !ok || identity == "" || secret == "" {
		return shared.Identity{}, ErrInvalidToken
	}
	cred, err := s.repo.FindCredential(ctx, identity)
	if err != nil {
		return shared.Identity{}, ErrInvalidToken
	}
	if !cred.IsActive || cred.SecretHash == "" {
		return shared.Identity{}, ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.SecretHash), []byte(secret)); err != nil {
		return shared.Identity{}, ErrInvalidToken
	}
	return shared.Identity{Name: cred.Identity, Admin: cred.RoleName == "admin"}, nil
}

// HashSecret produces the stored form of a token secret.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
