package users

import (
	"context"
	"errors"
	"strings"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetByIdentity(ctx context.Context, identity string) (User, error)
	Create(ctx context.Context, identity, name string, roleID int64) (User, error)
	AssignRole(ctx context.Context, identity string, roleID int64) error
	Deactivate(ctx context.Context, identity string) error
}

// CacheInvalidator is notified when a user's permission view may have
// changed. The RBAC manager satisfies it.
type CacheInvalidator interface {
	InvalidateUser(user string)
}

// Service handles user provisioning logic.
type Service struct {
	repo  RepositoryPort
	cache CacheInvalidator
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, cache CacheInvalidator) *Service {
	return &Service{repo: repo, cache: cache}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// GetByIdentity fetches one user.
func (s *Service) GetByIdentity(ctx context.Context, identity string) (User, error) {
	return s.repo.GetByIdentity(ctx, strings.TrimSpace(identity))
}

// Create provisions a new user.
func (s *Service) Create(ctx context.Context, identity, name string, roleID int64) (User, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return User{}, errors.New("users: identity required")
	}
	return s.repo.Create(ctx, identity, strings.TrimSpace(name), roleID)
}

// AssignRole reassigns the user's role and invalidates the stale
// permission cache entries.
func (s *Service) AssignRole(ctx context.Context, identity string, roleID int64) error {
	if err := s.repo.AssignRole(ctx, identity, roleID); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.InvalidateUser(identity)
	}
	return nil
}

// Deactivate soft-deletes the user; their cached verdicts go with them.
func (s *Service) Deactivate(ctx context.Context, identity string) error {
	if err := s.repo.Deactivate(ctx, identity); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.InvalidateUser(identity)
	}
	return nil
}
