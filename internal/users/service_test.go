package users

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubRepo struct {
	users     map[string]User
	assignErr error
}

func newStubRepo() *stubRepo {
	return &stubRepo{users: make(map[string]User)}
}

func (r *stubRepo) ListUsers(ctx context.Context) ([]User, error) {
	out := make([]User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	return out, nil
}

func (r *stubRepo) GetByIdentity(ctx context.Context, identity string) (User, error) {
	u, ok := r.users[identity]
	if !ok {
		return User{}, errors.New("users: not found")
	}
	return u, nil
}

func (r *stubRepo) Create(ctx context.Context, identity, name string, roleID int64) (User, error) {
	u := User{ID: int64(len(r.users) + 1), Identity: identity, Name: name, RoleID: roleID, IsActive: true}
	r.users[identity] = u
	return u, nil
}

func (r *stubRepo) AssignRole(ctx context.Context, identity string, roleID int64) error {
	if r.assignErr != nil {
		return r.assignErr
	}
	u, ok := r.users[identity]
	if !ok {
		return errors.New("users: not found")
	}
	u.RoleID = roleID
	r.users[identity] = u
	return nil
}

func (r *stubRepo) Deactivate(ctx context.Context, identity string) error {
	u, ok := r.users[identity]
	if !ok {
		return errors.New("users: not found")
	}
	u.IsActive = false
	r.users[identity] = u
	return nil
}

type recordingInvalidator struct {
	invalidated []string
}

func (c *recordingInvalidator) InvalidateUser(user string) {
	c.invalidated = append(c.invalidated, user)
}

func TestCreateRequiresIdentity(t *testing.T) {
	svc := NewService(newStubRepo(), nil)

	_, err := svc.Create(context.Background(), "   ", "Nobody", 1)
	require.Error(t, err)
}

func TestCreateTrimsIdentity(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(repo, nil)

	u, err := svc.Create(context.Background(), "  dev  ", " Developer ", 2)
	require.NoError(t, err)
	require.Equal(t, "dev", u.Identity)
	require.Equal(t, "Developer", u.Name)

	got, err := svc.GetByIdentity(context.Background(), " dev ")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
}

func TestAssignRoleInvalidatesCache(t *testing.T) {
	repo := newStubRepo()
	repo.users["dev"] = User{ID: 1, Identity: "dev", RoleID: 1, IsActive: true}
	cache := &recordingInvalidator{}
	svc := NewService(repo, cache)

	require.NoError(t, svc.AssignRole(context.Background(), "dev", 2))
	require.Equal(t, []string{"dev"}, cache.invalidated)
	require.Equal(t, int64(2), repo.users["dev"].RoleID)
}

func TestAssignRoleFailureSkipsInvalidation(t *testing.T) {
	repo := newStubRepo()
	repo.assignErr = errors.New("boom")
	cache := &recordingInvalidator{}
	svc := NewService(repo, cache)

	require.Error(t, svc.AssignRole(context.Background(), "dev", 2))
	require.Empty(t, cache.invalidated)
}

func TestDeactivateInvalidatesCache(t *testing.T) {
	repo := newStubRepo()
	repo.users["guest"] = User{ID: 3, Identity: "guest", RoleID: 4, IsActive: true}
	cache := &recordingInvalidator{}
	svc := NewService(repo, cache)

	require.NoError(t, svc.Deactivate(context.Background(), "guest"))
	require.False(t, repo.users["guest"].IsActive)
	require.Equal(t, []string{"guest"}, cache.invalidated)
}
