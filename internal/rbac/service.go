package rbac

import (
	"context"
	"log/slog"
	"time"
)

// Store is the persistence surface the Manager needs. *Repository
// satisfies it; tests substitute their own.
type Store interface {
	HasPermission(ctx context.Context, identity, tool string) (bool, error)
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	ListPermissions(ctx context.Context) ([]Permission, error)
	EnsurePermission(ctx context.Context, p Permission) (Permission, error)
	GrantPermission(ctx context.Context, roleID, permissionID int64) error
	RevokePermission(ctx context.Context, roleID, permissionID int64) error
	RolePermissions(ctx context.Context, roleID int64) ([]string, error)
	EffectivePermissions(ctx context.Context, identity string) ([]string, error)
}

// ManagerConfig tunes the Manager.
type ManagerConfig struct {
	// Enforce turns permission checking on. When false every check
	// short-circuits to allow.
	Enforce bool
	// CacheTTL bounds how stale a cached verdict may be.
	CacheTTL time.Duration
}

// Manager answers permission checks with a TTL cache in front of the
// policy store.
type Manager struct {
	store  Store
	cache  *decisionCache
	cfg    ManagerConfig
	logger *slog.Logger
}

// NewManager constructs a Manager.
func NewManager(store Store, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Manager{
		store:  store,
		cache:  newDecisionCache(cfg.CacheTTL),
		cfg:    cfg,
		logger: logger,
	}
}

// CheckPermission reports whether user may invoke tool. Store failures
// degrade to a deny, never to an implicit allow.
func (m *Manager) CheckPermission(ctx context.Context, user, tool string) Decision {
	if !m.cfg.Enforce {
		return Decision{Allowed: true, Reason: "rbac enforcement disabled"}
	}
	tool = normalizeTool(tool)

	if d, ok := m.cache.get(user, tool); ok {
		return d
	}

	has, err := m.store.HasPermission(ctx, user, tool)
	if err != nil {
		if m.logger != nil {
			m.logger.Error("rbac permission lookup", slog.String("user", user), slog.String("tool", tool), slog.Any("error", err))
		}
		// Not cached: the store may recover before the TTL would expire.
		return Decision{Allowed: false, Reason: "permission lookup unavailable"}
	}

	d := Decision{Allowed: has}
	if !has {
		d.Reason = "permission denied"
	}
	m.cache.put(user, tool, d)
	return d
}

// InvalidateUser purges cached verdicts for one user.
func (m *Manager) InvalidateUser(user string) {
	m.cache.invalidateUser(user)
}

// InvalidateTool purges cached verdicts for one tool.
func (m *Manager) InvalidateTool(tool string) {
	m.cache.invalidateTool(normalizeTool(tool))
}

// InvalidateAll drops the whole cache.
func (m *Manager) InvalidateAll() {
	m.cache.invalidateAll()
}

// ListRoles returns all roles.
func (m *Manager) ListRoles(ctx context.Context) ([]Role, error) {
	return m.store.ListRoles(ctx)
}

// CreateRole adds a custom role.
func (m *Manager) CreateRole(ctx context.Context, name, description string) (Role, error) {
	return m.store.CreateRole(ctx, name, description)
}

// DeleteRole removes a custom role and drops every cached verdict, since
// any user may have held it.
func (m *Manager) DeleteRole(ctx context.Context, id int64) error {
	if err := m.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	m.InvalidateAll()
	return nil
}

// ListPermissions returns the permission catalog.
func (m *Manager) ListPermissions(ctx context.Context) ([]Permission, error) {
	return m.store.ListPermissions(ctx)
}

// GrantPermission attaches a permission to a role and invalidates the
// affected tool.
func (m *Manager) GrantPermission(ctx context.Context, roleID, permissionID int64, tool string) error {
	if err := m.store.GrantPermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	m.InvalidateTool(tool)
	return nil
}

// RevokePermission detaches a permission from a role and invalidates the
// affected tool.
func (m *Manager) RevokePermission(ctx context.Context, roleID, permissionID int64, tool string) error {
	if err := m.store.RevokePermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	m.InvalidateTool(tool)
	return nil
}

// EffectivePermissions returns the permission names granted to a user.
func (m *Manager) EffectivePermissions(ctx context.Context, user string) ([]string, error) {
	return m.store.EffectivePermissions(ctx, user)
}
