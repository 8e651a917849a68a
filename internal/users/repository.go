package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the requested user does not exist.
var ErrNotFound = errors.New("users: not found")

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `u.id, u.identity, u.name, u.role_id, r.name, u.is_active, u.created_at, u.updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Identity, &u.Name, &u.RoleID, &u.RoleName, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

// ListUsers returns all users with their role names.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+`
FROM users u JOIN roles r ON r.id = u.role_id ORDER BY u.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetByIdentity fetches a user by its transport identity.
func (r *Repository) GetByIdentity(ctx context.Context, identity string) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+`
FROM users u JOIN roles r ON r.id = u.role_id WHERE u.identity = $1`, identity))
}

// Create provisions a user with the given role.
func (r *Repository) Create(ctx context.Context, identity, name string, roleID int64) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `WITH inserted AS (
INSERT INTO users (identity, name, role_id, is_active) VALUES ($1, $2, $3, TRUE)
RETURNING id, identity, name, role_id, is_active, created_at, updated_at
)
SELECT u.id, u.identity, u.name, u.role_id, r.name, u.is_active, u.created_at, u.updated_at
FROM inserted u JOIN roles r ON r.id = u.role_id`, identity, name, roleID))
}

// AssignRole moves the user to a different role.
func (r *Repository) AssignRole(ctx context.Context, identity string, roleID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role_id = $2, updated_at = NOW() WHERE identity = $1`, identity, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate soft-deletes the user.
func (r *Repository) Deactivate(ctx context.Context, identity string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_active = FALSE, updated_at = NOW() WHERE identity = $1`, identity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
