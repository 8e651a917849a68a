package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository loads credentials from Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindCredential returns the stored credential for an identity.
func (r *Repository) FindCredential(ctx context.Context, identity string) (Credential, error) {
	const q = `
SELECT u.identity, COALESCE(u.token_hash, ''), COALESCE(ro.name, ''), u.is_active
FROM users u
LEFT JOIN roles ro ON ro.id = u.role_id
WHERE u.identity = $1`

	var c Credential
	err := r.pool.QueryRow(ctx, q, identity).Scan(&c.Identity, &c.SecretHash, &c.RoleName, &c.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrInvalidToken
	}
	if err != nil {
		return Credential{}, fmt.Errorf("auth: find credential: %w", err)
	}
	return c, nil
}

// SetTokenHash stores a new secret hash for an identity.
func (r *Repository) SetTokenHash(ctx context.Context, identity, hash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET token_hash = $2, updated_at = NOW() WHERE identity = $1`, identity, hash)
	if err != nil {
		return fmt.Errorf("auth: set token hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidToken
	}
	return nil
}
