package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Maintenance exposes the store upkeep operations used by backup
// tooling and the worker's cron jobs.
type Maintenance struct {
	pool *pgxpool.Pool
}

func NewMaintenance(pool *pgxpool.Pool) *Maintenance {
	return &Maintenance{pool: pool}
}

// Checkpoint flushes the write-ahead log into the main store.
func (m *Maintenance) Checkpoint(ctx context.Context) error {
	if _, err := m.pool.Exec(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("platform/db: checkpoint: %w", err)
	}
	return nil
}

// Vacuum reclaims dead-row space in the named tables, or the whole
// database when none are given.
func (m *Maintenance) Vacuum(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		if _, err := m.pool.Exec(ctx, "VACUUM (ANALYZE)"); err != nil {
			return fmt.Errorf("platform/db: vacuum: %w", err)
		}
		return nil
	}
	for _, table := range tables {
		if _, err := m.pool.Exec(ctx, "VACUUM (ANALYZE) "+pgIdentifier(table)); err != nil {
			return fmt.Errorf("platform/db: vacuum %s: %w", table, err)
		}
	}
	return nil
}

// IntegrityCheck verifies the store answers simple queries against the
// core tables. Used by backup tooling before snapshotting.
func (m *Maintenance) IntegrityCheck(ctx context.Context) error {
	for _, table := range []string{"users", "roles", "permissions", "role_permissions", "audit_logs", "approval_requests"} {
		var count int64
		q := "SELECT COUNT(*) FROM " + pgIdentifier(table)
		if err := m.pool.QueryRow(ctx, q).Scan(&count); err != nil {
			return fmt.Errorf("platform/db: integrity check %s: %w", table, err)
		}
	}
	return nil
}

// pgIdentifier quotes a table name. Callers pass fixed names only, the
// quoting guards against accidents rather than untrusted input.
func pgIdentifier(name string) string {
	return `"` + name + `"`
}
