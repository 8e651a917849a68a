package audit

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for audit entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends one entry.
func (r *Repository) Insert(ctx context.Context, e Entry) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO audit_logs (at, user_id, tool, action, status, error_message, duration_ms, payload)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`,
		e.At, e.UserID, e.Tool, e.Action, string(e.Status), e.Error, optionalDuration(e), e.Payload)
	return err
}

// QueryFilters narrows a timeline query.
type QueryFilters struct {
	From   time.Time
	To     time.Time
	UserID string
	Tool   string
	Status string
	Limit  int
	Offset int
}

// Query returns entries matching the filters, newest first.
func (r *Repository) Query(ctx context.Context, f QueryFilters) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, at, user_id, tool, action, status, COALESCE(error_message, ''), duration_ms, payload
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR at >= $1)
  AND ($2::timestamptz IS NULL OR at <= $2)
  AND ($3::text IS NULL OR user_id = $3)
  AND ($4::text IS NULL OR tool = $4)
  AND ($5::text IS NULL OR status = $5)
ORDER BY at DESC, id DESC
LIMIT $6 OFFSET $7`,
		optionalTime(f.From), optionalTime(f.To),
		optionalText(f.UserID), optionalText(f.Tool), optionalText(f.Status),
		f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var status string
		var duration pgtype.Int8
		if err := rows.Scan(&e.ID, &e.At, &e.UserID, &e.Tool, &e.Action, &status, &e.Error, &duration, &e.Payload); err != nil {
			return nil, err
		}
		e.Status = Status(status)
		if duration.Valid {
			e.DurationMS = duration.Int64
			e.HasDuration = true
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than the retention cutoff and reports how
// many were removed.
func (r *Repository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_logs WHERE at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func optionalDuration(e Entry) pgtype.Int8 {
	if !e.HasDuration {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: e.DurationMS, Valid: true}
}

func optionalTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
