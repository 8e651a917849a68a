package approval

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence. The one-way status
// machine is enforced with conditional updates, not read-then-write, so
// the first terminal transition wins across processes too.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const requestColumns = `id, user_id, tool, role, args, status, requested_at, expires_at, COALESCE(responder, ''), COALESCE(reason, ''), responded_at`

func scanRequest(row pgx.Row) (Request, error) {
	var r Request
	var status string
	err := row.Scan(&r.ID, &r.UserID, &r.Tool, &r.Role, &r.Args, &status,
		&r.RequestedAt, &r.ExpiresAt, &r.Responder, &r.Reason, &r.RespondedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, err
	}
	r.Status = Status(status)
	return r, nil
}

// Insert stores a new pending request.
func (p *Repository) Insert(ctx context.Context, r Request) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO approval_requests
(id, user_id, tool, role, args, status, requested_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.UserID, r.Tool, r.Role, r.Args, string(r.Status), r.RequestedAt, r.ExpiresAt)
	return err
}

// Get fetches a request. A pending row whose expiry has passed is
// reported as expired even before the sweep persists that transition.
func (p *Repository) Get(ctx context.Context, id uuid.UUID) (Request, error) {
	r, err := scanRequest(p.pool.QueryRow(ctx, `SELECT `+requestColumns+`
FROM approval_requests WHERE id = $1`, id))
	if err != nil {
		return Request{}, err
	}
	if r.Status == StatusPending && time.Now().After(r.ExpiresAt) {
		r.Status = StatusExpired
	}
	return r, nil
}

// Resolve atomically transitions a pending, unexpired request to the
// given terminal status. Losers of the race get AlreadyResolvedError
// carrying the stored status.
func (p *Repository) Resolve(ctx context.Context, id uuid.UUID, to Status, responder, reason string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE approval_requests
SET status = $2, responder = $3, reason = $4, responded_at = NOW()
WHERE id = $1 AND status = 'pending' AND expires_at > NOW()`,
		id, string(to), responder, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		current, getErr := p.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		return &AlreadyResolvedError{Status: current.Status}
	}
	return nil
}

// MarkExpired transitions every past-due pending request to expired and
// returns the affected rows so notifications can follow.
func (p *Repository) MarkExpired(ctx context.Context, now time.Time) ([]Request, error) {
	rows, err := p.pool.Query(ctx, `UPDATE approval_requests
SET status = 'expired', responded_at = $1
WHERE status = 'pending' AND expires_at <= $1
RETURNING `+requestColumns, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var expired []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, r)
	}
	return expired, rows.Err()
}

// List returns requests filtered by status, newest first.
func (p *Repository) List(ctx context.Context, status Status, limit int) ([]Request, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `SELECT `+requestColumns+`
FROM approval_requests
WHERE ($1 = '' OR status = $1)
ORDER BY requested_at DESC
LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
