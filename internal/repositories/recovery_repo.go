package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tilerush/backend/internal/models"
)

type RecoveryRepo struct {
	pool *pgxpool.Pool
}

func NewRecoveryRepo(pool *pgxpool.Pool) *RecoveryRepo {
	return &RecoveryRepo{pool: pool}
}

const ticketColumns = `id, user_id, device_id, status, method, token_lookup,
	expires_at, used_at, metadata, created_at`

func scanTicket(row pgx.Row) (*models.RecoveryTicket, error) {
	var t models.RecoveryTicket
	err := row.Scan(&t.ID, &t.UserID, &t.DeviceID, &t.Status, &t.Method, &t.TokenLookup,
		&t.ExpiresAt, &t.UsedAt, &t.Metadata, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *RecoveryRepo) Create(ctx context.Context, t *models.RecoveryTicket) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO recovery_tickets (user_id, device_id, status, method, token_lookup, expires_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, t.UserID, t.DeviceID, t.Status, t.Method, t.TokenLookup, t.ExpiresAt, normalizeMeta(t.Metadata)).
		Scan(&t.ID, &t.CreatedAt)
}

// CountRecentActive counts non-cancelled tickets created since the cutoff.
// Feeds the rolling 24h per-user cap.
func (r *RecoveryRepo) CountRecentActive(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM recovery_tickets
		WHERE user_id = $1 AND created_at > $2 AND status <> $3
	`, userID, since, models.TicketStatusCancelled).Scan(&n)
	return n, err
}

// GetByLookup returns nil, nil when no ticket matches the token's random
// component.
func (r *RecoveryRepo) GetByLookup(ctx context.Context, lookup string) (*models.RecoveryTicket, error) {
	t, err := scanTicket(r.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM recovery_tickets WHERE token_lookup = $1
	`, lookup))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *RecoveryRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.RecoveryTicket, error) {
	t, err := scanTicket(r.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM recovery_tickets WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// MarkUsed переводит тикет PENDING -> USED условным UPDATE'ом. При гонке
// двух approve ровно один увидит обновлённую строку; второй получит false.
func (r *RecoveryRepo) MarkUsed(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE recovery_tickets
		SET status = $2, used_at = now()
		WHERE id = $1 AND status = $3 AND expires_at > now()
	`, id, models.TicketStatusUsed, models.TicketStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MergeMetadata overlays keys onto ticket metadata. Used by finalize, which
// must stay idempotent.
func (r *RecoveryRepo) MergeMetadata(ctx context.Context, id uuid.UUID, meta models.Metadata) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE recovery_tickets SET metadata = metadata || $2 WHERE id = $1
	`, id, normalizeMeta(meta))
	return err
}

// ExpirePending marks overdue PENDING tickets EXPIRED. Safe to run
// concurrently with approvals: MarkUsed's own expiry predicate is
// authoritative, this sweep is bookkeeping.
func (r *RecoveryRepo) ExpirePending(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE recovery_tickets SET status = $1
		WHERE status = $2 AND expires_at <= now()
	`, models.TicketStatusExpired, models.TicketStatusPending)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *RecoveryRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM recovery_tickets WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
