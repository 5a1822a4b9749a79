package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tilerush/backend/internal/models"
)

// AuditRepo is an append-only sink. The wallet core writes security events
// here and never reads them back on the request path.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Log(ctx context.Context, entry models.AuditEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO wallet_audit_log (user_id, device_id, event_type, meta)
		VALUES ($1, $2, $3, $4)
	`, entry.UserID, entry.DeviceID, entry.EventType, normalizeMeta(entry.Meta))
	return err
}
