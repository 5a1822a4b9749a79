package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tilerush/backend/internal/models"
)

type DeviceRepo struct {
	pool *pgxpool.Pool
}

func NewDeviceRepo(pool *pgxpool.Pool) *DeviceRepo {
	return &DeviceRepo{pool: pool}
}

const deviceColumns = `id, user_id, device_id, device_key, last_nonce, last_seen_ip,
	ops_since_recovery, is_trusted, metadata, last_seen_at, created_at, revoked_at`

func scanDevice(row pgx.Row) (*models.UserDevice, error) {
	var d models.UserDevice
	err := row.Scan(&d.ID, &d.UserID, &d.DeviceID, &d.DeviceKey, &d.LastNonce, &d.LastSeenIP,
		&d.OpsSinceRecovery, &d.IsTrusted, &d.Metadata, &d.LastSeenAt, &d.CreatedAt, &d.RevokedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Get returns nil, nil when the device is not registered.
func (r *DeviceRepo) Get(ctx context.Context, userID uuid.UUID, deviceID string) (*models.UserDevice, error) {
	d, err := scanDevice(r.pool.QueryRow(ctx, `
		SELECT `+deviceColumns+` FROM user_devices
		WHERE user_id = $1 AND device_id = $2
	`, userID, deviceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (r *DeviceRepo) Register(ctx context.Context, userID uuid.UUID, deviceID string, deviceKey *string, meta models.Metadata) (*models.UserDevice, error) {
	return scanDevice(r.pool.QueryRow(ctx, `
		INSERT INTO user_devices (user_id, device_id, device_key, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, device_id) DO UPDATE SET
			device_key = COALESCE(EXCLUDED.device_key, user_devices.device_key),
			metadata = user_devices.metadata || EXCLUDED.metadata,
			last_seen_at = now()
		RETURNING `+deviceColumns, userID, deviceID, deviceKey, normalizeMeta(meta)))
}

// ConsumeNonce атомарно записывает nonce запроса: условный UPDATE,
// который не трогает строку, если nonce совпадает с уже сохранённым.
// Ноль обновлённых строк — это replay. Гонка двух запросов с одним nonce
// решается на уровне стораджа: ровно один из них обновит строку.
func (r *DeviceRepo) ConsumeNonce(ctx context.Context, userID uuid.UUID, deviceID, nonce string, requestIP *string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_devices
		SET last_nonce = $3,
		    last_seen_at = now(),
		    last_seen_ip = COALESCE($4, last_seen_ip),
		    ops_since_recovery = ops_since_recovery + 1
		WHERE user_id = $1 AND device_id = $2
		  AND revoked_at IS NULL
		  AND (last_nonce IS NULL OR last_nonce <> $3)
	`, userID, deviceID, nonce, requestIP)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRecovered upserts the device after a successful recovery approval:
// recovery flags in metadata, ops counter reset, revocation cleared.
func (r *DeviceRepo) MarkRecovered(ctx context.Context, userID uuid.UUID, deviceID string, meta models.Metadata) (*models.UserDevice, error) {
	return scanDevice(r.pool.QueryRow(ctx, `
		INSERT INTO user_devices (user_id, device_id, metadata, ops_since_recovery)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (user_id, device_id) DO UPDATE SET
			metadata = user_devices.metadata || EXCLUDED.metadata,
			ops_since_recovery = 0,
			revoked_at = NULL,
			is_trusted = false,
			last_seen_at = now()
		RETURNING `+deviceColumns, userID, deviceID, normalizeMeta(meta)))
}

// MergeMetadata overlays keys onto the device metadata. Idempotent.
func (r *DeviceRepo) MergeMetadata(ctx context.Context, userID uuid.UUID, deviceID string, meta models.Metadata) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE user_devices SET metadata = metadata || $3
		WHERE user_id = $1 AND device_id = $2
	`, userID, deviceID, normalizeMeta(meta))
	return err
}

func (r *DeviceRepo) SetDeviceKey(ctx context.Context, userID uuid.UUID, deviceID, deviceKey string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE user_devices SET device_key = $3
		WHERE user_id = $1 AND device_id = $2
	`, userID, deviceID, deviceKey)
	return err
}

func (r *DeviceRepo) Revoke(ctx context.Context, userID uuid.UUID, deviceID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE user_devices SET revoked_at = now()
		WHERE user_id = $1 AND device_id = $2 AND revoked_at IS NULL
	`, userID, deviceID)
	return err
}

func (r *DeviceRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.UserDevice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+deviceColumns+` FROM user_devices
		WHERE user_id = $1 ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []models.UserDevice
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

func normalizeMeta(meta models.Metadata) models.Metadata {
	if meta == nil {
		return models.Metadata{}
	}
	return meta
}
