package guard

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tilerush/backend/internal/apperrors"
	"github.com/tilerush/backend/internal/canonical"
	"github.com/tilerush/backend/internal/crypto"
	"github.com/tilerush/backend/internal/models"
)

// DeviceStore is the slice of the device registry the guard needs.
type DeviceStore interface {
	Get(ctx context.Context, userID uuid.UUID, deviceID string) (*models.UserDevice, error)
	ConsumeNonce(ctx context.Context, userID uuid.UUID, deviceID, nonce string, requestIP *string) (bool, error)
}

// KeySource resolves the user's registered signing key.
type KeySource interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.UserSecurity, error)
}

// AuditSink receives security events. Writes are fire-and-forget.
type AuditSink interface {
	Log(ctx context.Context, entry models.AuditEntry) error
}

// Request carries the signed-operation fields of an inbound request.
// SessionDeviceID is the device bound to the session at login; empty means
// the session carries no binding.
type Request struct {
	UserID          uuid.UUID
	DeviceID        string
	SessionDeviceID string
	SessionID       string
	Operation       string
	SignatureB64    string
	TimestampMS     int64
	Nonce           string
	Body            map[string]any
	RequestIP       string
}

// Result is handed to the next pipeline stage on authorization. Device and
// Security are the rows already fetched, so the risk engine does not hit
// the store again.
type Result struct {
	Device   *models.UserDevice
	Security *models.UserSecurity
}

type Guard struct {
	devices DeviceStore
	keys    KeySource
	audit   AuditSink
	maxAge  time.Duration
	log     *zap.Logger
	now     func() time.Time
}

func New(devices DeviceStore, keys KeySource, audit AuditSink, maxAge time.Duration, log *zap.Logger) *Guard {
	return &Guard{
		devices: devices,
		keys:    keys,
		audit:   audit,
		maxAge:  maxAge,
		log:     log,
		now:     time.Now,
	}
}

// Authorize пропускает запрос через полный пайплайн: привязка девайса к
// сессии, свежесть таймстампа, подпись Ed25519 над каноническим
// сообщением и атомарное потребление nonce. Nonce обновляется ровно один
// раз и только на успешном пути.
func (g *Guard) Authorize(ctx context.Context, req Request) (*Result, error) {
	// 1. Device presence and session binding.
	if req.DeviceID == "" {
		return nil, apperrors.New(apperrors.CodeDeviceIDRequired, "device id header is required")
	}
	if req.SessionDeviceID != "" && req.SessionDeviceID != req.DeviceID {
		return nil, apperrors.New(apperrors.CodeDeviceSessionMismatch, "device does not match the session binding")
	}

	// 2. Shape of signature, timestamp, nonce.
	if req.Nonce == "" || req.TimestampMS <= 0 {
		return nil, apperrors.New(apperrors.CodeSignatureMalformed, "timestamp and nonce are required")
	}
	sigRaw, err := base64.StdEncoding.DecodeString(req.SignatureB64)
	if err != nil || len(sigRaw) != 64 {
		return nil, apperrors.New(apperrors.CodeSignatureMalformed, "signature must be base64 of 64 bytes")
	}

	// 3. Freshness window, before any signature cryptography runs.
	skew := g.now().UnixMilli() - req.TimestampMS
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Millisecond > g.maxAge {
		return nil, apperrors.New(apperrors.CodeSignatureExpired, "signature timestamp outside the allowed window")
	}

	// 4. Registered public key.
	sec, err := g.keys.Get(ctx, req.UserID)
	if err != nil {
		return nil, apperrors.System(err)
	}
	if sec == nil || sec.PublicKey == nil || *sec.PublicKey == "" {
		return nil, apperrors.New(apperrors.CodeMissingPublicKey, "no signing key registered for user")
	}
	pub, err := crypto.ParsePublicKey(*sec.PublicKey)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMissingPublicKey, "stored public key is unusable", err)
	}

	// 5. Device lookup and revocation.
	device, err := g.devices.Get(ctx, req.UserID, req.DeviceID)
	if err != nil {
		return nil, apperrors.System(err)
	}
	if device == nil {
		return nil, apperrors.New(apperrors.CodeDeviceNotFound, "device is not registered")
	}
	if device.IsRevoked() {
		return nil, apperrors.New(apperrors.CodeDeviceRevoked, "device has been revoked")
	}

	// 6. Canonical message and signature.
	msg, err := canonical.BuildOperationMessage(req.Operation, req.UserID.String(), req.TimestampMS, req.Nonce, req.DeviceID, req.SessionID, req.Body)
	if err != nil {
		return nil, err
	}
	if err := crypto.VerifySignature(pub, msg, req.SignatureB64); err != nil {
		_ = g.audit.Log(ctx, models.AuditEntry{
			UserID:    &req.UserID,
			DeviceID:  &req.DeviceID,
			EventType: models.AuditSignatureRejected,
			Meta:      models.Metadata{"operation": req.Operation},
		})
		return nil, apperrors.Wrap(apperrors.CodeInvalidSignature, "signature verification failed", err)
	}

	// 7. Atomic nonce consume. Zero rows updated means this nonce was
	// already spent on this device.
	var ip *string
	if req.RequestIP != "" {
		ip = &req.RequestIP
	}
	consumed, err := g.devices.ConsumeNonce(ctx, req.UserID, req.DeviceID, req.Nonce, ip)
	if err != nil {
		return nil, apperrors.System(err)
	}
	if !consumed {
		_ = g.audit.Log(ctx, models.AuditEntry{
			UserID:    &req.UserID,
			DeviceID:  &req.DeviceID,
			EventType: models.AuditReplayDetected,
			Meta:      models.Metadata{"operation": req.Operation, "nonce": req.Nonce},
		})
		return nil, apperrors.New(apperrors.CodeReplayDetected, "nonce already used for this device")
	}

	// 8. Authorized.
	_ = g.audit.Log(ctx, models.AuditEntry{
		UserID:    &req.UserID,
		DeviceID:  &req.DeviceID,
		EventType: models.AuditOperationAuthorized,
		Meta:      models.Metadata{"operation": req.Operation},
	})

	return &Result{Device: device, Security: sec}, nil
}
