package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit event types written by the wallet core. Append-only; this core
// never reads them back on the request path.
const (
	AuditOperationAuthorized    = "operation_authorized"
	AuditReplayDetected         = "replay_detected"
	AuditSignatureRejected      = "signature_rejected"
	AuditStepUpRequired         = "step_up_required"
	AuditStepUpPassed           = "step_up_passed"
	AuditStepUpFailed           = "step_up_failed"
	AuditWalletSpend            = "wallet_spend"
	AuditWalletTransfer         = "wallet_transfer"
	AuditWalletReward           = "wallet_reward"
	AuditRecoveryRequested      = "recovery_requested"
	AuditRecoveryLimitReached   = "recovery_limit_reached"
	AuditRecoveryApproved       = "recovery_approved"
	AuditRecoveryFinalized      = "recovery_finalized"
	AuditDeviceRegistered       = "device_registered"
	AuditDeviceRevoked          = "device_revoked"
	AuditTwoFactorEnabled       = "two_factor_enabled"
	AuditSeedBackupAcknowledged = "seed_backup_acknowledged"
)

type AuditEntry struct {
	ID        uuid.UUID  `json:"id"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	DeviceID  *string    `json:"device_id,omitempty"`
	EventType string     `json:"event_type"`
	Meta      Metadata   `json:"meta,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
