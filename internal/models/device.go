package models

import (
	"time"

	"github.com/google/uuid"
)

// Metadata keys written by the recovery protocol.
const (
	DeviceMetaRecovered   = "recovered"
	DeviceMetaRecoveredAt = "recovered_at"
	DeviceMetaFinalizedAt = "recovery_finalized_at"
)

// UserDevice is unique on (user_id, device_id). A set revoked_at
// terminates its ability to pass the signature guard. LastNonce tracks the
// most recent consumed request nonce for replay detection.
type UserDevice struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	DeviceID         string     `json:"device_id"`
	DeviceKey        *string    `json:"-"` // Ed25519, hardens recovery approval
	LastNonce        *string    `json:"-"`
	LastSeenIP       *string    `json:"-"`
	OpsSinceRecovery int        `json:"-"`
	IsTrusted        bool       `json:"is_trusted"`
	Metadata         Metadata   `json:"metadata,omitempty"`
	LastSeenAt       time.Time  `json:"last_seen_at"`
	CreatedAt        time.Time  `json:"created_at"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
}

func (d *UserDevice) IsRevoked() bool {
	return d.RevokedAt != nil
}

func (d *UserDevice) IsRecovered() bool {
	return d.Metadata.GetBool(DeviceMetaRecovered)
}

// AgeDays returns the device age in whole days relative to now.
func (d *UserDevice) AgeDays(now time.Time) int {
	return int(now.Sub(d.CreatedAt).Hours() / 24)
}
