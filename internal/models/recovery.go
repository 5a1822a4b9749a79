package models

import (
	"time"

	"github.com/google/uuid"
)

// Recovery ticket statuses. A ticket never leaves USED/EXPIRED/CANCELLED.
const (
	TicketStatusPending   = "PENDING"
	TicketStatusUsed      = "USED"
	TicketStatusExpired   = "EXPIRED"
	TicketStatusCancelled = "CANCELLED"
)

// ValidTicketTransitions captures the recovery state machine:
// PENDING -> USED on approval, PENDING -> EXPIRED on TTL,
// PENDING -> CANCELLED by the owner. Finalize confirms a USED ticket
// without a further status change.
var ValidTicketTransitions = map[string][]string{
	TicketStatusPending:   {TicketStatusUsed, TicketStatusExpired, TicketStatusCancelled},
	TicketStatusUsed:      {},
	TicketStatusExpired:   {},
	TicketStatusCancelled: {},
}

func IsValidTicketTransition(from, to string) bool {
	for _, allowed := range ValidTicketTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// RecoveryTicket is a time-boxed, single-use grant letting a user re-bind
// wallet access to a device. TokenLookup stores only the random component
// of the approval token; the HMAC half is never persisted.
type RecoveryTicket struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	DeviceID    string     `json:"device_id"`
	Status      string     `json:"status"`
	Method      string     `json:"method"`
	TokenLookup string     `json:"-"`
	ExpiresAt   time.Time  `json:"expires_at"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
	Metadata    Metadata   `json:"metadata,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (t *RecoveryTicket) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
