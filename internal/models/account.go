package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction types. Amount is signed: spend/transfer_out are negative,
// transfer_in/reward are positive.
const (
	TxTypeSpend       = "spend"
	TxTypeTransferIn  = "transfer_in"
	TxTypeTransferOut = "transfer_out"
	TxTypeReward      = "reward"
)

// WalletAccount — одна строка на пользователя, создаётся лениво при
// первом обращении. balance никогда не уходит в минус; все мутации идут
// через Ledger внутри одной транзакции.
type WalletAccount struct {
	UserID    uuid.UUID `json:"user_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WalletTransaction is immutable once written. BalanceAfter snapshots the
// account balance at commit time for this row's position in the user's
// ordered history.
type WalletTransaction struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Type         string    `json:"type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Metadata     Metadata  `json:"metadata,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Metadata is the typed map crossing the security boundary: string keys to
// JSON values only. Use-sites validate their own top-level keys.
type Metadata map[string]any

func (m Metadata) GetString(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func (m Metadata) GetBool(key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}
