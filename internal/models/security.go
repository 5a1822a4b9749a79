package models

import (
	"time"

	"github.com/google/uuid"
)

// Two-factor methods.
const (
	MethodTOTP     = "totp"
	MethodEmailOTP = "email_otp"
	MethodSMSOTP   = "sms_otp"
)

// UserSecurity — одна строка на пользователя, создаётся при первой
// настройке 2FA или ключа подписи.
type UserSecurity struct {
	UserID              uuid.UUID `json:"user_id"`
	TOTPSecretEncrypted []byte    `json:"-"`
	TwoFactorEnabled    bool      `json:"two_factor_enabled"`
	TwoFactorMethods    []string  `json:"two_factor_methods"`
	PublicKey           *string   `json:"-"` // Ed25519, PEM or base64-32B
	EmailVerified       bool      `json:"email_verified"`
	PhoneNumber         *string   `json:"-"`
	PhoneVerified       bool      `json:"phone_verified"`
	SeedBackedUp        bool      `json:"seed_backed_up"`
	RecoveryAbuseFlag   bool      `json:"-"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (s *UserSecurity) HasMethod(method string) bool {
	for _, m := range s.TwoFactorMethods {
		if m == method {
			return true
		}
	}
	return false
}
