package twofactor

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/tilerush/backend/internal/crypto"
	"github.com/tilerush/backend/internal/models"
)

// SecretSource отдаёт настройки безопасности пользователя. Возвращает
// nil, nil если строки ещё нет (2FA не настроена).
type SecretSource interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.UserSecurity, error)
}

// Codes carries whatever step-up codes the request supplied. Empty fields
// mean the method was not attempted.
type Codes struct {
	TOTP     string
	EmailOTP string
	SMSOTP   string
}

func (c Codes) Empty() bool {
	return c.TOTP == "" && c.EmailOTP == "" && c.SMSOTP == ""
}

type Options struct {
	OTPTTL     time.Duration
	TOTPSkew   uint
	TOTPPeriod uint
}

type Verifier struct {
	secrets SecretSource
	otps    OTPStore
	cipher  *crypto.SecretCipher // nil when no master key is configured
	opts    Options
	log     *zap.Logger
}

func NewVerifier(secrets SecretSource, otps OTPStore, cipher *crypto.SecretCipher, opts Options, log *zap.Logger) *Verifier {
	if opts.TOTPPeriod == 0 {
		opts.TOTPPeriod = 30
	}
	if opts.OTPTTL == 0 {
		opts.OTPTTL = 120 * time.Second
	}
	return &Verifier{secrets: secrets, otps: otps, cipher: cipher, opts: opts, log: log}
}

// Verify возвращает true, если 2FA у пользователя выключена, либо если
// хотя бы один включённый метод подтверждён соответствующим кодом.
func (v *Verifier) Verify(ctx context.Context, userID uuid.UUID, codes Codes) (bool, error) {
	sec, err := v.secrets.Get(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load security settings: %w", err)
	}
	if sec == nil || !sec.TwoFactorEnabled {
		return true, nil
	}

	if codes.TOTP != "" && sec.HasMethod(models.MethodTOTP) {
		ok, err := v.verifyTOTP(sec, codes.TOTP)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	if codes.EmailOTP != "" && sec.HasMethod(models.MethodEmailOTP) {
		if ok, err := v.consumeOTP(ctx, models.MethodEmailOTP, userID, codes.EmailOTP); err != nil || ok {
			return ok, err
		}
	}

	if codes.SMSOTP != "" && sec.HasMethod(models.MethodSMSOTP) {
		if ok, err := v.consumeOTP(ctx, models.MethodSMSOTP, userID, codes.SMSOTP); err != nil || ok {
			return ok, err
		}
	}

	return false, nil
}

func (v *Verifier) verifyTOTP(sec *models.UserSecurity, code string) (bool, error) {
	if v.cipher == nil {
		return false, fmt.Errorf("totp verification unavailable: no master encryption key")
	}
	if len(sec.TOTPSecretEncrypted) == 0 {
		return false, nil
	}

	secret, err := v.cipher.Open(sec.TOTPSecretEncrypted)
	if err != nil {
		return false, fmt.Errorf("decrypt totp secret: %w", err)
	}

	ok, err := totp.ValidateCustom(code, string(secret), time.Now(), totp.ValidateOpts{
		Period:    v.opts.TOTPPeriod,
		Skew:      v.opts.TOTPSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		// ValidateCustom errors only on malformed input, treat as no match
		return false, nil
	}
	return ok, nil
}

// CheckTOTP validates a code against the stored secret regardless of
// whether the method is enabled yet. Used to complete enrollment.
func (v *Verifier) CheckTOTP(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	sec, err := v.secrets.Get(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load security settings: %w", err)
	}
	if sec == nil {
		return false, nil
	}
	return v.verifyTOTP(sec, code)
}

// consumeOTP сверяет код из кеша и удаляет его при успехе — повторное
// использование того же кода невозможно.
func (v *Verifier) consumeOTP(ctx context.Context, method string, userID uuid.UUID, code string) (bool, error) {
	stored, found, err := v.otps.Get(ctx, method, userID)
	if err != nil {
		return false, fmt.Errorf("otp cache read: %w", err)
	}
	if !found {
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return false, nil
	}
	if err := v.otps.Delete(ctx, method, userID); err != nil {
		return false, fmt.Errorf("otp cache delete: %w", err)
	}
	return true, nil
}

// IssueOTP generates and caches a fresh code for email/SMS delivery.
// Delivery itself is the caller's concern.
func (v *Verifier) IssueOTP(ctx context.Context, method string, userID uuid.UUID) (string, error) {
	if method != models.MethodEmailOTP && method != models.MethodSMSOTP {
		return "", fmt.Errorf("unsupported otp method %q", method)
	}
	code, err := GenerateCode()
	if err != nil {
		return "", err
	}
	if err := v.otps.Put(ctx, method, userID, code, v.opts.OTPTTL); err != nil {
		return "", fmt.Errorf("otp cache write: %w", err)
	}
	return code, nil
}

// ProvisionTOTP creates a new TOTP secret for enrollment and returns the
// base32 secret plus the otpauth:// URL for QR display.
func ProvisionTOTP(issuer, accountName string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}
