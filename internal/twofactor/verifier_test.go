package twofactor

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/tilerush/backend/internal/crypto"
	"github.com/tilerush/backend/internal/models"
)

type fakeSecrets struct {
	rows map[uuid.UUID]*models.UserSecurity
}

func (f *fakeSecrets) Get(_ context.Context, userID uuid.UUID) (*models.UserSecurity, error) {
	return f.rows[userID], nil
}

type memOTPStore struct {
	mu    sync.Mutex
	codes map[string]string
}

func newMemOTPStore() *memOTPStore {
	return &memOTPStore{codes: make(map[string]string)}
}

func (s *memOTPStore) Put(_ context.Context, method string, userID uuid.UUID, code string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[method+":"+userID.String()] = code
	return nil
}

func (s *memOTPStore) Get(_ context.Context, method string, userID uuid.UUID) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.codes[method+":"+userID.String()]
	return code, ok, nil
}

func (s *memOTPStore) Delete(_ context.Context, method string, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, method+":"+userID.String())
	return nil
}

func newTestVerifier(t *testing.T, secrets *fakeSecrets) (*Verifier, *memOTPStore, *crypto.SecretCipher) {
	t.Helper()
	cipher, err := crypto.NewSecretCipher(bytes.Repeat([]byte("m"), 32))
	if err != nil {
		t.Fatal(err)
	}
	store := newMemOTPStore()
	v := NewVerifier(secrets, store, cipher, Options{TOTPSkew: 1}, zap.NewNop())
	return v, store, cipher
}

func TestVerify_DisabledAlwaysTrue(t *testing.T) {
	userID := uuid.New()
	v, _, _ := newTestVerifier(t, &fakeSecrets{rows: map[uuid.UUID]*models.UserSecurity{}})

	ok, err := v.Verify(context.Background(), userID, Codes{})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("user without 2FA must always verify")
	}
}

func TestVerify_TOTP(t *testing.T) {
	userID := uuid.New()
	secrets := &fakeSecrets{rows: map[uuid.UUID]*models.UserSecurity{}}
	v, _, cipher := newTestVerifier(t, secrets)

	secret, _, err := ProvisionTOTP("tilerush", "user@example.com")
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := cipher.Seal([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	secrets.rows[userID] = &models.UserSecurity{
		UserID:              userID,
		TwoFactorEnabled:    true,
		TwoFactorMethods:    []string{models.MethodTOTP},
		TOTPSecretEncrypted: sealed,
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	ok, err := v.Verify(context.Background(), userID, Codes{TOTP: code})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("valid TOTP code rejected")
	}

	ok, err = v.Verify(context.Background(), userID, Codes{TOTP: "000000"})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("wrong TOTP code accepted")
	}

	ok, err = v.Verify(context.Background(), userID, Codes{})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("enabled 2FA with no codes supplied must fail")
	}
}

func TestVerify_EmailOTPConsumeOnce(t *testing.T) {
	userID := uuid.New()
	secrets := &fakeSecrets{rows: map[uuid.UUID]*models.UserSecurity{
		userID: {
			UserID:           userID,
			TwoFactorEnabled: true,
			TwoFactorMethods: []string{models.MethodEmailOTP},
		},
	}}
	v, _, _ := newTestVerifier(t, secrets)
	ctx := context.Background()

	code, err := v.IssueOTP(ctx, models.MethodEmailOTP, userID)
	if err != nil {
		t.Fatal(err)
	}
	if len(code) != 6 {
		t.Fatalf("code %q is not 6 digits", code)
	}

	ok, err := v.Verify(ctx, userID, Codes{EmailOTP: code})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("valid email OTP rejected")
	}

	// The successful check consumed the code.
	ok, err = v.Verify(ctx, userID, Codes{EmailOTP: code})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("consumed OTP accepted a second time")
	}
}

func TestVerify_WrongOTPDoesNotConsume(t *testing.T) {
	userID := uuid.New()
	secrets := &fakeSecrets{rows: map[uuid.UUID]*models.UserSecurity{
		userID: {
			UserID:           userID,
			TwoFactorEnabled: true,
			TwoFactorMethods: []string{models.MethodSMSOTP},
		},
	}}
	v, _, _ := newTestVerifier(t, secrets)
	ctx := context.Background()

	code, err := v.IssueOTP(ctx, models.MethodSMSOTP, userID)
	if err != nil {
		t.Fatal(err)
	}

	if ok, _ := v.Verify(ctx, userID, Codes{SMSOTP: "999999"}); ok {
		t.Fatal("wrong SMS OTP accepted")
	}
	// Failed attempt must leave the code usable until TTL.
	if ok, _ := v.Verify(ctx, userID, Codes{SMSOTP: code}); !ok {
		t.Error("correct code rejected after a failed attempt")
	}
}

func TestVerify_MethodNotEnabledIgnored(t *testing.T) {
	userID := uuid.New()
	secrets := &fakeSecrets{rows: map[uuid.UUID]*models.UserSecurity{
		userID: {
			UserID:           userID,
			TwoFactorEnabled: true,
			TwoFactorMethods: []string{models.MethodTOTP},
		},
	}}
	v, store, _ := newTestVerifier(t, secrets)
	ctx := context.Background()

	// A cached email code must not verify a user whose only method is TOTP.
	_ = store.Put(ctx, models.MethodEmailOTP, userID, "123456", time.Minute)
	if ok, _ := v.Verify(ctx, userID, Codes{EmailOTP: "123456"}); ok {
		t.Error("email OTP verified for a TOTP-only user")
	}
}

func TestIssueOTP_UnsupportedMethod(t *testing.T) {
	v, _, _ := newTestVerifier(t, &fakeSecrets{rows: map[uuid.UUID]*models.UserSecurity{}})
	if _, err := v.IssueOTP(context.Background(), models.MethodTOTP, uuid.New()); err == nil {
		t.Error("IssueOTP should reject totp method")
	}
}
