package services

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tilerush/backend/internal/apperrors"
	"github.com/tilerush/backend/internal/crypto"
	"github.com/tilerush/backend/internal/models"
	"github.com/tilerush/backend/internal/twofactor"
)

type securityFixture struct {
	svc     *SecurityService
	sec     *memSecurity
	devices *memDevices
	audit   *memAudit
	user    *models.User
}

func newSecurityFixture(t *testing.T) *securityFixture {
	t.Helper()

	username := "kira"
	user := &models.User{ID: uuid.New(), Email: "kira@example.com", Username: &username, CreatedAt: time.Now()}
	users := &memUsers{byEmail: map[string]*models.User{user.Email: user}}
	sec := &memSecurity{rows: map[uuid.UUID]*models.UserSecurity{}}
	devices := newMemDevices()
	audit := &memAudit{}

	cipher, err := crypto.NewSecretCipher(bytes.Repeat([]byte("k"), 32))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	verifier := twofactor.NewVerifier(secSource{sec}, nopOTPStore{}, cipher, twofactor.Options{}, zap.NewNop())

	svc := NewSecurityService(sec, devices, users, audit, verifier, cipher, nopPublisher{}, testConfig(), zap.NewNop())
	return &securityFixture{svc: svc, sec: sec, devices: devices, audit: audit, user: user}
}

func newEncodedKey(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	return crypto.EncodePublicKey(pub)
}

func TestBeginTOTPEnrollment(t *testing.T) {
	f := newSecurityFixture(t)
	ctx := context.Background()

	enrollment, err := f.svc.BeginTOTPEnrollment(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if enrollment.Secret == "" || enrollment.URL == "" {
		t.Fatal("enrollment missing secret or url")
	}

	row, _ := f.sec.Get(ctx, f.user.ID)
	if len(row.TOTPSecretEncrypted) == 0 {
		t.Fatal("secret not persisted")
	}
	if bytes.Contains(row.TOTPSecretEncrypted, []byte(enrollment.Secret)) {
		t.Fatal("secret persisted in the clear")
	}
	// Метод не включается до подтверждения первым кодом.
	if row.HasMethod(models.MethodTOTP) {
		t.Fatal("totp enabled before confirmation")
	}
}

func TestBeginTOTPEnrollmentUnknownUser(t *testing.T) {
	f := newSecurityFixture(t)

	_, err := f.svc.BeginTOTPEnrollment(context.Background(), uuid.New())
	if !apperrors.IsCode(err, apperrors.CodeWalletNotFound) {
		t.Fatalf("code = %s, want %s", apperrors.CodeOf(err), apperrors.CodeWalletNotFound)
	}
}

func TestIssueOTPUnknownUser(t *testing.T) {
	f := newSecurityFixture(t)

	err := f.svc.IssueOTP(context.Background(), uuid.New(), models.MethodEmailOTP)
	if !apperrors.IsCode(err, apperrors.CodeWalletNotFound) {
		t.Fatalf("code = %s, want %s", apperrors.CodeOf(err), apperrors.CodeWalletNotFound)
	}
}

func TestSetDeviceKey(t *testing.T) {
	f := newSecurityFixture(t)
	ctx := context.Background()
	f.devices.put(&models.UserDevice{ID: uuid.New(), UserID: f.user.ID, DeviceID: "dev-1", CreatedAt: time.Now()})

	key := newEncodedKey(t)
	if err := f.svc.SetDeviceKey(ctx, f.user.ID, "dev-1", key); err != nil {
		t.Fatalf("set device key: %v", err)
	}
	device, _ := f.devices.Get(ctx, f.user.ID, "dev-1")
	if device.DeviceKey == nil || *device.DeviceKey != key {
		t.Fatal("device key not stored")
	}

	t.Run("garbage key", func(t *testing.T) {
		err := f.svc.SetDeviceKey(ctx, f.user.ID, "dev-1", "not-a-key")
		if !apperrors.IsCode(err, apperrors.CodeMissingPublicKey) {
			t.Fatalf("code = %s, want %s", apperrors.CodeOf(err), apperrors.CodeMissingPublicKey)
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		err := f.svc.SetDeviceKey(ctx, f.user.ID, "dev-unknown", key)
		if !apperrors.IsCode(err, apperrors.CodeDeviceNotFound) {
			t.Fatalf("code = %s, want %s", apperrors.CodeOf(err), apperrors.CodeDeviceNotFound)
		}
	})

	t.Run("revoked device", func(t *testing.T) {
		now := time.Now()
		f.devices.put(&models.UserDevice{ID: uuid.New(), UserID: f.user.ID, DeviceID: "dev-dead", RevokedAt: &now})
		err := f.svc.SetDeviceKey(ctx, f.user.ID, "dev-dead", key)
		if !apperrors.IsCode(err, apperrors.CodeDeviceRevoked) {
			t.Fatalf("code = %s, want %s", apperrors.CodeOf(err), apperrors.CodeDeviceRevoked)
		}
	})
}

func TestRevokeDevice(t *testing.T) {
	f := newSecurityFixture(t)
	ctx := context.Background()
	f.devices.put(&models.UserDevice{ID: uuid.New(), UserID: f.user.ID, DeviceID: "dev-1", CreatedAt: time.Now()})

	if err := f.svc.RevokeDevice(ctx, f.user.ID, "dev-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	device, _ := f.devices.Get(ctx, f.user.ID, "dev-1")
	if !device.IsRevoked() {
		t.Fatal("device not revoked")
	}
	if f.audit.count(models.AuditDeviceRevoked) != 1 {
		t.Fatal("revocation not audited")
	}

	if err := f.svc.RevokeDevice(ctx, f.user.ID, "dev-ghost"); !apperrors.IsCode(err, apperrors.CodeDeviceNotFound) {
		t.Fatalf("code = %s, want %s", apperrors.CodeOf(err), apperrors.CodeDeviceNotFound)
	}
}
