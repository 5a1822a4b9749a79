package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tilerush/backend/internal/apperrors"
	"github.com/tilerush/backend/internal/config"
	"github.com/tilerush/backend/internal/crypto"
	"github.com/tilerush/backend/internal/events"
	"github.com/tilerush/backend/internal/models"
	"github.com/tilerush/backend/internal/twofactor"
)

const totpIssuer = "TileRush"

type securitySettings interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.UserSecurity, error)
	SetPublicKey(ctx context.Context, userID uuid.UUID, publicKey string) error
	SetTOTPSecret(ctx context.Context, userID uuid.UUID, secretEncrypted []byte) error
	AddMethod(ctx context.Context, userID uuid.UUID, method string) error
	SetSeedBackedUp(ctx context.Context, userID uuid.UUID) error
}

type securityDevices interface {
	Get(ctx context.Context, userID uuid.UUID, deviceID string) (*models.UserDevice, error)
	Register(ctx context.Context, userID uuid.UUID, deviceID string, deviceKey *string, meta models.Metadata) (*models.UserDevice, error)
	SetDeviceKey(ctx context.Context, userID uuid.UUID, deviceID, deviceKey string) error
	Revoke(ctx context.Context, userID uuid.UUID, deviceID string) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.UserDevice, error)
}

type securityUsers interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// SecurityService управляет ключами, девайсами и настройками второго
// фактора пользователя.
type SecurityService struct {
	securityRepo securitySettings
	deviceRepo   securityDevices
	userRepo     securityUsers
	auditRepo    auditSink
	verifier     *twofactor.Verifier
	cipher       *crypto.SecretCipher
	publisher    events.Publisher
	cfg          *config.Config
	log          *zap.Logger
}

func NewSecurityService(
	securityRepo securitySettings,
	deviceRepo securityDevices,
	userRepo securityUsers,
	auditRepo auditSink,
	verifier *twofactor.Verifier,
	cipher *crypto.SecretCipher,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *SecurityService {
	return &SecurityService{
		securityRepo: securityRepo,
		deviceRepo:   deviceRepo,
		userRepo:     userRepo,
		auditRepo:    auditRepo,
		verifier:     verifier,
		cipher:       cipher,
		publisher:    publisher,
		cfg:          cfg,
		log:          log,
	}
}

// RegisterDevice сохраняет публичный ключ пользователя и регистрирует
// девайс. Ключ валидируется до записи; необязательный deviceKey — это
// отдельный Ed25519-ключ самого девайса для усиленного восстановления.
func (s *SecurityService) RegisterDevice(ctx context.Context, userID uuid.UUID, deviceID, publicKey string, deviceKey *string, meta models.Metadata) (*models.UserDevice, error) {
	pub, err := crypto.ParsePublicKey(publicKey)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMissingPublicKey, "public key is not a valid ed25519 key", err)
	}
	if deviceKey != nil && *deviceKey != "" {
		if _, err := crypto.ParsePublicKey(*deviceKey); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeMissingPublicKey, "device key is not a valid ed25519 key", err)
		}
	}

	if err := s.securityRepo.SetPublicKey(ctx, userID, crypto.EncodePublicKey(pub)); err != nil {
		return nil, apperrors.System(err)
	}
	device, err := s.deviceRepo.Register(ctx, userID, deviceID, deviceKey, meta)
	if err != nil {
		return nil, apperrors.System(err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditEntry{
		UserID:    &userID,
		DeviceID:  &deviceID,
		EventType: models.AuditDeviceRegistered,
	})
	return device, nil
}

// SetDeviceKey привязывает Ed25519-ключ девайса к уже зарегистрированному
// девайсу. Ключ нельзя привязать к отозванному девайсу.
func (s *SecurityService) SetDeviceKey(ctx context.Context, userID uuid.UUID, deviceID, deviceKey string) error {
	if _, err := crypto.ParsePublicKey(deviceKey); err != nil {
		return apperrors.Wrap(apperrors.CodeMissingPublicKey, "device key is not a valid ed25519 key", err)
	}
	device, err := s.deviceRepo.Get(ctx, userID, deviceID)
	if err != nil {
		return apperrors.System(err)
	}
	if device == nil {
		return apperrors.New(apperrors.CodeDeviceNotFound, "device is not registered")
	}
	if device.IsRevoked() {
		return apperrors.New(apperrors.CodeDeviceRevoked, "device has been revoked")
	}
	if err := s.deviceRepo.SetDeviceKey(ctx, userID, deviceID, deviceKey); err != nil {
		return apperrors.System(err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditEntry{
		UserID:    &userID,
		DeviceID:  &deviceID,
		EventType: models.AuditDeviceRegistered,
		Meta:      models.Metadata{"device_key_set": true},
	})
	return nil
}

func (s *SecurityService) ListDevices(ctx context.Context, userID uuid.UUID) ([]models.UserDevice, error) {
	devices, err := s.deviceRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.System(err)
	}
	return devices, nil
}

func (s *SecurityService) RevokeDevice(ctx context.Context, userID uuid.UUID, deviceID string) error {
	device, err := s.deviceRepo.Get(ctx, userID, deviceID)
	if err != nil {
		return apperrors.System(err)
	}
	if device == nil {
		return apperrors.New(apperrors.CodeDeviceNotFound, "device is not registered")
	}
	if err := s.deviceRepo.Revoke(ctx, userID, deviceID); err != nil {
		return apperrors.System(err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditEntry{
		UserID:    &userID,
		DeviceID:  &deviceID,
		EventType: models.AuditDeviceRevoked,
	})
	s.publishAlert(ctx, userID, "device_revoked", models.Metadata{"device_id": deviceID})
	return nil
}

type TOTPEnrollment struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// BeginTOTPEnrollment генерирует секрет и сохраняет его в зашифрованном
// виде. Метод не включается, пока пользователь не подтвердит первый код
// через ConfirmTOTP.
func (s *SecurityService) BeginTOTPEnrollment(ctx context.Context, userID uuid.UUID) (*TOTPEnrollment, error) {
	if s.cipher == nil {
		return nil, apperrors.System(fmt.Errorf("totp enrollment unavailable: no master encryption key"))
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, apperrors.System(err)
	}
	if user == nil {
		return nil, apperrors.New(apperrors.CodeWalletNotFound, "user not found")
	}

	secret, url, err := twofactor.ProvisionTOTP(totpIssuer, user.Email)
	if err != nil {
		return nil, apperrors.System(err)
	}
	sealed, err := s.cipher.Seal([]byte(secret))
	if err != nil {
		return nil, apperrors.System(err)
	}
	if err := s.securityRepo.SetTOTPSecret(ctx, userID, sealed); err != nil {
		return nil, apperrors.System(err)
	}
	return &TOTPEnrollment{Secret: secret, URL: url}, nil
}

// ConfirmTOTP завершает подключение TOTP первым валидным кодом.
func (s *SecurityService) ConfirmTOTP(ctx context.Context, userID uuid.UUID, code string) error {
	ok, err := s.verifier.CheckTOTP(ctx, userID, code)
	if err != nil {
		return apperrors.System(err)
	}
	if !ok {
		return apperrors.New(apperrors.CodeTwoFactorRequired, "totp code did not match")
	}
	if err := s.securityRepo.AddMethod(ctx, userID, models.MethodTOTP); err != nil {
		return apperrors.System(err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditEntry{
		UserID:    &userID,
		EventType: models.AuditTwoFactorEnabled,
		Meta:      models.Metadata{"method": models.MethodTOTP},
	})
	return nil
}

// EnableOTPMethod включает email или sms OTP как метод второго фактора.
func (s *SecurityService) EnableOTPMethod(ctx context.Context, userID uuid.UUID, method string) error {
	if method != models.MethodEmailOTP && method != models.MethodSMSOTP {
		return apperrors.New(apperrors.CodeSystemError, "unsupported second factor method")
	}
	if err := s.securityRepo.AddMethod(ctx, userID, method); err != nil {
		return apperrors.System(err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditEntry{
		UserID:    &userID,
		EventType: models.AuditTwoFactorEnabled,
		Meta:      models.Metadata{"method": method},
	})
	return nil
}

// IssueOTP выпускает одноразовый код и публикует его в канал доставки.
// Сам код наружу не возвращается.
func (s *SecurityService) IssueOTP(ctx context.Context, userID uuid.UUID, method string) error {
	code, err := s.verifier.IssueOTP(ctx, method, userID)
	if err != nil {
		return apperrors.System(err)
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return apperrors.System(err)
	}
	if user == nil {
		return apperrors.New(apperrors.CodeWalletNotFound, "user not found")
	}

	s.publishAlert(ctx, userID, "otp_issued", models.Metadata{
		"method": method,
		"email":  user.Email,
		"code":   code,
	})
	return nil
}

func (s *SecurityService) AcknowledgeSeedBackup(ctx context.Context, userID uuid.UUID) error {
	if err := s.securityRepo.SetSeedBackedUp(ctx, userID); err != nil {
		return apperrors.System(err)
	}
	_ = s.auditRepo.Log(ctx, models.AuditEntry{
		UserID:    &userID,
		EventType: models.AuditSeedBackupAcknowledged,
	})
	return nil
}

func (s *SecurityService) GetSettings(ctx context.Context, userID uuid.UUID) (*models.UserSecurity, error) {
	sec, err := s.securityRepo.Get(ctx, userID)
	if err != nil {
		return nil, apperrors.System(err)
	}
	if sec == nil {
		sec = &models.UserSecurity{UserID: userID}
	}
	return sec, nil
}

func (s *SecurityService) publishAlert(ctx context.Context, userID uuid.UUID, kind string, meta models.Metadata) {
	if s.publisher == nil {
		return
	}
	payload := map[string]any{"user_id": userID.String(), "kind": kind}
	for k, v := range meta {
		payload[k] = v
	}
	if err := s.publisher.Publish(ctx, events.StreamWallet, events.Event{
		Type:    events.EventSecurityAlert,
		Payload: payload,
	}); err != nil {
		s.log.Warn("publish security alert", zap.Error(err))
	}
}
