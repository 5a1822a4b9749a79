package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tilerush/backend/internal/apperrors"
	"github.com/tilerush/backend/internal/canonical"
	"github.com/tilerush/backend/internal/config"
	"github.com/tilerush/backend/internal/crypto"
	"github.com/tilerush/backend/internal/events"
	"github.com/tilerush/backend/internal/models"
	"github.com/tilerush/backend/internal/twofactor"
)

// Хранилища, нужные восстановлению. Интерфейсы здесь, чтобы тесты могли
// подставить in-memory фейки вместо pgx-репозиториев.
type recoveryTickets interface {
	Create(ctx context.Context, t *models.RecoveryTicket) error
	CountRecentActive(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	GetByLookup(ctx context.Context, lookup string) (*models.RecoveryTicket, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.RecoveryTicket, error)
	MarkUsed(ctx context.Context, id uuid.UUID) (bool, error)
	MergeMetadata(ctx context.Context, id uuid.UUID, meta models.Metadata) error
	ExpirePending(ctx context.Context) (int64, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type recoveryDevices interface {
	Get(ctx context.Context, userID uuid.UUID, deviceID string) (*models.UserDevice, error)
	MarkRecovered(ctx context.Context, userID uuid.UUID, deviceID string, meta models.Metadata) (*models.UserDevice, error)
	MergeMetadata(ctx context.Context, userID uuid.UUID, deviceID string, meta models.Metadata) error
}

type recoveryUsers interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type recoverySecurity interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.UserSecurity, error)
	SetRecoveryAbuseFlag(ctx context.Context, userID uuid.UUID) error
}

type auditSink interface {
	Log(ctx context.Context, e models.AuditEntry) error
}

type RecoveryService struct {
	tickets   recoveryTickets
	devices   recoveryDevices
	users     recoveryUsers
	security  recoverySecurity
	auditRepo auditSink
	verifier  *twofactor.Verifier
	minter    *crypto.TokenMinter
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
	now       func() time.Time
}

func NewRecoveryService(
	tickets recoveryTickets,
	devices recoveryDevices,
	users recoveryUsers,
	security recoverySecurity,
	auditRepo auditSink,
	verifier *twofactor.Verifier,
	minter *crypto.TokenMinter,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *RecoveryService {
	return &RecoveryService{
		tickets:   tickets,
		devices:   devices,
		users:     users,
		security:  security,
		auditRepo: auditRepo,
		verifier:  verifier,
		minter:    minter,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// Request открывает PENDING-тикет для пары email+device. Ответ одинаков
// для существующих и несуществующих адресов: перечисление аккаунтов по
// этому эндпоинту невозможно.
func (s *RecoveryService) Request(ctx context.Context, email, deviceID, requestIP string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return apperrors.System(err)
	}
	if user == nil {
		s.log.Info("recovery requested for unknown email")
		return nil
	}

	count, err := s.tickets.CountRecentActive(ctx, user.ID, s.now().Add(-24*time.Hour))
	if err != nil {
		return apperrors.System(err)
	}
	if count >= s.cfg.RecoveryMaxPer24h {
		if err := s.security.SetRecoveryAbuseFlag(ctx, user.ID); err != nil {
			s.log.Error("set recovery abuse flag", zap.Error(err))
		}
		_ = s.auditRepo.Log(ctx, models.AuditEntry{
			UserID:    &user.ID,
			DeviceID:  &deviceID,
			EventType: models.AuditRecoveryLimitReached,
			Meta:      models.Metadata{"active_tickets": count},
		})
		return apperrors.New(apperrors.CodeRecoveryLimitReached, "too many recovery attempts, try again later")
	}

	token, lookup, err := s.minter.Mint()
	if err != nil {
		return apperrors.System(err)
	}

	ticket := &models.RecoveryTicket{
		ID:          uuid.New(),
		UserID:      user.ID,
		DeviceID:    deviceID,
		Status:      models.TicketStatusPending,
		Method:      "email",
		TokenLookup: lookup,
		ExpiresAt:   s.now().Add(s.cfg.RecoveryTicketTTL),
		Metadata:    models.Metadata{"request_ip": requestIP},
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return apperrors.System(err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditEntry{
		UserID:    &user.ID,
		DeviceID:  &deviceID,
		EventType: models.AuditRecoveryRequested,
		Meta:      models.Metadata{"ticket_id": ticket.ID.String()},
	})

	// Токен уходит только в канал доставки, наружу он не возвращается.
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, events.StreamWallet, events.Event{
			Type: events.EventRecoveryRequested,
			Payload: map[string]any{
				"user_id":    user.ID.String(),
				"email":      user.Email,
				"ticket_id":  ticket.ID.String(),
				"token":      token,
				"expires_at": ticket.ExpiresAt.UTC().Format(time.RFC3339),
			},
		}); err != nil {
			s.log.Warn("publish recovery event", zap.Error(err))
		}
	}
	return nil
}

// ApproveInput carries everything the caller presents with the token.
// DeviceKeySignature covers the canonical device-auth message and is
// mandatory once the device has a registered device key.
type ApproveInput struct {
	UserID             uuid.UUID
	DeviceID           string
	SessionID          string
	Token              string
	TimestampMS        int64
	DeviceKeySignature string
	Codes              twofactor.Codes
}

// Approve redeems a PENDING ticket. All token failures collapse into a
// single error code so the caller learns nothing about why.
func (s *RecoveryService) Approve(ctx context.Context, in ApproveInput) (*models.RecoveryTicket, error) {
	lookup, err := s.minter.Validate(in.Token)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeInvalidOrExpiredToken, "invalid or expired recovery token")
	}

	ticket, err := s.tickets.GetByLookup(ctx, lookup)
	if err != nil {
		return nil, apperrors.System(err)
	}
	if ticket == nil || ticket.UserID != in.UserID ||
		ticket.Status != models.TicketStatusPending || ticket.IsExpired(s.now()) {
		return nil, apperrors.New(apperrors.CodeInvalidOrExpiredToken, "invalid or expired recovery token")
	}
	if ticket.DeviceID != in.DeviceID {
		return nil, apperrors.New(apperrors.CodeDeviceMismatch, "ticket was opened for a different device")
	}

	device, err := s.devices.Get(ctx, in.UserID, in.DeviceID)
	if err != nil {
		return nil, apperrors.System(err)
	}
	if device != nil && device.DeviceKey != nil && *device.DeviceKey != "" {
		if err := s.verifyDeviceKey(device, in); err != nil {
			return nil, err
		}
	}

	sec, err := s.security.Get(ctx, in.UserID)
	if err != nil {
		return nil, apperrors.System(err)
	}
	if sec != nil && sec.TwoFactorEnabled {
		ok, err := s.verifier.Verify(ctx, in.UserID, in.Codes)
		if err != nil {
			return nil, apperrors.System(err)
		}
		if !ok {
			return nil, apperrors.New(apperrors.CodeTwoFactorRequired, "second factor required to approve recovery")
		}
	}

	// CAS: ровно одно успешное погашение на тикет.
	used, err := s.tickets.MarkUsed(ctx, ticket.ID)
	if err != nil {
		return nil, apperrors.System(err)
	}
	if !used {
		return nil, apperrors.New(apperrors.CodeInvalidOrExpiredToken, "invalid or expired recovery token")
	}

	recoveredAt := s.now().UTC().Format(time.RFC3339)
	if _, err := s.devices.MarkRecovered(ctx, in.UserID, in.DeviceID, models.Metadata{
		models.DeviceMetaRecovered:   true,
		models.DeviceMetaRecoveredAt: recoveredAt,
		"recovery_ticket_id":         ticket.ID.String(),
	}); err != nil {
		return nil, apperrors.System(err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditEntry{
		UserID:    &in.UserID,
		DeviceID:  &in.DeviceID,
		EventType: models.AuditRecoveryApproved,
		Meta:      models.Metadata{"ticket_id": ticket.ID.String()},
	})

	now := s.now()
	ticket.Status = models.TicketStatusUsed
	ticket.UsedAt = &now
	return ticket, nil
}

func (s *RecoveryService) verifyDeviceKey(device *models.UserDevice, in ApproveInput) error {
	if in.DeviceKeySignature == "" {
		return apperrors.New(apperrors.CodeDeviceKeySignatureRequired, "device key signature is required for this device")
	}

	skew := s.now().UnixMilli() - in.TimestampMS
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Millisecond > s.cfg.MaxSignatureAge {
		return apperrors.New(apperrors.CodeInvalidDeviceKeySignature, "device key signature has expired")
	}

	pub, err := crypto.ParsePublicKey(*device.DeviceKey)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidDeviceKeySignature, "stored device key is unusable", err)
	}
	msg, err := canonical.BuildDeviceAuthMessage(in.UserID.String(), in.DeviceID, in.SessionID, in.TimestampMS)
	if err != nil {
		return err
	}
	if err := crypto.VerifySignature(pub, msg, in.DeviceKeySignature); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidDeviceKeySignature, "device key signature verification failed", err)
	}
	return nil
}

// Finalize confirms a USED ticket from the recovered device. The caller is
// already authenticated, so the ticket is addressed by id rather than by the
// one-time token, which is spent at approval. Idempotent: repeating the call
// inside the window succeeds without side effects.
func (s *RecoveryService) Finalize(ctx context.Context, userID uuid.UUID, deviceID string, ticketID uuid.UUID) error {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return apperrors.System(err)
	}
	if ticket == nil || ticket.UserID != userID || ticket.Status != models.TicketStatusUsed || ticket.UsedAt == nil {
		return apperrors.New(apperrors.CodeInvalidOrExpiredToken, "invalid or expired recovery ticket")
	}
	if ticket.DeviceID != deviceID {
		return apperrors.New(apperrors.CodeDeviceMismatch, "ticket was opened for a different device")
	}
	if s.now().Sub(*ticket.UsedAt) > s.cfg.RecoveryFinalizeWindow {
		return apperrors.New(apperrors.CodeInvalidOrExpiredToken, "finalize window has passed")
	}

	finalizedAt := s.now().UTC().Format(time.RFC3339)
	if err := s.tickets.MergeMetadata(ctx, ticket.ID, models.Metadata{"finalized_at": finalizedAt}); err != nil {
		return apperrors.System(err)
	}
	if err := s.devices.MergeMetadata(ctx, userID, deviceID, models.Metadata{
		models.DeviceMetaFinalizedAt: finalizedAt,
	}); err != nil {
		return apperrors.System(err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditEntry{
		UserID:    &userID,
		DeviceID:  &deviceID,
		EventType: models.AuditRecoveryFinalized,
		Meta:      models.Metadata{"ticket_id": ticket.ID.String()},
	})
	return nil
}

// Sweep переводит протухшие PENDING-тикеты в EXPIRED и чистит терминальные
// тикеты старше периода хранения. Вызывается фоновым воркером.
func (s *RecoveryService) Sweep(ctx context.Context) error {
	expired, err := s.tickets.ExpirePending(ctx)
	if err != nil {
		return err
	}
	purged, err := s.tickets.PurgeOlderThan(ctx, s.now().Add(-s.cfg.RecoveryRetention))
	if err != nil {
		return err
	}
	if expired > 0 || purged > 0 {
		s.log.Info("recovery sweep", zap.Int64("expired", expired), zap.Int64("purged", purged))
	}
	return nil
}
