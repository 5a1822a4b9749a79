package services

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tilerush/backend/internal/apperrors"
	"github.com/tilerush/backend/internal/config"
	"github.com/tilerush/backend/internal/guard"
	"github.com/tilerush/backend/internal/models"
	"github.com/tilerush/backend/internal/risk"
	"github.com/tilerush/backend/internal/twofactor"
)

// Operations accepted on the signed path.
const (
	OpSpend           = "spend"
	OpTransfer        = "transfer"
	OpSimulatePayment = "simulate-payment"
)

// OperationService гонит подписанный запрос через весь конвейер:
// guard -> risk -> (step-up) -> ledger. Каждый отказ типизирован.
type OperationService struct {
	guard     *guard.Guard
	verifier  *twofactor.Verifier
	wallet    *WalletService
	auditRepo auditSink
	cfg       *config.Config
	log       *zap.Logger
}

func NewOperationService(
	g *guard.Guard,
	verifier *twofactor.Verifier,
	wallet *WalletService,
	auditRepo auditSink,
	cfg *config.Config,
	log *zap.Logger,
) *OperationService {
	return &OperationService{
		guard:     g,
		verifier:  verifier,
		wallet:    wallet,
		auditRepo: auditRepo,
		cfg:       cfg,
		log:       log,
	}
}

type SignedOperation struct {
	Guard guard.Request
	Codes twofactor.Codes
}

type OperationOutcome struct {
	Result     *MutationResult `json:"result"`
	Assessment risk.Assessment `json:"risk"`
}

func (s *OperationService) thresholds() risk.Thresholds {
	return risk.Thresholds{
		StepUpScore:   s.cfg.RiskStepUpThreshold,
		NewDeviceDays: s.cfg.RiskNewDeviceDays,
		RecoveryOps:   s.cfg.RiskRecoveryOps,
		HighAmount:    s.cfg.RiskHighAmount,
	}
}

func (s *OperationService) Execute(ctx context.Context, op SignedOperation) (*OperationOutcome, error) {
	authz, err := s.guard.Authorize(ctx, op.Guard)
	if err != nil {
		return nil, err
	}

	amount, err := amountFromBody(op.Guard.Body)
	if err != nil {
		return nil, err
	}

	assessment := risk.Evaluate(riskContext(authz, op.Guard.RequestIP, amount), s.thresholds())

	if assessment.RequireStepUp {
		userID := op.Guard.UserID
		_ = s.auditRepo.Log(ctx, models.AuditEntry{
			UserID:    &userID,
			DeviceID:  &op.Guard.DeviceID,
			EventType: models.AuditStepUpRequired,
			Meta:      models.Metadata{"score": assessment.Score, "factors": assessment.Factors},
		})

		ok, err := s.verifier.Verify(ctx, userID, op.Codes)
		if err != nil {
			return nil, apperrors.System(err)
		}
		if !ok {
			_ = s.auditRepo.Log(ctx, models.AuditEntry{
				UserID:    &userID,
				DeviceID:  &op.Guard.DeviceID,
				EventType: models.AuditStepUpFailed,
			})
			return nil, apperrors.New(apperrors.CodeTwoFactorRequired, "step-up verification required")
		}
		_ = s.auditRepo.Log(ctx, models.AuditEntry{
			UserID:    &userID,
			DeviceID:  &op.Guard.DeviceID,
			EventType: models.AuditStepUpPassed,
		})
	}

	result, err := s.dispatch(ctx, op, amount)
	if err != nil {
		return nil, err
	}
	return &OperationOutcome{Result: result, Assessment: assessment}, nil
}

func (s *OperationService) dispatch(ctx context.Context, op SignedOperation, amount int64) (*MutationResult, error) {
	userID := op.Guard.UserID
	body := op.Guard.Body

	switch op.Guard.Operation {
	case OpSpend:
		return s.wallet.Spend(ctx, userID, amount, models.Metadata{
			"operation": OpSpend,
			"device_id": op.Guard.DeviceID,
			"reason":    stringField(body, "reason"),
		})

	case OpTransfer:
		toUserID, err := uuid.Parse(stringField(body, "to_user_id"))
		if err != nil {
			return nil, apperrors.New(apperrors.CodeInvalidTransfer, "to_user_id is not a valid user id")
		}
		return s.wallet.Transfer(ctx, userID, toUserID, amount, models.Metadata{
			"operation": OpTransfer,
			"device_id": op.Guard.DeviceID,
			"note":      stringField(body, "note"),
		})

	case OpSimulatePayment:
		// Симулированный платёж — обычный spend с платёжными метаданными;
		// внешний провайдер не вызывается.
		return s.wallet.Spend(ctx, userID, amount, models.Metadata{
			"operation": OpSimulatePayment,
			"device_id": op.Guard.DeviceID,
			"simulated": true,
			"item":      stringField(body, "item"),
			"reference": stringField(body, "reference"),
		})

	default:
		return nil, apperrors.New(apperrors.CodeSignatureMalformed, "unsupported operation")
	}
}

func riskContext(authz *guard.Result, requestIP string, amount int64) risk.Context {
	rc := risk.Context{
		DeviceAgeDays:    authz.Device.AgeDays(time.Now()),
		DeviceRecovered:  authz.Device.IsRecovered(),
		OpsSinceRecovery: authz.Device.OpsSinceRecovery,
		RequestIP:        requestIP,
		Amount:           amount,
		SeedBackedUp:     authz.Security.SeedBackedUp,
	}
	if authz.Device.LastSeenIP != nil {
		rc.LastSeenIP = *authz.Device.LastSeenIP
	}
	return rc
}

// amountFromBody extracts the whole, positive token amount the request
// proposes to move. JSON numbers arrive as float64.
func amountFromBody(body map[string]any) (int64, error) {
	raw, ok := body["amount"]
	if !ok {
		return 0, apperrors.New(apperrors.CodeInvalidAmount, "amount is required")
	}

	switch v := raw.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return 0, apperrors.New(apperrors.CodeInvalidAmount, "amount must be a whole number")
		}
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, apperrors.New(apperrors.CodeInvalidAmount, "amount must be a number")
	}
}

func stringField(body map[string]any, key string) string {
	if body == nil {
		return ""
	}
	s, _ := body[key].(string)
	return s
}
