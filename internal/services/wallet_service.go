package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tilerush/backend/internal/apperrors"
	"github.com/tilerush/backend/internal/config"
	"github.com/tilerush/backend/internal/events"
	"github.com/tilerush/backend/internal/models"
)

const firstPageSize = 20

// Атомарный сторадж леджера. Интерфейс позволяет тестировать сервис на
// in-memory реализации.
type walletLedger interface {
	Spend(ctx context.Context, userID uuid.UUID, amount int64, meta models.Metadata) (*models.WalletTransaction, error)
	Transfer(ctx context.Context, fromUserID, toUserID uuid.UUID, amount int64, metaOut, metaIn models.Metadata) (*models.WalletTransaction, *models.WalletTransaction, error)
	AddTokens(ctx context.Context, userID uuid.UUID, amount int64, meta models.Metadata) (*models.WalletTransaction, error)
	GetAccount(ctx context.Context, userID uuid.UUID) (*models.WalletAccount, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.WalletTransaction, error)
}

type recipientSource interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Fail-open кеш: провал чтения эквивалентен промаху.
type walletReadCache interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, bool)
	SetBalance(ctx context.Context, userID uuid.UUID, balance int64)
	GetTransactions(ctx context.Context, userID uuid.UUID) ([]models.WalletTransaction, bool)
	SetTransactions(ctx context.Context, userID uuid.UUID, txs []models.WalletTransaction)
	Invalidate(ctx context.Context, userID uuid.UUID)
}

// WalletService — ядро леджера. Все мутации атомарны на уровне стораджа;
// сервис добавляет валидацию, инвалидацию кеша, аудит и нотификации.
type WalletService struct {
	walletRepo walletLedger
	userRepo   recipientSource
	auditRepo  auditSink
	cache      walletReadCache
	publisher  events.Publisher
	notifier   *NotifierClient
	cfg        *config.Config
	log        *zap.Logger
}

func NewWalletService(
	walletRepo walletLedger,
	userRepo recipientSource,
	auditRepo auditSink,
	walletCache walletReadCache,
	publisher events.Publisher,
	notifier *NotifierClient,
	cfg *config.Config,
	log *zap.Logger,
) *WalletService {
	return &WalletService{
		walletRepo: walletRepo,
		userRepo:   userRepo,
		auditRepo:  auditRepo,
		cache:      walletCache,
		publisher:  publisher,
		notifier:   notifier,
		cfg:        cfg,
		log:        log,
	}
}

// MutationResult is what every successful value-moving call returns.
type MutationResult struct {
	Balance       int64     `json:"balance"`
	TransactionID uuid.UUID `json:"transaction_id"`
}

func (s *WalletService) validateAmount(amount int64) error {
	if amount <= 0 {
		return apperrors.New(apperrors.CodeInvalidAmount, "amount must be positive")
	}
	if amount > s.cfg.WalletMaxAmount {
		return apperrors.New(apperrors.CodeInvalidAmount, "amount exceeds the single-operation maximum")
	}
	return nil
}

func (s *WalletService) Spend(ctx context.Context, userID uuid.UUID, amount int64, meta models.Metadata) (*MutationResult, error) {
	if err := s.validateAmount(amount); err != nil {
		return nil, err
	}

	wt, err := s.walletRepo.Spend(ctx, userID, amount, meta)
	if err != nil {
		return nil, s.wrapStoreErr(err)
	}

	s.afterMutation(ctx, models.AuditWalletSpend, wt)
	return &MutationResult{Balance: wt.BalanceAfter, TransactionID: wt.ID}, nil
}

func (s *WalletService) Transfer(ctx context.Context, fromUserID, toUserID uuid.UUID, amount int64, meta models.Metadata) (*MutationResult, error) {
	if err := s.validateAmount(amount); err != nil {
		return nil, err
	}
	if fromUserID == toUserID {
		return nil, apperrors.New(apperrors.CodeInvalidTransfer, "cannot transfer to yourself")
	}
	exists, err := s.userRepo.Exists(ctx, toUserID)
	if err != nil {
		return nil, apperrors.System(err)
	}
	if !exists {
		return nil, apperrors.New(apperrors.CodeInvalidTransfer, "recipient does not exist")
	}

	// Обе строки получают коррелирующие метаданные с контрагентом.
	correlationID := uuid.New()
	metaOut := mergeMeta(meta, models.Metadata{
		"counterparty_user_id": toUserID.String(),
		"correlation_id":       correlationID.String(),
	})
	metaIn := mergeMeta(meta, models.Metadata{
		"counterparty_user_id": fromUserID.String(),
		"correlation_id":       correlationID.String(),
	})

	outTx, inTx, err := s.walletRepo.Transfer(ctx, fromUserID, toUserID, amount, metaOut, metaIn)
	if err != nil {
		return nil, s.wrapStoreErr(err)
	}

	s.afterMutation(ctx, models.AuditWalletTransfer, outTx)
	s.afterMutation(ctx, "", inTx) // recipient: cache + event only, one audit row per transfer
	return &MutationResult{Balance: outTx.BalanceAfter, TransactionID: outTx.ID}, nil
}

// AddTokens is a no-op for non-positive amounts; the reward path never
// fails a grant on validation.
func (s *WalletService) AddTokens(ctx context.Context, userID uuid.UUID, amount int64, meta models.Metadata) (*MutationResult, error) {
	if amount <= 0 {
		return nil, nil
	}
	if amount > s.cfg.WalletMaxAmount {
		return nil, apperrors.New(apperrors.CodeInvalidAmount, "amount exceeds the single-operation maximum")
	}

	wt, err := s.walletRepo.AddTokens(ctx, userID, amount, meta)
	if err != nil {
		return nil, s.wrapStoreErr(err)
	}

	s.afterMutation(ctx, models.AuditWalletReward, wt)
	return &MutationResult{Balance: wt.BalanceAfter, TransactionID: wt.ID}, nil
}

// GetBalance serves from cache when possible and always falls through to
// the store on miss or cache failure.
func (s *WalletService) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if balance, ok := s.cache.GetBalance(ctx, userID); ok {
		return balance, nil
	}

	account, err := s.walletRepo.GetAccount(ctx, userID)
	if err != nil {
		return 0, apperrors.System(err)
	}
	s.cache.SetBalance(ctx, userID, account.Balance)
	return account.Balance, nil
}

func (s *WalletService) GetTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.WalletTransaction, error) {
	firstPage := offset == 0 && (limit == 0 || limit == firstPageSize)
	if firstPage {
		if txs, ok := s.cache.GetTransactions(ctx, userID); ok {
			return txs, nil
		}
	}

	txs, err := s.walletRepo.ListTransactions(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.System(err)
	}
	if firstPage {
		s.cache.SetTransactions(ctx, userID, txs)
	}
	return txs, nil
}

// afterMutation runs the post-commit tail of every successful write:
// cache invalidation before returning, then audit and fire-and-forget
// notifications. None of these can fail the ledger call.
func (s *WalletService) afterMutation(ctx context.Context, auditEvent string, wt *models.WalletTransaction) {
	s.cache.Invalidate(ctx, wt.UserID)

	if auditEvent != "" {
		_ = s.auditRepo.Log(ctx, models.AuditEntry{
			UserID:    &wt.UserID,
			EventType: auditEvent,
			Meta: models.Metadata{
				"transaction_id": wt.ID.String(),
				"type":           wt.Type,
				"amount":         wt.Amount,
				"balance_after":  wt.BalanceAfter,
			},
		})
	}

	_ = s.publisher.Publish(ctx, events.StreamWallet, events.Event{
		Type: events.EventBalanceChanged,
		Payload: map[string]any{
			"user_id":        wt.UserID.String(),
			"transaction_id": wt.ID.String(),
			"type":           wt.Type,
			"balance":        wt.BalanceAfter,
		},
	})

	if s.notifier != nil {
		userID, kind := wt.UserID, wt.Type
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = s.notifier.Notify(nctx, userID, "wallet_"+kind, map[string]any{
				"balance": wt.BalanceAfter,
			})
		}()
	}
}

func (s *WalletService) wrapStoreErr(err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.System(err)
}

func mergeMeta(base, extra models.Metadata) models.Metadata {
	out := models.Metadata{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
