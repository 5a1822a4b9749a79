package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tilerush/backend/internal/guard"
	"github.com/tilerush/backend/internal/http/dto"
	"github.com/tilerush/backend/internal/middleware"
	"github.com/tilerush/backend/internal/services"
	"github.com/tilerush/backend/internal/twofactor"
)

type WalletHandler struct {
	operations *services.OperationService
	wallet     *services.WalletService
	log        *zap.Logger
}

func NewWalletHandler(operations *services.OperationService, wallet *services.WalletService, log *zap.Logger) *WalletHandler {
	return &WalletHandler{operations: operations, wallet: wallet, log: log}
}

// Operate принимает подписанный конверт операции. Коды второго фактора
// идут заголовками, не телом: тело подписано целиком и менять его нельзя.
// POST /wallet/operations
func (h *WalletHandler) Operate(c *fiber.Ctx) error {
	var req dto.SignedOperationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	outcome, err := h.operations.Execute(c.Context(), services.SignedOperation{
		Guard: guard.Request{
			UserID:          middleware.GetUserID(c),
			DeviceID:        c.Get("X-Device-ID"),
			SessionDeviceID: middleware.GetSessionDeviceID(c),
			SessionID:       req.SessionID,
			Operation:       req.Operation,
			SignatureB64:    req.Signature,
			TimestampMS:     req.TimestampMS,
			Nonce:           req.Nonce,
			Body:            req.Body,
			RequestIP:       c.IP(),
		},
		Codes: twofactor.Codes{
			TOTP:     c.Get("X-TOTP-Code"),
			EmailOTP: c.Get("X-Email-OTP"),
			SMSOTP:   c.Get("X-SMS-OTP"),
		},
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: outcome})
}

// GetBalance возвращает баланс; первый промах кеша идёт в сторадж.
// GET /wallet/balance
func (h *WalletHandler) GetBalance(c *fiber.Ctx) error {
	balance, err := h.wallet.GetBalance(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.BalanceResponse{Balance: balance}})
}

// GetTransactions отдаёт историю от новых к старым.
// GET /wallet/transactions?limit=&offset=
func (h *WalletHandler) GetTransactions(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	if limit < 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	txs, err := h.wallet.GetTransactions(c.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: txs})
}
