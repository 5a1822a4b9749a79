package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tilerush/backend/internal/http/dto"
	"github.com/tilerush/backend/internal/middleware"
	"github.com/tilerush/backend/internal/services"
	"github.com/tilerush/backend/internal/twofactor"
)

type RecoveryHandler struct {
	recovery *services.RecoveryService
	log      *zap.Logger
}

func NewRecoveryHandler(recovery *services.RecoveryService, log *zap.Logger) *RecoveryHandler {
	return &RecoveryHandler{recovery: recovery, log: log}
}

// Request открывает тикет восстановления. Ответ всегда 200: существует
// email или нет, снаружи не различить. Единственное исключение — лимит
// на 24 часа, он возвращается явно.
// POST /recovery/request (public)
func (h *RecoveryHandler) Request(c *fiber.Ctx) error {
	var req dto.RecoveryRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if req.Email == "" || req.DeviceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "email and device_id are required"})
	}

	if err := h.recovery.Request(c.Context(), req.Email, req.DeviceID, c.IP()); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

// POST /recovery/approve
func (h *RecoveryHandler) Approve(c *fiber.Ctx) error {
	var req dto.RecoveryApproveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if req.Token == "" || req.DeviceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "token and device_id are required"})
	}

	ticket, err := h.recovery.Approve(c.Context(), services.ApproveInput{
		UserID:             middleware.GetUserID(c),
		DeviceID:           req.DeviceID,
		SessionID:          req.SessionID,
		Token:              req.Token,
		TimestampMS:        req.TimestampMS,
		DeviceKeySignature: req.DeviceKeySignature,
		Codes: twofactor.Codes{
			TOTP:     c.Get("X-TOTP-Code"),
			EmailOTP: c.Get("X-Email-OTP"),
			SMSOTP:   c.Get("X-SMS-OTP"),
		},
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: ticket})
}

// POST /recovery/finalize
func (h *RecoveryHandler) Finalize(c *fiber.Ctx) error {
	var req dto.RecoveryFinalizeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if req.TicketID == "" || req.DeviceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "ticket_id and device_id are required"})
	}
	ticketID, err := uuid.Parse(req.TicketID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "ticket_id must be a uuid"})
	}

	if err := h.recovery.Finalize(c.Context(), middleware.GetUserID(c), req.DeviceID, ticketID); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}
