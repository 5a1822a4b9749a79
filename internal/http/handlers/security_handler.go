package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tilerush/backend/internal/http/dto"
	"github.com/tilerush/backend/internal/middleware"
	"github.com/tilerush/backend/internal/models"
	"github.com/tilerush/backend/internal/services"
)

type SecurityHandler struct {
	security *services.SecurityService
	log      *zap.Logger
}

func NewSecurityHandler(security *services.SecurityService, log *zap.Logger) *SecurityHandler {
	return &SecurityHandler{security: security, log: log}
}

// GET /security/settings
func (h *SecurityHandler) GetSettings(c *fiber.Ctx) error {
	settings, err := h.security.GetSettings(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: settings})
}

// POST /security/devices
func (h *SecurityHandler) RegisterDevice(c *fiber.Ctx) error {
	var req dto.RegisterDeviceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if req.DeviceID == "" || req.PublicKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "device_id and public_key are required"})
	}

	var deviceKey *string
	if req.DeviceKey != "" {
		deviceKey = &req.DeviceKey
	}
	device, err := h.security.RegisterDevice(c.Context(), middleware.GetUserID(c), req.DeviceID, req.PublicKey, deviceKey, models.Metadata(req.Metadata))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: device})
}

// GET /security/devices
func (h *SecurityHandler) ListDevices(c *fiber.Ctx) error {
	devices, err := h.security.ListDevices(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: devices})
}

// DELETE /security/devices/:device_id
func (h *SecurityHandler) RevokeDevice(c *fiber.Ctx) error {
	deviceID := c.Params("device_id")
	if err := h.security.RevokeDevice(c.Context(), middleware.GetUserID(c), deviceID); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

// PUT /security/devices/:device_id/key
func (h *SecurityHandler) SetDeviceKey(c *fiber.Ctx) error {
	var req dto.SetDeviceKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if req.DeviceKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "device_key is required"})
	}
	if err := h.security.SetDeviceKey(c.Context(), middleware.GetUserID(c), c.Params("device_id"), req.DeviceKey); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

// BeginTOTP выдаёт секрет и otpauth-URL; метод включится только после
// подтверждения первым кодом.
// POST /security/totp/enroll
func (h *SecurityHandler) BeginTOTP(c *fiber.Ctx) error {
	enrollment, err := h.security.BeginTOTPEnrollment(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.TOTPEnrollmentResponse{
		Secret: enrollment.Secret,
		URL:    enrollment.URL,
	}})
}

// POST /security/totp/confirm
func (h *SecurityHandler) ConfirmTOTP(c *fiber.Ctx) error {
	var req dto.ConfirmTOTPRequest
	if err := c.BodyParser(&req); err != nil || req.Code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "code is required"})
	}
	if err := h.security.ConfirmTOTP(c.Context(), middleware.GetUserID(c), req.Code); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

// POST /security/methods
func (h *SecurityHandler) EnableMethod(c *fiber.Ctx) error {
	var req dto.EnableMethodRequest
	if err := c.BodyParser(&req); err != nil || req.Method == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "method is required"})
	}
	if err := h.security.EnableOTPMethod(c.Context(), middleware.GetUserID(c), req.Method); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

// IssueOTP кладёт одноразовый код в канал доставки. Сам код в ответ не
// попадает.
// POST /security/otp/issue
func (h *SecurityHandler) IssueOTP(c *fiber.Ctx) error {
	var req dto.EnableMethodRequest
	if err := c.BodyParser(&req); err != nil || req.Method == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "method is required"})
	}
	if err := h.security.IssueOTP(c.Context(), middleware.GetUserID(c), req.Method); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

// POST /security/seed-backup/ack
func (h *SecurityHandler) AcknowledgeSeedBackup(c *fiber.Ctx) error {
	if err := h.security.AcknowledgeSeedBackup(c.Context(), middleware.GetUserID(c)); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}
