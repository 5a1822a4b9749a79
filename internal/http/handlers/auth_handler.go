package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tilerush/backend/internal/auth"
	"github.com/tilerush/backend/internal/config"
	"github.com/tilerush/backend/internal/http/dto"
	"github.com/tilerush/backend/internal/models"
	"github.com/tilerush/backend/internal/repositories"
	"github.com/tilerush/backend/internal/services"
)

type AuthHandler struct {
	userRepo        *repositories.UserRepo
	securityService *services.SecurityService
	cfg             *config.Config
	log             *zap.Logger
}

func NewAuthHandler(userRepo *repositories.UserRepo, securityService *services.SecurityService, cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{userRepo: userRepo, securityService: securityService, cfg: cfg, log: log}
}

// Session выпускает JWT, привязанный к девайсу. Если в запросе есть
// public_key, девайс сразу регистрируется в реестре.
// POST /auth/session
func (h *AuthHandler) Session(c *fiber.Ctx) error {
	var req dto.SessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if req.Email == "" || req.DeviceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "email and device_id are required"})
	}

	user, err := h.userRepo.GetByEmail(c.Context(), req.Email)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if user == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "unknown user"})
	}

	if req.PublicKey != "" {
		var deviceKey *string
		if req.DeviceKey != "" {
			deviceKey = &req.DeviceKey
		}
		meta := models.Metadata{"registered_via": "session"}
		if _, err := h.securityService.RegisterDevice(c.Context(), user.ID, req.DeviceID, req.PublicKey, deviceKey, meta); err != nil {
			return respondError(c, h.log, err)
		}
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, user.ID, req.DeviceID, h.cfg.JWTExpiration)
	if err != nil {
		return respondError(c, h.log, err)
	}

	_ = h.userRepo.UpdateLastActive(c.Context(), user.ID)
	return c.JSON(dto.SessionResponse{Token: token, User: user})
}
