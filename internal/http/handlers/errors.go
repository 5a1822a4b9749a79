package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tilerush/backend/internal/apperrors"
	"github.com/tilerush/backend/internal/http/dto"
	"github.com/tilerush/backend/internal/middleware"
)

// httpStatus переводит код таксономии в HTTP-статус. Каждый отказ уходит
// клиенту со своим кодом, в generic 500 схлопывается только SystemError.
func httpStatus(code apperrors.Code) int {
	switch code {
	case apperrors.CodeInvalidAmount,
		apperrors.CodeInvalidTransfer,
		apperrors.CodeSignatureMalformed,
		apperrors.CodeDeviceIDRequired,
		apperrors.CodeEncodingError:
		return fiber.StatusBadRequest

	case apperrors.CodeSignatureExpired,
		apperrors.CodeInvalidSignature,
		apperrors.CodeMissingPublicKey,
		apperrors.CodeDeviceSessionMismatch,
		apperrors.CodeInvalidOrExpiredToken,
		apperrors.CodeInvalidDeviceKeySignature:
		return fiber.StatusUnauthorized

	case apperrors.CodeDeviceRevoked,
		apperrors.CodeDeviceMismatch,
		apperrors.CodeDeviceKeySignatureRequired,
		apperrors.CodeTwoFactorRequired:
		return fiber.StatusForbidden

	case apperrors.CodeWalletNotFound,
		apperrors.CodeDeviceNotFound:
		return fiber.StatusNotFound

	case apperrors.CodeReplayDetected:
		return fiber.StatusConflict

	case apperrors.CodeInsufficientFunds:
		return fiber.StatusPaymentRequired

	case apperrors.CodeRecoveryLimitReached:
		return fiber.StatusTooManyRequests

	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	code := apperrors.CodeOf(err)
	status := httpStatus(code)

	resp := dto.ErrorResponse{Code: string(code)}
	if reqID, ok := c.Locals(middleware.CtxRequestID).(string); ok {
		resp.RequestID = reqID
	}

	if status == fiber.StatusInternalServerError {
		log.Error("internal error", zap.Error(err), zap.String("path", c.Path()))
		resp.Error = "internal error"
	} else {
		resp.Error = err.Error()
	}
	return c.Status(status).JSON(resp)
}
