package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tilerush/backend/internal/config"
	"github.com/tilerush/backend/internal/http/handlers"
	"github.com/tilerush/backend/internal/middleware"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	walletHandler *handlers.WalletHandler,
	securityHandler *handlers.SecurityHandler,
	recoveryHandler *handlers.RecoveryHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-Device-ID, X-TOTP-Code, X-Email-OTP, X-SMS-OTP",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Session issuance (public)
	api.Post("/auth/session", authHandler.Session)

	// Recovery entry point is public and tightly rate-limited: it is the
	// unauthenticated surface of the whole core.
	recoveryPublic := api.Group("/recovery", middleware.RateLimitMiddleware(rdb, 10, time.Minute))
	recoveryPublic.Post("/request", recoveryHandler.Request)

	// Rate-limited public endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Wallet
	protected.Post("/wallet/operations", walletHandler.Operate)
	protected.Get("/wallet/balance", walletHandler.GetBalance)
	protected.Get("/wallet/transactions", walletHandler.GetTransactions)

	// Security settings and device registry
	protected.Get("/security/settings", securityHandler.GetSettings)
	protected.Post("/security/devices", securityHandler.RegisterDevice)
	protected.Get("/security/devices", securityHandler.ListDevices)
	protected.Delete("/security/devices/:device_id", securityHandler.RevokeDevice)
	protected.Put("/security/devices/:device_id/key", securityHandler.SetDeviceKey)
	protected.Post("/security/totp/enroll", securityHandler.BeginTOTP)
	protected.Post("/security/totp/confirm", securityHandler.ConfirmTOTP)
	protected.Post("/security/methods", securityHandler.EnableMethod)
	protected.Post("/security/otp/issue", securityHandler.IssueOTP)
	protected.Post("/security/seed-backup/ack", securityHandler.AcknowledgeSeedBackup)

	// Recovery ticket redemption
	protected.Post("/recovery/approve", recoveryHandler.Approve)
	protected.Post("/recovery/finalize", recoveryHandler.Finalize)

	// WebSocket event stream
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
