package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tilerush/backend/internal/cache"
	"github.com/tilerush/backend/internal/config"
	"github.com/tilerush/backend/internal/crypto"
	"github.com/tilerush/backend/internal/db"
	"github.com/tilerush/backend/internal/events"
	"github.com/tilerush/backend/internal/guard"
	apphttp "github.com/tilerush/backend/internal/http"
	"github.com/tilerush/backend/internal/http/handlers"
	"github.com/tilerush/backend/internal/repositories"
	"github.com/tilerush/backend/internal/services"
	"github.com/tilerush/backend/internal/twofactor"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	walletRepo := repositories.NewWalletRepo(pool)
	deviceRepo := repositories.NewDeviceRepo(pool)
	securityRepo := repositories.NewSecurityRepo(pool)
	recoveryRepo := repositories.NewRecoveryRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Crypto
	var cipher *crypto.SecretCipher
	if len(cfg.MasterEncryptionKey) >= 32 {
		cipher, err = crypto.NewSecretCipher([]byte(cfg.MasterEncryptionKey))
		if err != nil {
			log.Fatal("failed to init secret cipher", zap.Error(err))
		}
	}
	minter := crypto.NewTokenMinter([]byte(cfg.TokenHMACSecret))

	// Two-factor
	otpStore := twofactor.NewRedisOTPStore(rdb)
	verifier := twofactor.NewVerifier(securityRepo, otpStore, cipher, twofactor.Options{
		OTPTTL:     cfg.OTPTTL,
		TOTPSkew:   cfg.TOTPSkew,
		TOTPPeriod: cfg.TOTPPeriod,
	}, log)

	// Services
	walletCache := cache.NewWalletCache(rdb, cfg.BalanceCacheTTL, cfg.TxCacheTTL, log)
	notifier := services.NewNotifierClient(cfg.NotifyInternalURL, log)
	walletService := services.NewWalletService(walletRepo, userRepo, auditRepo, walletCache, publisher, notifier, cfg, log)

	opGuard := guard.New(deviceRepo, securityRepo, auditRepo, cfg.MaxSignatureAge, log)
	operationService := services.NewOperationService(opGuard, verifier, walletService, auditRepo, cfg, log)
	securityService := services.NewSecurityService(securityRepo, deviceRepo, userRepo, auditRepo, verifier, cipher, publisher, cfg, log)
	recoveryService := services.NewRecoveryService(recoveryRepo, deviceRepo, userRepo, securityRepo, auditRepo, verifier, minter, publisher, cfg, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(userRepo, securityService, cfg, log)
	walletHandler := handlers.NewWalletHandler(operationService, walletService, log)
	securityHandler := handlers.NewSecurityHandler(securityService, log)
	recoveryHandler := handlers.NewRecoveryHandler(recoveryService, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, walletHandler, securityHandler, recoveryHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
