package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tilerush/backend/internal/config"
	"github.com/tilerush/backend/internal/db"
	"github.com/tilerush/backend/internal/repositories"
)

// Sweeper переводит протухшие PENDING-тикеты восстановления в EXPIRED и
// удаляет терминальные тикеты старше периода хранения.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	recoveryRepo := repositories.NewRecoveryRepo(pool)

	log.Info("sweeper started", zap.Duration("interval", cfg.RecoverySweepInterval))

	ticker := time.NewTicker(cfg.RecoverySweepInterval)
	defer ticker.Stop()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down sweeper")
		cancel()
	}()

	sweep(ctx, recoveryRepo, cfg, log)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx, recoveryRepo, cfg, log)
		}
	}
}

func sweep(ctx context.Context, repo *repositories.RecoveryRepo, cfg *config.Config, log *zap.Logger) {
	expired, err := repo.ExpirePending(ctx)
	if err != nil {
		log.Error("expire pending tickets", zap.Error(err))
		return
	}
	purged, err := repo.PurgeOlderThan(ctx, time.Now().Add(-cfg.RecoveryRetention))
	if err != nil {
		log.Error("purge old tickets", zap.Error(err))
		return
	}
	if expired > 0 || purged > 0 {
		log.Info("recovery sweep", zap.Int64("expired", expired), zap.Int64("purged", purged))
	}
}
