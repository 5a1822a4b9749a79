package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/tilerush/backend/internal/config"
	"github.com/tilerush/backend/internal/db"
	"github.com/tilerush/backend/internal/events"
)

// Notify Bridge подписывается на события кошелька и пересылает их в
// сервис доставки (email/SMS/push). Токены восстановления и OTP-коды
// существуют только на этом пути.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)

	log.Info("notify-bridge started")

	_ = subscriber.Subscribe(ctx, events.StreamWallet, func(event events.Event) {
		switch event.Type {
		case events.EventRecoveryRequested, events.EventSecurityAlert:
			log.Info("forwarding event", zap.String("type", event.Type))
			forward(cfg.NotifyInternalURL, event, log)
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}

func forward(baseURL string, event events.Event, log *zap.Logger) {
	body, err := json.Marshal(map[string]any{
		"type":    event.Type,
		"payload": event.Payload,
	})
	if err != nil {
		return
	}

	url := fmt.Sprintf("%s/internal/notify", strings.TrimRight(baseURL, "/"))
	resp, err := http.Post(url, "application/json", strings.NewReader(string(body)))
	if err != nil {
		log.Warn("failed to forward notification", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Warn("delivery service rejected notification", zap.Int("status", resp.StatusCode))
	}
}
