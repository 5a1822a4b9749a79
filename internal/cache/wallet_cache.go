package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tilerush/backend/internal/models"
)

// WalletCache — read-through кеш баланса и первой страницы истории.
// Контракт fail-open: промах и ошибка Redis неразличимы для вызывающего
// (ok=false), чтение всегда может упасть на источник истины. Ошибки кеша
// никогда не валят операцию.
type WalletCache struct {
	client     *redis.Client
	balanceTTL time.Duration
	txTTL      time.Duration
	log        *zap.Logger
}

func NewWalletCache(client *redis.Client, balanceTTL, txTTL time.Duration, log *zap.Logger) *WalletCache {
	return &WalletCache{client: client, balanceTTL: balanceTTL, txTTL: txTTL, log: log}
}

func balanceKey(userID uuid.UUID) string { return fmt.Sprintf("wallet:balance:%s", userID) }
func txKey(userID uuid.UUID) string      { return fmt.Sprintf("wallet:txs:%s", userID) }

func (c *WalletCache) GetBalance(ctx context.Context, userID uuid.UUID) (int64, bool) {
	s, err := c.client.Get(ctx, balanceKey(userID)).Result()
	if err == redis.Nil {
		return 0, false
	}
	if err != nil {
		c.log.Debug("balance cache read failed", zap.Error(err))
		return 0, false
	}
	balance, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return balance, true
}

func (c *WalletCache) SetBalance(ctx context.Context, userID uuid.UUID, balance int64) {
	if err := c.client.Set(ctx, balanceKey(userID), strconv.FormatInt(balance, 10), c.balanceTTL).Err(); err != nil {
		c.log.Debug("balance cache write failed", zap.Error(err))
	}
}

// GetTransactions returns the cached first page of history.
func (c *WalletCache) GetTransactions(ctx context.Context, userID uuid.UUID) ([]models.WalletTransaction, bool) {
	data, err := c.client.Get(ctx, txKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.Debug("tx cache read failed", zap.Error(err))
		return nil, false
	}
	var txs []models.WalletTransaction
	if err := json.Unmarshal(data, &txs); err != nil {
		return nil, false
	}
	return txs, true
}

func (c *WalletCache) SetTransactions(ctx context.Context, userID uuid.UUID, txs []models.WalletTransaction) {
	data, err := json.Marshal(txs)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, txKey(userID), data, c.txTTL).Err(); err != nil {
		c.log.Debug("tx cache write failed", zap.Error(err))
	}
}

// Invalidate drops both entries for the user. Called by every successful
// mutation before it returns; failures are logged and swallowed.
func (c *WalletCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	if err := c.client.Del(ctx, balanceKey(userID), txKey(userID)).Err(); err != nil {
		c.log.Warn("cache invalidation failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
}
