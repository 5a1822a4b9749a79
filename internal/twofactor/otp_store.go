package twofactor

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// OTPStore holds short-lived email/SMS codes keyed by method+user.
type OTPStore interface {
	Put(ctx context.Context, method string, userID uuid.UUID, code string, ttl time.Duration) error
	Get(ctx context.Context, method string, userID uuid.UUID) (string, bool, error)
	Delete(ctx context.Context, method string, userID uuid.UUID) error
}

type RedisOTPStore struct {
	client *redis.Client
}

func NewRedisOTPStore(client *redis.Client) *RedisOTPStore {
	return &RedisOTPStore{client: client}
}

func otpKey(method string, userID uuid.UUID) string {
	return fmt.Sprintf("otp:%s:%s", method, userID)
}

func (s *RedisOTPStore) Put(ctx context.Context, method string, userID uuid.UUID, code string, ttl time.Duration) error {
	return s.client.Set(ctx, otpKey(method, userID), code, ttl).Err()
}

func (s *RedisOTPStore) Get(ctx context.Context, method string, userID uuid.UUID) (string, bool, error) {
	code, err := s.client.Get(ctx, otpKey(method, userID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return code, true, nil
}

func (s *RedisOTPStore) Delete(ctx context.Context, method string, userID uuid.UUID) error {
	return s.client.Del(ctx, otpKey(method, userID)).Err()
}

// GenerateCode returns a random 6-digit code with leading zeros preserved.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
