package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/stock-billing/internal/core/domain"
)

const (
	productKeyPrefix = "product:"
	lockKeyPrefix    = "debit-lock:"
	productCacheTTL  = 5 * time.Minute
	defaultLockTTL   = 30 * time.Second
	lockPollInterval = 20 * time.Millisecond
)

// releaseLockScript deletes the lock only while it still holds our token,
// so an expired lock taken over by another process is left alone.
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisAdapter caches product reads and provides a cross-process lock per
// idempotency key.
type RedisAdapter struct {
	client  *redis.Client
	lockTTL time.Duration
	logger  *zap.Logger
}

type RedisOption func(*RedisAdapter)

func WithRedisLogger(logger *zap.Logger) RedisOption {
	return func(r *RedisAdapter) { r.logger = logger }
}

func NewRedisAdapter(client *redis.Client, opts ...RedisOption) *RedisAdapter {
	r := &RedisAdapter{client: client, lockTTL: defaultLockTTL, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func productKey(id int64) string {
	return productKeyPrefix + strconv.FormatInt(id, 10)
}

func (r *RedisAdapter) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	raw, err := r.client.Get(ctx, productKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p domain.Product
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode cached product: %w", err)
	}
	return &p, nil
}

func (r *RedisAdapter) SetProduct(ctx context.Context, p domain.Product) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, productKey(p.ID), raw, productCacheTTL).Err()
}

func (r *RedisAdapter) InvalidateProducts(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, productKey(id))
	}
	return r.client.Del(ctx, keys...).Err()
}

// Lock spins on SET NX until it owns key or ctx ends. The lock expires on
// its own after lockTTL so a crashed holder cannot wedge the key.
func (r *RedisAdapter) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := lockKeyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, lockKey, token, r.lockTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() { r.release(lockKey, token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *RedisAdapter) release(lockKey, token string) {
	deleted, err := releaseLockScript.Run(context.Background(), r.client, []string{lockKey}, token).Int()
	switch {
	case err != nil:
		r.logger.Warn("failed to release lock, left to expire",
			zap.String("lock_key", lockKey), zap.Duration("ttl", r.lockTTL), zap.Error(err))
	case deleted == 0:
		r.logger.Warn("lock expired before release", zap.String("lock_key", lockKey))
	}
}
