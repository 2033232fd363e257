package mutex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

const redisKeyPrefix = "order-mutex:"

// releaseScript удаляет ключ только если он всё ещё принадлежит владельцу токена.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis: распределённая блокировка через SET NX PX с токеном владельца.
type Redis struct {
	client redis.UniversalClient
	opts   options
}

var _ domain.OrderMutex = (*Redis)(nil)

// NewRedis создаёт блокировку поверх клиента go-redis.
func NewRedis(client redis.UniversalClient, opts ...Option) *Redis {
	return &Redis{client: client, opts: buildOptions("order_mutex_redis", opts)}
}

// WithLock захватывает ключ order-mutex:<id> на TTL. fn должна уложиться в TTL,
// иначе ключ истечёт и заказ может захватить другой процесс.
func (r *Redis) WithLock(ctx context.Context, orderID string, fn func(ctx context.Context) error) error {
	key := redisKeyPrefix + orderID
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.opts.ttl).Result()
	if err != nil {
		return lockFailed(r.opts, orderID, err)
	}
	if !ok {
		return lockFailed(r.opts, orderID, nil)
	}
	r.opts.metrics.LockAcquired()
	defer r.release(orderID, key, token)

	return fn(ctx)
}

func (r *Redis) release(orderID, key, token string) {
	// Снимаем даже если ctx вызова уже отменён.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	r.opts.metrics.LockReleased()
	if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		r.opts.logger.WithError(err).WithField("order_id", orderID).Warn("failed to release order lock")
	}
}

// Ping проверяет доступность Redis.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}
