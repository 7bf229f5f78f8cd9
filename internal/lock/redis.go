package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL   = 5 * time.Second
	pollInterval = 10 * time.Millisecond
	keyPrefix    = "procurement:lock:"
)

// releaseScript удаляет ключ, только если он все еще принадлежит владельцу.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// redisStore defines the operations used by Redis.
type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DeleteIfOwner(ctx context.Context, key, owner string) (bool, error)
}

// RedisClient адаптирует *redis.Client к redisStore.
type RedisClient struct {
	raw *redis.Client
}

// NewRedisClient подключается по URL вида redis://host:port/db и проверяет соединение.
func NewRedisClient(ctx context.Context, url string) (*RedisClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisClient{raw: raw}, nil
}

func (c *RedisClient) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	return c.raw.SetNX(ctx, key, value, ttl).Result()
}

func (c *RedisClient) DeleteIfOwner(ctx context.Context, key, owner string) (bool, error) {
	deleted, err := releaseScript.Run(ctx, c.raw, []string{key}, owner).Int()
	if err != nil {
		return false, err
	}
	return deleted == 1, nil
}

// Close закрывает соединение.
func (c *RedisClient) Close() error {
	return c.raw.Close()
}

// Redis - Locker, общий для нескольких экземпляров сервиса (SETNX + TTL).
// TTL ограничивает время жизни секции, если владелец упал, не освободив ее.
type Redis struct {
	client  redisStore
	ttl     time.Duration
	timeout time.Duration
}

// NewRedis создает Redis-локер.
func NewRedis(client redisStore, ttl, timeout time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Redis{client: client, ttl: ttl, timeout: timeout}, nil
}

// Acquire опрашивает SETNX, пока ключ не освободится или не выйдет таймаут.
func (l *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	key = keyPrefix + key
	owner := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, key, owner, l.ttl)
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("setnx: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrLockTimeout
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Освобождение не должно зависеть от отмененного контекста запроса.
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = l.release(releaseCtx, key, owner)
		})
	}, nil
}

// release удаляет ключ, только если им все еще владеет owner.
func (l *Redis) release(ctx context.Context, key, owner string) error {
	if _, err := l.client.DeleteIfOwner(ctx, key, owner); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
