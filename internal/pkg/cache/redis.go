package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

type RedisClient struct {
	client *redis.Client
}

func NewRedisClient(cfg *Config) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisClient{client: client}, nil
}

func (c *RedisClient) Close() error {
	return c.client.Close()
}

// AcquireLock takes the key with SETNX. The value identifies the holder so a
// slow caller cannot release a lock that expired and was re-acquired by
// someone else.
func (c *RedisClient) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

// releaseScript deletes the key only if it still holds our value.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0
`)

func (c *RedisClient) ReleaseLock(ctx context.Context, key, value string) error {
	return releaseScript.Run(ctx, c.client, []string{key}, value).Err()
}

// RedisLocker adapts the lock primitives above to lock.Locker for
// multi-instance deployments sharing one reservation database.
type RedisLocker struct {
	client  *RedisClient
	ttl     time.Duration
	retries int
	backoff time.Duration
}

func NewRedisLocker(client *RedisClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client:  client,
		ttl:     ttl,
		retries: 30,
		backoff: 100 * time.Millisecond,
	}
}

var ErrLockBusy = errors.New("lock busy, retries exhausted")

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	value := uuid.New().String()

	for i := 0; i < l.retries; i++ {
		ok, err := l.client.AcquireLock(ctx, key, value, l.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			release := func() {
				// Release with a fresh context so a cancelled caller still
				// frees the lock instead of waiting out the TTL.
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = l.client.ReleaseLock(rctx, key, value)
			}
			return release, nil
		}

		select {
		case <-time.After(l.backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, ErrLockBusy
}
