package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/delegation-service/internal/config"
	"github.com/delegation-service/internal/logging"
	"github.com/delegation-service/internal/models"
)

const lockKeyPrefix = "delegation:connect-lock:"

// releaseScript deletes the lock only if it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisClient creates a Redis connection and verifies it with a ping
func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		MaxRetries:   1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisKeyLocker serializes work on an address across service replicas using
// SET NX PX. When Redis cannot be reached it degrades to the local locker.
type RedisKeyLocker struct {
	client         *redis.Client
	ttl            time.Duration
	wait           time.Duration
	pollInterval   time.Duration
	attemptTimeout time.Duration // bound on a single SET NX round trip
	fallback       *LocalKeyLocker
	logger         *logging.Logger
}

// NewRedisKeyLocker creates a distributed key locker
func NewRedisKeyLocker(client *redis.Client, ttl, wait time.Duration) *RedisKeyLocker {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisKeyLocker{
		client:         client,
		ttl:            ttl,
		wait:           wait,
		pollInterval:   25 * time.Millisecond,
		attemptTimeout: 500 * time.Millisecond,
		fallback:       NewLocalKeyLocker(),
		logger:         logging.GetGlobalLogger().WithField("component", "redis_key_locker"),
	}
}

// Lock acquires the key or fails with ErrLockTimeout when another holder
// keeps it for the configured wait or ctx ends. Any Redis error switches to
// the in-process locker for this call.
func (l *RedisKeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := lockKeyPrefix + models.AddressKey(key)
	token := uuid.New().String()

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		attemptCtx, cancelAttempt := context.WithTimeout(ctx, l.attemptTimeout)
		ok, err := l.client.SetNX(attemptCtx, redisKey, token, l.ttl).Result()
		cancelAttempt()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrLockTimeout
			}
			l.logger.WithError(err).Warn("redis lock unavailable, using in-process lock")
			return l.fallback.Lock(waitCtx, key)
		}
		if ok {
			return func() {
				releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer releaseCancel()
				if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
					l.logger.WithError(err).Warn("failed to release redis lock")
				}
			}, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, ErrLockTimeout
		case <-ticker.C:
		}
	}
}
