package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const keyPrefix = "restock:lock:"

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every process using the same Redis instance
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewRedis connects to Redis and verifies the connection
func NewRedis(ctx context.Context, addr, password string, db int, ttl time.Duration, log zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return NewRedisWithClient(client, ttl, log), nil
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(client *redis.Client, ttl time.Duration, log zerolog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Redis{
		client: client,
		ttl:    ttl,
		log:    log.With().Str("component", "redis_lock").Logger(),
	}
}

// TryLock implements Locker. The lock expires after the TTL if the holder dies.
func (r *Redis) TryLock(ctx context.Context, name string) (func(), error) {
	key := keyPrefix + name
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{key}, token).Err(); err != nil {
				r.log.Warn().Err(err).Str("lock", name).Msg("Failed to release lock")
			}
		})
	}, nil
}

// Close closes the Redis client
func (r *Redis) Close() error {
	return r.client.Close()
}
