package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLeasePrefix = "billing:lease:"

// releaseScript deletes the key only when it still carries our owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisJobLease implements JobLease using Redis SETNX, shared by every replica.
type RedisJobLease struct {
	client    *redis.Client
	keyPrefix string
	owner     string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisJobLease connects to Redis and verifies the connection.
func NewRedisJobLease(cfg RedisConfig) (*RedisJobLease, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisJobLeaseWithClient(client, ""), nil
}

// NewRedisJobLeaseWithClient creates a lease on an existing client.
func NewRedisJobLeaseWithClient(client *redis.Client, keyPrefix string) *RedisJobLease {
	if keyPrefix == "" {
		keyPrefix = defaultLeasePrefix
	}
	return &RedisJobLease{
		client:    client,
		keyPrefix: keyPrefix,
		owner:     uuid.NewString(),
	}
}

// Acquire sets the key if absent with the given TTL.
func (l *RedisJobLease) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.keyPrefix+key, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	return ok, nil
}

// Release deletes the key if this process still owns it.
func (l *RedisJobLease) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.keyPrefix + key}, l.owner).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis client
func (l *RedisJobLease) Close() error {
	return l.client.Close()
}

var _ JobLease = (*RedisJobLease)(nil)
