package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// RedisConfig holds configuration for the Redis client.
type RedisConfig struct {
	Addr     string `yaml:"addr"`     // e.g., "localhost:6379"
	Password string `yaml:"password"` // Leave empty if no password
	DB       int    `yaml:"db"`
	// KeyPrefix namespaces the repository, e.g. "shipments".
	KeyPrefix string `yaml:"key_prefix"`
	// TTL expires stored items; zero keeps them forever.
	TTL time.Duration `yaml:"ttl"`
}

// RedisRepository implements Repository on Redis, storing each item as a JSON
// string under "<prefix>:<key>".
type RedisRepository[T any] struct {
	client     *redis.Client
	ownsClient bool
	prefix     string
	ttl        time.Duration
	logger     zerolog.Logger
}

// NewRedisRepository connects to Redis and verifies the connection.
func NewRedisRepository[T any](ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisRepository[T], error) {
	if cfg == nil {
		return nil, errors.New("redis config cannot be nil")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis for repository")

	r := NewRedisRepositoryWithClient[T](rdb, cfg.KeyPrefix, cfg.TTL, logger)
	r.ownsClient = true
	return r, nil
}

// NewRedisRepositoryWithClient uses an existing client, which Close leaves open.
func NewRedisRepositoryWithClient[T any](client *redis.Client, prefix string, ttl time.Duration, logger zerolog.Logger) *RedisRepository[T] {
	if prefix == "" {
		prefix = "items"
	}
	return &RedisRepository[T]{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With().Str("component", "RedisRepository").Str("prefix", prefix).Logger(),
	}
}

func (r *RedisRepository[T]) key(k string) string {
	return r.prefix + ":" + k
}

func (r *RedisRepository[T]) Save(ctx context.Context, key string, item T) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.key(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store item %s in redis: %w", key, err)
	}
	r.logger.Debug().Str("key", key).Msg("Item stored in Redis.")
	return nil
}

func (r *RedisRepository[T]) Get(ctx context.Context, key string) (T, error) {
	var item T
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return item, NotFoundError{Key: key}
	}
	if err != nil {
		return item, fmt.Errorf("failed to read item %s from redis: %w", key, err)
	}
	if err := json.Unmarshal(data, &item); err != nil {
		return item, fmt.Errorf("failed to unmarshal item %s: %w", key, err)
	}
	return item, nil
}

// Keys scans the prefix and returns the keys without it, sorted. SCAN may
// yield a key more than once, so results are de-duplicated.
func (r *RedisRepository[T]) Keys(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	iter := r.client.Scan(ctx, 0, r.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		seen[strings.TrimPrefix(iter.Val(), r.prefix+":")] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan redis keys: %w", err)
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *RedisRepository[T]) Count(ctx context.Context) (int, error) {
	keys, err := r.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Close closes the Redis client if the repository created it.
func (r *RedisRepository[T]) Close() error {
	if r.ownsClient && r.client != nil {
		r.logger.Info().Msg("Closing Redis client connection...")
		return r.client.Close()
	}
	return nil
}
