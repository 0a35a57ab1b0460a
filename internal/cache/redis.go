package cache

import (
	"context"
	"errors"
	"keywords/internal/config"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Cache is a prefixed byte store with expiry
type Cache interface {
	// Get returns ErrCacheMiss when the key is absent
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value; a zero ttl keeps it until deleted
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// ErrCacheMiss is returned when a key is not found in the cache
var ErrCacheMiss = errors.New("cache miss")

// RedisCache implements Cache and owns the client shared by the progress store
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects and verifies the connection with a ping
func NewRedisCache(config config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Error().Err(err).Str("address", config.Address).Msg("Failed to connect to Redis")
		client.Close()
		return nil, err
	}

	log.Info().
		Str("address", config.Address).
		Str("prefix", config.Prefix).
		Int("db", config.DB).
		Msg("Redis cache initialized successfully")

	return NewRedisCacheFromClient(client, config.Prefix), nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) formatKey(key string) string {
	return c.prefix + ":" + key
}

// observe logs a finished command at Debug, or at Error when it failed
func observe(op, key string, start time.Time, err error, fields func(e *zerolog.Event)) {
	event := log.Debug()
	if err != nil {
		event = log.Error().Err(err)
	}
	event = event.Str("op", op).Str("key", key).Dur("duration", time.Since(start))
	if fields != nil {
		fields(event)
	}
	if err != nil {
		event.Msg("Redis command failed")
		return
	}
	event.Msg("Redis command completed")
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	key = c.formatKey(key)
	start := time.Now()

	result, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		observe("get", key, start, nil, func(e *zerolog.Event) { e.Bool("hit", false) })
		return nil, ErrCacheMiss
	}

	observe("get", key, start, err, func(e *zerolog.Event) { e.Bool("hit", err == nil).Int("size", len(result)) })
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	key = c.formatKey(key)
	start := time.Now()

	err := c.client.Set(ctx, key, value, ttl).Err()
	observe("set", key, start, err, func(e *zerolog.Event) { e.Int("size", len(value)).Dur("ttl", ttl) })
	return err
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	key = c.formatKey(key)
	start := time.Now()

	err := c.client.Del(ctx, key).Err()
	observe("del", key, start, err, nil)
	return err
}

func (c *RedisCache) Ping(ctx context.Context) error {
	start := time.Now()

	err := c.client.Ping(ctx).Err()
	observe("ping", "", start, err, nil)
	return err
}

func (c *RedisCache) Close() error {
	log.Info().Msg("Closing Redis cache connection")
	return c.client.Close()
}
