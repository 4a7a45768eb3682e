package lookupcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

const keyPrefix = "tillscan:lookup:"

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis is a Redis-backed store shared between tills
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// NewRedis connects to Redis and verifies the connection
func NewRedis(cfg RedisConfig, log logger.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	log.Info("connected to redis lookup cache", "addr", cfg.Addr, "db", cfg.DB)
	return &Redis{client: client, ttl: ttl, logger: log}, nil
}

// Get returns the cached product for barcode
func (r *Redis) Get(ctx context.Context, barcode string) (models.GenerativeProduct, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	val, err := r.client.Get(ctx, keyPrefix+barcode).Bytes()
	if errors.Is(err, redis.Nil) {
		r.misses.Add(1)
		return models.GenerativeProduct{}, false, nil
	}
	if err != nil {
		r.misses.Add(1)
		return models.GenerativeProduct{}, false, fmt.Errorf("redis get: %w", err)
	}

	var p models.GenerativeProduct
	if err := json.Unmarshal(val, &p); err != nil {
		r.misses.Add(1)
		return models.GenerativeProduct{}, false, fmt.Errorf("decode cached product: %w", err)
	}

	r.hits.Add(1)
	return p, true, nil
}

// Set stores p for barcode with the configured TTL
func (r *Redis) Set(ctx context.Context, barcode string, p models.GenerativeProduct) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode product: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+barcode, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	r.sets.Add(1)
	return nil
}

// Stats returns cache counters
func (r *Redis) Stats() Stats {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	size, err := r.client.DBSize(ctx).Result()
	if err != nil {
		r.logger.Warn("redis dbsize failed", "error", err)
		size = 0
	}
	return Stats{
		Hits:   r.hits.Load(),
		Misses: r.misses.Load(),
		Sets:   r.sets.Load(),
		Size:   int(size),
	}
}

// HealthCheck pings Redis
func (r *Redis) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	return r.client.Close()
}
