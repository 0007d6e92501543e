package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smartfarm/farmbridge/internal/infrastructure/config"
)

const (
	defaultPingTimeout = 5 * time.Second
	defaultTTL         = 24 * time.Hour
)

var (
	// ErrDisabled indicates the cache is switched off in configuration.
	ErrDisabled = errors.New("cache: disabled in configuration")

	// ErrMiss is returned by Get when the key does not exist.
	ErrMiss = errors.New("cache: miss")
)

// Client is a thin Redis/Valkey wrapper for hot latest-value lookups.
// Entries expire after the configured TTL so silent devices drop out.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// Connect opens the client and verifies it with a ping.
func Connect(ctx context.Context, cfg config.CacheConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("cache: ping %s: %w", cfg.Addr, err)
	}

	ttl := time.Duration(cfg.TTL) * time.Second
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Client{rdb: rdb, ttl: ttl}, nil
}

// Set stores value under key with the client TTL.
func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	if err := c.rdb.Set(ctx, key, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// Get returns the value for key or ErrMiss.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return data, nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache health check failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
