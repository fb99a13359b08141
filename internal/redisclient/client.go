package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// SetCatalogPrice caches a catalog unit price. The cache is read-through
// only; catalog prices are never derived from ledger values.
func (c *Client) SetCatalogPrice(ctx context.Context, productID int64, price decimal.Decimal, ttl time.Duration) error {
	key := fmt.Sprintf("catalog:price:%d", productID)
	return c.rdb.Set(ctx, key, price.String(), ttl).Err()
}

// GetCatalogPrice retrieves a cached catalog unit price. The boolean is
// false on a cache miss.
func (c *Client) GetCatalogPrice(ctx context.Context, productID int64) (decimal.Decimal, bool, error) {
	key := fmt.Sprintf("catalog:price:%d", productID)

	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}

	price, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("corrupt cached price for product %d: %w", productID, err)
	}
	return price, true, nil
}

// InvalidateCatalogPrice drops a cached catalog price
func (c *Client) InvalidateCatalogPrice(ctx context.Context, productID int64) error {
	return c.rdb.Del(ctx, fmt.Sprintf("catalog:price:%d", productID)).Err()
}

// AcquireOrderLock acquires the per-order save-cycle lock. Concurrent
// reconciliation cycles against the same order are undefined behavior, so
// callers must hold this lock for the duration of a cycle.
func (c *Client) AcquireOrderLock(ctx context.Context, orderID int64, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:reconcile:%d", orderID), "1", ttl).Result()
}

// ReleaseOrderLock releases the per-order save-cycle lock
func (c *Client) ReleaseOrderLock(ctx context.Context, orderID int64) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:reconcile:%d", orderID)).Err()
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// CheckIdempotencyKey checks if an idempotency key exists
func (c *Client) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}
