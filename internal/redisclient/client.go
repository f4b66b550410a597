package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
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

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// EventSeen reports whether a webhook event id carries a fast-path marker.
// This is only a cache in front of the durable dedup ledger; the database row
// remains the authority.
func (c *Client) EventSeen(ctx context.Context, eventID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, fmt.Sprintf("webhook:event:%s", eventID)).Result()
	return n > 0, err
}

// MarkEventSeen sets the fast-path marker for an applied event. Callers must
// only do this after the durable ledger row is committed.
func (c *Client) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("webhook:event:%s", eventID), "1", ttl).Err()
}

// IncrementSales bumps an asset's score on the sales leaderboard
func (c *Client) IncrementSales(ctx context.Context, assetID string) error {
	return c.rdb.ZIncrBy(ctx, "leaderboard:sales", 1, assetID).Err()
}

// TopSellers returns the best-selling asset ids, highest first
func (c *Client) TopSellers(ctx context.Context, limit int64) ([]string, error) {
	return c.rdb.ZRevRange(ctx, "leaderboard:sales", 0, limit-1).Result()
}
