// Package lock provides a cross-process claim on payment hashes using Redis.
// The SQLite UNIQUE constraint already guarantees a single record per hash; the
// claim stops a second process from even submitting while the first is in flight.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a claim survives a crashed holder.
	DefaultTTL = 10 * time.Minute

	keyPrefix = "autopay:payment:"
)

// Claimer reserves payment hashes.
type Claimer interface {
	Claim(ctx context.Context, hash string) (bool, error)
	Release(ctx context.Context, hash string) error
}

// RedisClaimer implements Claimer with SET NX.
type RedisClaimer struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisClaimer creates a claimer backed by rdb.
func NewRedisClaimer(rdb *redis.Client, ttl time.Duration) *RedisClaimer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisClaimer{rdb: rdb, ttl: ttl}
}

// Connect parses a redis:// URL and verifies the server is reachable.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Claim returns true if this process now holds the hash.
func (c *RedisClaimer) Claim(ctx context.Context, hash string) (bool, error) {
	set, err := c.rdb.SetNX(ctx, keyPrefix+hash, time.Now().UTC().Format(time.RFC3339), c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim SETNX: %w", err)
	}
	return set, nil
}

// Release drops the claim. Committed payments keep theirs until the TTL
// expires; the durable record guards them from then on.
func (c *RedisClaimer) Release(ctx context.Context, hash string) error {
	if err := c.rdb.Del(ctx, keyPrefix+hash).Err(); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}
