package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"courier/internal/constants"
)

// DedupCache is an advisory fast path in front of the record store. It maps
// content hashes to message ids so repeat submissions can skip the
// authoritative lookup. The store's unique index remains the source of
// truth; a cache miss or error merely falls through to it.
type DedupCache interface {
	// Lookup returns the message id bound to the hash, or "" when unseen.
	Lookup(ctx context.Context, contentHash string) (string, error)
	// Remember binds the hash to a message id unless a binding exists.
	Remember(ctx context.Context, contentHash, messageID string, ttl time.Duration) error
}

type RedisDedupCache struct {
	client *redis.Client
}

func NewRedisDedupCache(client *redis.Client) *RedisDedupCache {
	return &RedisDedupCache{client: client}
}

func (c *RedisDedupCache) Lookup(ctx context.Context, contentHash string) (string, error) {
	val, err := c.client.Get(ctx, constants.CacheKeyPrefixDedup+contentHash).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis Get failed: %w", err)
	}
	return val, nil
}

func (c *RedisDedupCache) Remember(ctx context.Context, contentHash, messageID string, ttl time.Duration) error {
	if err := c.client.SetNX(ctx, constants.CacheKeyPrefixDedup+contentHash, messageID, ttl).Err(); err != nil {
		return fmt.Errorf("redis SetNX failed: %w", err)
	}
	return nil
}
