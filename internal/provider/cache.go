package provider

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const resolveKeyPrefix = "outreach:provider_id:"

// CachedClient memoizes slug resolution in Redis. Every other call goes
// straight to the wrapped client.
type CachedClient struct {
	Client
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedClient(inner Client, rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *CachedClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedClient{Client: inner, rdb: rdb, ttl: ttl, logger: logger}
}

func resolveKey(accountID, slug string) string {
	return resolveKeyPrefix + accountID + ":" + slug
}

// ResolveID serves from Redis when possible. A Redis outage degrades to a
// direct provider call.
func (c *CachedClient) ResolveID(ctx context.Context, accountID, slug string) (string, error) {
	key := resolveKey(accountID, slug)
	id, err := c.rdb.Get(ctx, key).Result()
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("resolve cache read failed", zap.String("key", key), zap.Error(err))
	}

	id, err = c.Client.ResolveID(ctx, accountID, slug)
	if err != nil {
		return "", err
	}
	if err := c.rdb.Set(ctx, key, id, c.ttl).Err(); err != nil {
		c.logger.Warn("resolve cache write failed", zap.String("key", key), zap.Error(err))
	}
	return id, nil
}
