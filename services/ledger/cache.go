package ledger

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
)

// SeenCache remembers session ids already recorded in the sales sheet.
// It only ever answers "seen"; a miss falls through to the sheet scan.
type SeenCache interface {
	Seen(ctx context.Context, sessionID string) (bool, error)
	Mark(ctx context.Context, sessionID string) error
}

// LRUCache is an in-process SeenCache safe for concurrent use.
type LRUCache struct {
	cache *lru.Cache
}

func NewLRUCache(size int) (*LRUCache, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &LRUCache{cache: c}, nil
}

func (c *LRUCache) Seen(_ context.Context, sessionID string) (bool, error) {
	return c.cache.Contains(sessionID), nil
}

func (c *LRUCache) Mark(_ context.Context, sessionID string) error {
	c.cache.Add(sessionID, struct{}{})
	return nil
}

// RedisCache shares seen ids across replicas through a redis set.
type RedisCache struct {
	rdb *redis.Client
	key string
}

func NewRedisCache(rdb *redis.Client, key string) *RedisCache {
	return &RedisCache{rdb: rdb, key: key}
}

func (c *RedisCache) Seen(ctx context.Context, sessionID string) (bool, error) {
	ok, err := c.rdb.SIsMember(ctx, c.key, sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember %s: %w", c.key, err)
	}
	return ok, nil
}

func (c *RedisCache) Mark(ctx context.Context, sessionID string) error {
	if err := c.rdb.SAdd(ctx, c.key, sessionID).Err(); err != nil {
		return fmt.Errorf("redis sadd %s: %w", c.key, err)
	}
	return nil
}
