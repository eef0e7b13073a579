package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SergeiKhy/linkresolver/internal/models"
	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

// tombstone marks a recently invalidated code; Get reports it as a miss.
const tombstone = "-"

// CacheRepository is an optional read-through cache keyed by short code.
//
// Set only fills an empty key. Delete leaves a tombstone for a short while,
// so a lookup that read the row before the invalidation cannot put it back.
type CacheRepository interface {
	Get(ctx context.Context, code string) (*models.Link, error)
	Set(ctx context.Context, link *models.Link) error
	Delete(ctx context.Context, codes ...string) error
}

type cacheRepository struct {
	redis        *RedisDB
	ttl          time.Duration
	tombstoneTTL time.Duration
}

func NewCacheRepository(redis *RedisDB, ttl, tombstoneTTL time.Duration) CacheRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if tombstoneTTL <= 0 {
		tombstoneTTL = 10 * time.Second
	}
	return &cacheRepository{redis: redis, ttl: ttl, tombstoneTTL: tombstoneTTL}
}

func (r *cacheRepository) Get(ctx context.Context, code string) (*models.Link, error) {
	data, err := r.redis.Client.Get(ctx, r.key(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	if string(data) == tombstone {
		return nil, ErrCacheMiss
	}

	var link models.Link
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, fmt.Errorf("failed to unmarshal link: %w", err)
	}

	return &link, nil
}

func (r *cacheRepository) Set(ctx context.Context, link *models.Link) error {
	data, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("failed to marshal link: %w", err)
	}

	// NX: не перезаписываем надгробие, оставленное инвалидацией
	return r.redis.Client.SetNX(ctx, r.key(link.Code), data, r.ttl).Err()
}

func (r *cacheRepository) Delete(ctx context.Context, codes ...string) error {
	if len(codes) == 0 {
		return nil
	}

	pipe := r.redis.Client.Pipeline()
	for _, code := range codes {
		pipe.Set(ctx, r.key(code), tombstone, r.tombstoneTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

func (r *cacheRepository) key(code string) string {
	return "link:" + code
}

// NopCache is used when Redis is not configured; every lookup misses.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*models.Link, error) { return nil, ErrCacheMiss }
func (NopCache) Set(context.Context, *models.Link) error           { return nil }
func (NopCache) Delete(context.Context, ...string) error           { return nil }
