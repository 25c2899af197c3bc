package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
)

// cachedEnrichment is the value stored per (keyword, locale).
type cachedEnrichment struct {
	Questions []pipeline.Question `json:"questions"`
	Raw       []string            `json:"raw"`
}

// Cache stores enrichment results per (keyword, locale). Question sets churn
// slowly, so a daylong TTL is plenty.
type Cache interface {
	Get(ctx context.Context, keyword, locale string) ([]pipeline.Question, []string, bool)
	Set(ctx context.Context, keyword, locale string, questions []pipeline.Question, raw []string)
}

// NopCache caches nothing.
type NopCache struct{}

// Get always misses.
func (NopCache) Get(context.Context, string, string) ([]pipeline.Question, []string, bool) {
	return nil, nil, false
}

// Set discards the value.
func (NopCache) Set(context.Context, string, string, []pipeline.Question, []string) {}

// RedisCache caches enrichment results in Redis. Every failure is treated as
// a miss; enrichment never fails because the cache is down.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache constructs the cache with the given TTL.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

func cacheKey(keyword, locale string) string {
	return fmt.Sprintf("enrich:%s|%s", strings.ToLower(strings.TrimSpace(keyword)), locale)
}

// Get returns the cached result for the keyword, if fresh.
func (c *RedisCache) Get(ctx context.Context, keyword, locale string) ([]pipeline.Question, []string, bool) {
	raw, err := c.client.Get(ctx, cacheKey(keyword, locale)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("enrichment cache read failed", zap.Error(err))
		}
		return nil, nil, false
	}
	var entry cachedEnrichment
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("enrichment cache entry corrupt", zap.Error(err))
		return nil, nil, false
	}
	return entry.Questions, entry.Raw, true
}

// Set stores the result with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, keyword, locale string, questions []pipeline.Question, raw []string) {
	payload, err := json.Marshal(cachedEnrichment{Questions: questions, Raw: raw})
	if err != nil {
		c.logger.Warn("enrichment cache encode failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, cacheKey(keyword, locale), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("enrichment cache write failed", zap.Error(err))
	}
}
