package stockledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cafepos/pkg/logger"
)

const (
	stockKeyPrefix = "stock:"
	stockKeyTTL    = 5 * time.Minute
)

// QuantityCache is a best-effort Redis front for ingredient quantities. A
// nil client (or a Redis outage) degrades to plain Postgres reads.
type QuantityCache struct {
	client *redis.Client
	logger *logger.Logger
}

func NewQuantityCache(client *redis.Client, log *logger.Logger) *QuantityCache {
	return &QuantityCache{client: client, logger: log}
}

func (c *QuantityCache) key(ingredientID int64) string {
	return fmt.Sprintf("%s%d", stockKeyPrefix, ingredientID)
}

func (c *QuantityCache) Get(ctx context.Context, ingredientID int64) (int64, bool) {
	if c == nil || c.client == nil {
		return 0, false
	}
	qty, err := c.client.Get(ctx, c.key(ingredientID)).Int64()
	if err != nil {
		return 0, false
	}
	return qty, true
}

func (c *QuantityCache) Set(ctx context.Context, ingredientID, quantity int64) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Set(ctx, c.key(ingredientID), quantity, stockKeyTTL).Err(); err != nil {
		c.logger.Warn("", "stock_cache_set_failed", err.Error())
	}
}

func (c *QuantityCache) Invalidate(ctx context.Context, ingredientID int64) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, c.key(ingredientID)).Err(); err != nil {
		c.logger.Warn("", "stock_cache_del_failed", err.Error())
	}
}
