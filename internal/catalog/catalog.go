// Package catalog is the read-only Postgres view of menu items, variants,
// discounts and recipes. Order creation reads through it once to take a
// pricing snapshot; nothing here is ever written by the order path.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"cafepos/internal/pricing"
	"cafepos/pkg/logger"
	"cafepos/pkg/models"
)

const (
	discountCacheKey = "catalog:discounts"
	discountCacheTTL = time.Minute
)

type Catalog struct {
	pool   *pgxpool.Pool
	cache  *redis.Client
	logger *logger.Logger
}

// New builds the catalog reader. cache may be nil; discounts are then read
// from Postgres on every order.
func New(pool *pgxpool.Pool, cache *redis.Client, log *logger.Logger) *Catalog {
	return &Catalog{pool: pool, cache: cache, logger: log}
}

// Snapshot loads the requested menu items with their variants. Inactive
// items are included so pricing can report them as invalid selections
// rather than silently missing.
func (c *Catalog) Snapshot(ctx context.Context, itemIDs []int64) (pricing.Snapshot, error) {
	snap := pricing.Snapshot{Items: make(map[int64]models.CatalogItem, len(itemIDs))}
	if len(itemIDs) == 0 {
		return snap, nil
	}

	rows, err := c.pool.Query(ctx, `
        SELECT id, name, base_price_cents, is_active
        FROM menu_items
        WHERE id = ANY($1)
    `, itemIDs)
	if err != nil {
		return snap, fmt.Errorf("load menu items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.CatalogItem
		if err := rows.Scan(&item.ID, &item.Name, &item.BasePriceCents, &item.Active); err != nil {
			return snap, err
		}
		snap.Items[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return snap, err
	}

	vrows, err := c.pool.Query(ctx, `
        SELECT id, menu_item_id, name, price_cents
        FROM menu_item_variants
        WHERE menu_item_id = ANY($1)
        ORDER BY id
    `, itemIDs)
	if err != nil {
		return snap, fmt.Errorf("load variants: %w", err)
	}
	defer vrows.Close()

	for vrows.Next() {
		var v models.Variant
		if err := vrows.Scan(&v.ID, &v.ItemID, &v.Name, &v.PriceCents); err != nil {
			return snap, err
		}
		item := snap.Items[v.ItemID]
		item.Variants = append(item.Variants, v)
		snap.Items[v.ItemID] = item
	}
	return snap, vrows.Err()
}

// ActiveDiscounts returns every discount currently flagged active. Window
// filtering happens in pricing against the order's creation time, so the
// one-minute cache staleness never moves a discount's effective window.
func (c *Catalog) ActiveDiscounts(ctx context.Context) ([]models.Discount, error) {
	if cached, ok := c.cachedDiscounts(ctx); ok {
		return cached, nil
	}

	rows, err := c.pool.Query(ctx, `
        SELECT id, name, type, value, applies_to, menu_item_id, is_active, start_date, end_date
        FROM discounts
        WHERE is_active = true
        ORDER BY id
    `)
	if err != nil {
		return nil, fmt.Errorf("load discounts: %w", err)
	}
	defer rows.Close()

	var discounts []models.Discount
	for rows.Next() {
		var d models.Discount
		err := rows.Scan(&d.ID, &d.Name, &d.Type, &d.Value, &d.AppliesTo,
			&d.ItemID, &d.Active, &d.StartDate, &d.EndDate)
		if err != nil {
			return nil, err
		}
		discounts = append(discounts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	c.storeDiscounts(ctx, discounts)
	return discounts, nil
}

// Recipe lists the ingredients consumed per unit of an item. A variant may
// override the item's base recipe; when it has no rows of its own the base
// recipe applies.
func (c *Catalog) Recipe(ctx context.Context, itemID int64, variantID *int64) ([]models.RecipeLine, error) {
	if variantID != nil {
		lines, err := c.recipeRows(ctx, `
            SELECT r.ingredient_id, i.name, r.amount_per_unit
            FROM recipes r
            JOIN ingredients i ON i.id = r.ingredient_id
            WHERE r.variant_id = $1
            ORDER BY r.ingredient_id
        `, *variantID)
		if err != nil {
			return nil, err
		}
		if len(lines) > 0 {
			return lines, nil
		}
	}

	return c.recipeRows(ctx, `
        SELECT r.ingredient_id, i.name, r.amount_per_unit
        FROM recipes r
        JOIN ingredients i ON i.id = r.ingredient_id
        WHERE r.menu_item_id = $1 AND r.variant_id IS NULL
        ORDER BY r.ingredient_id
    `, itemID)
}

func (c *Catalog) recipeRows(ctx context.Context, sql string, arg int64) ([]models.RecipeLine, error) {
	rows, err := c.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("load recipe: %w", err)
	}
	defer rows.Close()

	var lines []models.RecipeLine
	for rows.Next() {
		var l models.RecipeLine
		if err := rows.Scan(&l.IngredientID, &l.IngredientName, &l.AmountPerUnit); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (c *Catalog) cachedDiscounts(ctx context.Context) ([]models.Discount, bool) {
	if c.cache == nil {
		return nil, false
	}
	raw, err := c.cache.Get(ctx, discountCacheKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("", "discount_cache_miss", "Discount cache read failed: "+err.Error())
		}
		return nil, false
	}
	var discounts []models.Discount
	if err := json.Unmarshal(raw, &discounts); err != nil {
		return nil, false
	}
	return discounts, true
}

func (c *Catalog) storeDiscounts(ctx context.Context, discounts []models.Discount) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(discounts)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, discountCacheKey, raw, discountCacheTTL).Err(); err != nil {
		c.logger.Debug("", "discount_cache_write_failed", "Discount cache write failed: "+err.Error())
	}
}
