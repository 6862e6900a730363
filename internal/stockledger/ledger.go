// Package stockledger tracks ingredient stock as an append-only ledger.
// Current quantities are maintained alongside the entries in the same
// transaction, so the running sum of a ledger and its ingredient row never
// disagree.
package stockledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"cafepos/pkg/logger"
	"cafepos/pkg/models"
)

var (
	ErrAlreadyProcessed = errors.New("stock already deducted for order")
	ErrNothingToReverse = errors.New("no deduction to reverse for order")
	ErrNegativeStock    = errors.New("adjustment would drive stock negative")
	ErrUnknownKind      = errors.New("unknown adjustment kind")
)

// Shortage names one ingredient that blocked a deduction.
type Shortage struct {
	IngredientID int64  `json:"ingredient_id"`
	Name         string `json:"name"`
	Needed       int64  `json:"needed"`
	Available    int64  `json:"available"`
}

// InsufficientStockError reports every offending ingredient, not just the
// first, so the caller can restock in one pass.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (need %d, have %d)", s.Name, s.Needed, s.Available))
	}
	return "insufficient stock for: " + strings.Join(parts, ", ")
}

// Requirement is the recipe-implied consumption of one ingredient for a
// whole order.
type Requirement struct {
	IngredientID int64
	Name         string
	Quantity     int64
}

// RecipeFunc resolves the recipe of one catalog item (and optional variant).
type RecipeFunc func(ctx context.Context, itemID int64, variantID *int64) ([]models.RecipeLine, error)

// AggregateRequirements folds the recipes of every order line into one
// requirement per ingredient.
func AggregateRequirements(ctx context.Context, lines []models.OrderLine, recipe RecipeFunc) ([]Requirement, error) {
	totals := make(map[int64]*Requirement)
	var order []int64

	for _, line := range lines {
		recipeLines, err := recipe(ctx, line.ItemID, line.VariantID)
		if err != nil {
			return nil, fmt.Errorf("recipe for item %d: %w", line.ItemID, err)
		}
		for _, rl := range recipeLines {
			req, ok := totals[rl.IngredientID]
			if !ok {
				req = &Requirement{IngredientID: rl.IngredientID, Name: rl.IngredientName}
				totals[rl.IngredientID] = req
				order = append(order, rl.IngredientID)
			}
			req.Quantity += rl.AmountPerUnit * int64(line.Quantity)
		}
	}

	result := make([]Requirement, 0, len(order))
	for _, id := range order {
		result = append(result, *totals[id])
	}
	return result, nil
}

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so ledger operations
// can join the order engine's transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Ledger struct {
	pool   *pgxpool.Pool
	cache  *QuantityCache
	logger *logger.Logger
}

func NewLedger(pool *pgxpool.Pool, cache *QuantityCache, log *logger.Logger) *Ledger {
	return &Ledger{pool: pool, cache: cache, logger: log}
}

// ReserveAndDeduct appends one order_consumption entry per ingredient and
// decrements the ingredient rows, all inside the caller's transaction.
// Idempotent by order id: a second call is a no-op returning
// ErrAlreadyProcessed. If any ingredient would go negative the whole
// deduction is rejected with an InsufficientStockError.
func (l *Ledger) ReserveAndDeduct(ctx context.Context, tx DBTX, orderID int64, actorID int64, reqs []Requirement) error {
	var processed bool
	err := tx.QueryRow(ctx, `
        SELECT EXISTS(
            SELECT 1 FROM stock_entries WHERE order_id = $1 AND kind = 'order_consumption'
        )`, orderID).Scan(&processed)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if processed {
		return ErrAlreadyProcessed
	}

	// Lock ingredients in id order. Requirements arrive in cart-line
	// encounter order, and two orders sharing ingredients in opposite
	// order would otherwise deadlock on each other's row locks.
	reqs = append([]Requirement(nil), reqs...)
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].IngredientID < reqs[j].IngredientID })

	var shortages []Shortage
	for _, req := range reqs {
		var available int64
		err := tx.QueryRow(ctx, `
            SELECT current_stock FROM ingredients WHERE id = $1 FOR UPDATE
        `, req.IngredientID).Scan(&available)
		if err != nil {
			return fmt.Errorf("lock ingredient %d: %w", req.IngredientID, err)
		}
		if available < req.Quantity {
			shortages = append(shortages, Shortage{
				IngredientID: req.IngredientID,
				Name:         req.Name,
				Needed:       req.Quantity,
				Available:    available,
			})
		}
	}
	if len(shortages) > 0 {
		return &InsufficientStockError{Shortages: shortages}
	}

	for _, req := range reqs {
		if err := l.append(ctx, tx, req.IngredientID, -req.Quantity, models.StockOrderConsumption,
			&orderID, "order consumption", actorID); err != nil {
			return err
		}
	}
	return nil
}

// Reverse appends compensating entries equal in magnitude to the order's
// prior deduction. Idempotent: once reversed (or never deducted) it returns
// ErrNothingToReverse.
func (l *Ledger) Reverse(ctx context.Context, tx DBTX, orderID int64, actorID int64) error {
	rows, err := tx.Query(ctx, `
        SELECT ingredient_id, COALESCE(SUM(delta), 0)
        FROM stock_entries
        WHERE order_id = $1
        GROUP BY ingredient_id
        HAVING COALESCE(SUM(delta), 0) <> 0
        ORDER BY ingredient_id
    `, orderID)
	if err != nil {
		return fmt.Errorf("load deductions: %w", err)
	}

	type pending struct {
		ingredientID int64
		net          int64
	}
	var deductions []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.ingredientID, &p.net); err != nil {
			rows.Close()
			return err
		}
		deductions = append(deductions, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(deductions) == 0 {
		return ErrNothingToReverse
	}

	for _, d := range deductions {
		if err := l.append(ctx, tx, d.ingredientID, -d.net, models.StockOrderConsumption,
			&orderID, "order cancelled, consumption reversed", actorID); err != nil {
			return err
		}
	}
	return nil
}

// Adjust records a manual, restock or waste adjustment in its own
// transaction. Deductions that would drive stock negative are rejected.
func (l *Ledger) Adjust(ctx context.Context, req models.AdjustStockRequest, actorID int64) (*models.StockEntry, error) {
	switch req.Kind {
	case models.StockManual, models.StockRestock, models.StockWaste:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var available int64
	err = tx.QueryRow(ctx, `
        SELECT current_stock FROM ingredients WHERE id = $1 FOR UPDATE
    `, req.IngredientID).Scan(&available)
	if err != nil {
		return nil, fmt.Errorf("lock ingredient %d: %w", req.IngredientID, err)
	}
	if available+req.Delta < 0 {
		return nil, ErrNegativeStock
	}

	var entry models.StockEntry
	err = tx.QueryRow(ctx, `
        INSERT INTO stock_entries (ingredient_id, delta, kind, reason, actor_id)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, ingredient_id, delta, kind, reason, actor_id, created_at
    `, req.IngredientID, req.Delta, req.Kind, req.Reason, actorID).Scan(
		&entry.ID, &entry.IngredientID, &entry.Delta, &entry.Kind,
		&entry.Reason, &entry.ActorID, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append stock entry: %w", err)
	}

	_, err = tx.Exec(ctx, `
        UPDATE ingredients SET current_stock = current_stock + $1, updated_at = now()
        WHERE id = $2
    `, req.Delta, req.IngredientID)
	if err != nil {
		return nil, fmt.Errorf("update ingredient stock: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	l.cache.Invalidate(ctx, req.IngredientID)
	return &entry, nil
}

// append writes one ledger row and keeps the ingredient's running quantity
// in step with it.
func (l *Ledger) append(ctx context.Context, tx DBTX, ingredientID, delta int64, kind models.StockEntryKind, orderID *int64, reason string, actorID int64) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO stock_entries (ingredient_id, delta, kind, order_id, reason, actor_id)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, ingredientID, delta, kind, orderID, reason, actorID)
	if err != nil {
		return fmt.Errorf("append stock entry: %w", err)
	}

	tag, err := tx.Exec(ctx, `
        UPDATE ingredients SET current_stock = current_stock + $1, updated_at = now()
        WHERE id = $2
    `, delta, ingredientID)
	if err != nil {
		return fmt.Errorf("update ingredient stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ingredient %d not found", ingredientID)
	}
	return nil
}

// InvalidateForOrder drops cached quantities for every ingredient an order
// touched. Called after the surrounding transaction commits.
func (l *Ledger) InvalidateForOrder(ctx context.Context, reqs []Requirement) {
	for _, req := range reqs {
		l.cache.Invalidate(ctx, req.IngredientID)
	}
}

// CurrentQuantity serves the reorder-threshold display path: Redis first,
// Postgres on miss. Postgres stays authoritative.
func (l *Ledger) CurrentQuantity(ctx context.Context, ingredientID int64) (int64, error) {
	if qty, ok := l.cache.Get(ctx, ingredientID); ok {
		return qty, nil
	}

	var qty int64
	err := l.pool.QueryRow(ctx, `
        SELECT current_stock FROM ingredients WHERE id = $1
    `, ingredientID).Scan(&qty)
	if err != nil {
		return 0, err
	}

	l.cache.Set(ctx, ingredientID, qty)
	return qty, nil
}

// Levels lists every active ingredient with its quantity and low-stock flag.
func (l *Ledger) Levels(ctx context.Context) ([]models.StockLevel, error) {
	rows, err := l.pool.Query(ctx, `
        SELECT id, name, unit, current_stock, reorder_threshold
        FROM ingredients
        WHERE is_active
        ORDER BY name
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var levels []models.StockLevel
	for rows.Next() {
		var lv models.StockLevel
		if err := rows.Scan(&lv.IngredientID, &lv.Name, &lv.Unit, &lv.Quantity, &lv.ReorderThreshold); err != nil {
			return nil, err
		}
		lv.LowStock = lv.Quantity <= lv.ReorderThreshold
		levels = append(levels, lv)
	}
	return levels, rows.Err()
}

// Adjustments lists ledger entries from the last N days, newest first,
// optionally filtered by ingredient.
func (l *Ledger) Adjustments(ctx context.Context, ingredientID *int64, days int) ([]models.StockEntry, error) {
	if days <= 0 {
		days = 30
	}

	query := `
        SELECT id, ingredient_id, delta, kind, order_id, reason, actor_id, created_at
        FROM stock_entries
        WHERE created_at >= now() - make_interval(days => $1)
    `
	args := []any{days}
	if ingredientID != nil {
		query += ` AND ingredient_id = $2`
		args = append(args, *ingredientID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.StockEntry
	for rows.Next() {
		var e models.StockEntry
		if err := rows.Scan(&e.ID, &e.IngredientID, &e.Delta, &e.Kind, &e.OrderID,
			&e.Reason, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
