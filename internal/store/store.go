// Package store is the Postgres persistence layer for orders, their lines
// and the durable domain-event log. The Transition method is the engine's
// per-order serialization point: it locks the order row and commits the
// state write, the ledger effects and the event append as one transaction.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cafepos/internal/orderengine"
	"cafepos/internal/stockledger"
	"cafepos/pkg/logger"
	"cafepos/pkg/models"
)

type Store struct {
	pool   *pgxpool.Pool
	ledger *stockledger.Ledger
	logger *logger.Logger
}

func New(pool *pgxpool.Pool, ledger *stockledger.Ledger, log *logger.Logger) *Store {
	return &Store{pool: pool, ledger: ledger, logger: log}
}

// sequenceLockKey maps a YYYYMMDD day string onto the advisory-lock key
// space. The numeric date is stable across processes and distinct per day.
func sequenceLockKey(day string) int64 {
	n, _ := strconv.ParseInt(day, 10, 64)
	return n
}

// CreateOrder assigns the order and customer numbers, persists the order
// with its lines, and appends the order_created event, in one transaction.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) (*models.DomainEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	today := time.Now().UTC().Format("20060102")

	// MAX+1 under read committed is racy: two concurrent creates would
	// compute the same numbers and one would die on the unique index.
	// An advisory lock keyed by day serializes number assignment; it is
	// released automatically at commit or rollback.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, sequenceLockKey(today)); err != nil {
		return nil, fmt.Errorf("sequence lock: %w", err)
	}

	var orderSeq, customerSeq int
	err = tx.QueryRow(ctx, `
        SELECT
            COALESCE(MAX(CAST(SUBSTRING(number FROM '\d+$') AS INTEGER)), 0),
            COALESCE(MAX(CAST(SUBSTRING(customer_number FROM '\d+$') AS INTEGER)), 0)
        FROM orders
        WHERE created_at >= date_trunc('day', now() AT TIME ZONE 'UTC')
    `).Scan(&orderSeq, &customerSeq)
	if err != nil {
		return nil, fmt.Errorf("order number sequence: %w", err)
	}

	order.Number = fmt.Sprintf("ORD_%s_%03d", today, orderSeq+1)
	order.CustomerNumber = fmt.Sprintf("%s-%03d", today, customerSeq+1)

	err = tx.QueryRow(ctx, `
        INSERT INTO orders (
            number, customer_number, status,
            subtotal_cents, discount_cents, final_total_cents,
            subtotal_secondary, discount_secondary, final_total_secondary,
            exchange_rate, rounding_factor,
            customer_ref, notes, created_by
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
        RETURNING id, created_at, updated_at
    `,
		order.Number, order.CustomerNumber, order.Status,
		order.SubtotalCents, order.DiscountCents, order.FinalTotalCents,
		order.SubtotalSecondary, order.DiscountSecondary, order.FinalTotalSecondary,
		order.ExchangeRate, order.RoundingFactor,
		order.CustomerRef, order.Notes, order.CreatedBy,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for i := range order.Lines {
		line := &order.Lines[i]
		line.OrderID = order.ID
		batch.Queue(`
            INSERT INTO order_lines (
                order_id, item_id, variant_id, item_name, variant_name, quantity,
                unit_price_cents, unit_price_secondary, discount_cents,
                line_total_cents, line_total_secondary
            )
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        `,
			line.OrderID, line.ItemID, line.VariantID, line.ItemName, line.VariantName,
			line.Quantity, line.UnitPriceCents, line.UnitPriceSecondary,
			line.DiscountCents, line.LineTotalCents, line.LineTotalSecondary)
	}
	br := tx.SendBatch(ctx, batch)
	for range order.Lines {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return nil, fmt.Errorf("insert order lines: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, err
	}

	event, err := s.appendEvent(ctx, tx, order, models.EventOrderCreated)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return event, nil
}

// Transition locks the order row, lets decide validate against the current
// state, then applies the plan. Any error rolls the whole unit back.
func (s *Store) Transition(ctx context.Context, orderNumber string, decide orderengine.DecideFunc) (*models.Order, *models.DomainEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	order, err := s.lockOrder(ctx, tx, orderNumber)
	if err != nil {
		return nil, nil, err
	}

	plan, err := decide(order)
	if err != nil {
		return nil, nil, err
	}

	if err := s.applyPlan(ctx, tx, order, plan); err != nil {
		return nil, nil, err
	}

	event, err := s.appendEvent(ctx, tx, order, plan.Event)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return order, event, nil
}

func (s *Store) lockOrder(ctx context.Context, tx pgx.Tx, orderNumber string) (*models.Order, error) {
	order := &models.Order{}
	err := tx.QueryRow(ctx, `
        SELECT id, number, customer_number, status,
               subtotal_cents, discount_cents, final_total_cents,
               subtotal_secondary, discount_secondary, final_total_secondary,
               exchange_rate, rounding_factor,
               payment_method, customer_ref, notes,
               created_by, paid_by, prepared_by, delivered_by,
               created_at, updated_at
        FROM orders
        WHERE number = $1
        FOR UPDATE
    `, orderNumber).Scan(
		&order.ID, &order.Number, &order.CustomerNumber, &order.Status,
		&order.SubtotalCents, &order.DiscountCents, &order.FinalTotalCents,
		&order.SubtotalSecondary, &order.DiscountSecondary, &order.FinalTotalSecondary,
		&order.ExchangeRate, &order.RoundingFactor,
		&order.PaymentMethod, &order.CustomerRef, &order.Notes,
		&order.CreatedBy, &order.PaidBy, &order.PreparedBy, &order.DeliveredBy,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orderengine.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock order %s: %w", orderNumber, err)
	}

	order.Lines, err = s.loadLines(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) applyPlan(ctx context.Context, tx pgx.Tx, order *models.Order, plan *orderengine.TransitionPlan) error {
	if len(plan.Deduct) > 0 {
		if err := s.ledger.ReserveAndDeduct(ctx, tx, order.ID, plan.Actor.ID, plan.Deduct); err != nil {
			return err
		}
	}
	if plan.Reverse {
		err := s.ledger.Reverse(ctx, tx, order.ID, plan.Actor.ID)
		if err != nil && !errors.Is(err, stockledger.ErrNothingToReverse) {
			return err
		}
	}

	order.Status = plan.To
	if plan.PaymentMethod != nil {
		order.PaymentMethod = plan.PaymentMethod
	}
	switch plan.To {
	case models.StatusPaidWaitingPreparation:
		order.PaidBy = &plan.Actor.ID
	case models.StatusPreparing:
		order.PreparedBy = &plan.Actor.ID
	case models.StatusCompleted:
		order.DeliveredBy = &plan.Actor.ID
	}

	tag, err := tx.Exec(ctx, `
        UPDATE orders
        SET status = $1, payment_method = $2,
            paid_by = $3, prepared_by = $4, delivered_by = $5,
            updated_at = now()
        WHERE id = $6
    `, order.Status, order.PaymentMethod,
		order.PaidBy, order.PreparedBy, order.DeliveredBy, order.ID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %d vanished during transition", order.ID)
	}

	order.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) appendEvent(ctx context.Context, tx pgx.Tx, order *models.Order, kind models.EventKind) (*models.DomainEvent, error) {
	event := &models.DomainEvent{
		Kind:        kind,
		Topic:       models.TopicOrders,
		OrderID:     order.ID,
		OrderNumber: order.Number,
		Status:      order.Status,
		Summary: models.EventSummary{
			CustomerNumber:      order.CustomerNumber,
			ItemCount:           len(order.Lines),
			FinalTotalCents:     order.FinalTotalCents,
			FinalTotalSecondary: order.FinalTotalSecondary,
		},
	}

	summary, err := json.Marshal(event.Summary)
	if err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
        INSERT INTO domain_events (kind, topic, order_id, order_number, status, summary)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING seq, occurred_at
    `, event.Kind, event.Topic, event.OrderID, event.OrderNumber, event.Status, summary,
	).Scan(&event.Seq, &event.OccurredAt)
	if err != nil {
		return nil, fmt.Errorf("append domain event: %w", err)
	}

	return event, nil
}
