package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"cafepos/internal/orderengine"
	"cafepos/pkg/models"
)

const orderColumns = `
    id, number, customer_number, status,
    subtotal_cents, discount_cents, final_total_cents,
    subtotal_secondary, discount_secondary, final_total_secondary,
    exchange_rate, rounding_factor,
    payment_method, customer_ref, notes,
    created_by, paid_by, prepared_by, delivered_by,
    created_at, updated_at`

var activeStatuses = []models.Status{
	models.StatusPendingPayment,
	models.StatusPaidWaitingPreparation,
	models.StatusPreparing,
	models.StatusReadyForPickup,
}

func (s *Store) GetOrder(ctx context.Context, orderNumber string) (*models.Order, error) {
	rows, err := s.pool.Query(ctx, `SELECT`+orderColumns+` FROM orders WHERE number = $1`, orderNumber)
	if err != nil {
		return nil, err
	}
	orders, err := s.collectOrders(ctx, rows, true)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, orderengine.ErrOrderNotFound
	}
	return &orders[0], nil
}

func (s *Store) ListActive(ctx context.Context) ([]models.Order, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT`+orderColumns+`
        FROM orders
        WHERE status = ANY($1)
        ORDER BY created_at DESC
    `, statusStrings(activeStatuses))
	if err != nil {
		return nil, err
	}
	return s.collectOrders(ctx, rows, true)
}

func (s *Store) ListCompleted(ctx context.Context) ([]models.Order, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT`+orderColumns+`
        FROM orders
        WHERE status = $1
        ORDER BY created_at DESC
    `, models.StatusCompleted)
	if err != nil {
		return nil, err
	}
	return s.collectOrders(ctx, rows, true)
}

// BaristaQueue lists orders waiting on the bar, oldest first.
func (s *Store) BaristaQueue(ctx context.Context) ([]models.OrderSummary, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT`+orderColumns+`
        FROM orders
        WHERE status = ANY($1)
        ORDER BY created_at ASC
    `, statusStrings([]models.Status{models.StatusPaidWaitingPreparation, models.StatusPreparing}))
	if err != nil {
		return nil, err
	}
	orders, err := s.collectOrders(ctx, rows, true)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.OrderSummary, 0, len(orders))
	for _, o := range orders {
		summaries = append(summaries, Summarize(&o))
	}
	return summaries, nil
}

// OrdersCreatedSince feeds the dashboard aggregator's cold-start rebuild.
func (s *Store) OrdersCreatedSince(ctx context.Context, since time.Time) ([]models.Order, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT`+orderColumns+`
        FROM orders
        WHERE created_at >= $1
        ORDER BY created_at ASC
    `, since)
	if err != nil {
		return nil, err
	}
	return s.collectOrders(ctx, rows, false)
}

func (s *Store) ActiveOrders(ctx context.Context) ([]models.Order, error) {
	return s.ListActive(ctx)
}

func (s *Store) collectOrders(ctx context.Context, rows pgx.Rows, withLines bool) ([]models.Order, error) {
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		err := rows.Scan(
			&o.ID, &o.Number, &o.CustomerNumber, &o.Status,
			&o.SubtotalCents, &o.DiscountCents, &o.FinalTotalCents,
			&o.SubtotalSecondary, &o.DiscountSecondary, &o.FinalTotalSecondary,
			&o.ExchangeRate, &o.RoundingFactor,
			&o.PaymentMethod, &o.CustomerRef, &o.Notes,
			&o.CreatedBy, &o.PaidBy, &o.PreparedBy, &o.DeliveredBy,
			&o.CreatedAt, &o.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if withLines {
		for i := range orders {
			lines, err := s.loadLines(ctx, s.pool, orders[i].ID)
			if err != nil {
				return nil, err
			}
			orders[i].Lines = lines
		}
	}
	return orders, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Store) loadLines(ctx context.Context, q querier, orderID int64) ([]models.OrderLine, error) {
	rows, err := q.Query(ctx, `
        SELECT id, order_id, item_id, variant_id, item_name, variant_name, quantity,
               unit_price_cents, unit_price_secondary, discount_cents,
               line_total_cents, line_total_secondary
        FROM order_lines
        WHERE order_id = $1
        ORDER BY id
    `, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	var lines []models.OrderLine
	for rows.Next() {
		var l models.OrderLine
		err := rows.Scan(
			&l.ID, &l.OrderID, &l.ItemID, &l.VariantID, &l.ItemName, &l.VariantName,
			&l.Quantity, &l.UnitPriceCents, &l.UnitPriceSecondary, &l.DiscountCents,
			&l.LineTotalCents, &l.LineTotalSecondary,
		)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// Summarize renders the queue/dashboard list form of an order.
func Summarize(o *models.Order) models.OrderSummary {
	parts := make([]string, 0, len(o.Lines))
	for _, line := range o.Lines {
		part := fmt.Sprintf("%dx %s", line.Quantity, line.ItemName)
		if line.VariantName != nil {
			part += " (" + *line.VariantName + ")"
		}
		parts = append(parts, part)
	}
	return models.OrderSummary{
		OrderNumber:         o.Number,
		CustomerNumber:      o.CustomerNumber,
		Status:              o.Status,
		ItemsSummary:        strings.Join(parts, ", "),
		FinalTotalCents:     o.FinalTotalCents,
		FinalTotalSecondary: o.FinalTotalSecondary,
		CreatedAt:           o.CreatedAt,
	}
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, string(st))
	}
	return out
}
