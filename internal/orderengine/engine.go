// Package orderengine owns the canonical order lifecycle: it freezes prices
// at creation, validates transitions against the legal table, couples the
// payment transition to the stock ledger, and emits one domain event per
// committed transition.
package orderengine

import (
	"context"
	"fmt"
	"time"

	"cafepos/internal/pricing"
	"cafepos/internal/stockledger"
	"cafepos/pkg/logger"
	"cafepos/pkg/models"
)

type Engine struct {
	store     Store
	catalog   Catalog
	ledger    *stockledger.Ledger
	publisher EventPublisher
	rates     pricing.Config
	logger    *logger.Logger
	locks     *keyedMutex
}

func NewEngine(store Store, catalog Catalog, ledger *stockledger.Ledger, publisher EventPublisher, rates pricing.Config, log *logger.Logger) *Engine {
	return &Engine{
		store:     store,
		catalog:   catalog,
		ledger:    ledger,
		publisher: publisher,
		rates:     rates,
		logger:    log,
		locks:     newKeyedMutex(),
	}
}

// CreateOrder resolves the cart into frozen prices and persists the order
// in pending_payment. Stock is not checked here: consumption only becomes
// real at payment confirmation.
func (e *Engine) CreateOrder(ctx context.Context, actor models.Actor, req models.CreateOrderRequest) (*models.Order, error) {
	itemIDs := make([]int64, 0, len(req.Items))
	for _, line := range req.Items {
		itemIDs = append(itemIDs, line.ItemID)
	}

	snap, err := e.catalog.Snapshot(ctx, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("catalog snapshot: %w", err)
	}
	discounts, err := e.catalog.ActiveDiscounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load discounts: %w", err)
	}

	priced, err := pricing.Resolve(req.Items, snap, discounts, e.rates, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	order := buildOrder(actor, req, priced)
	event, err := e.store.CreateOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	e.publisher.Publish(*event)
	e.logger.Info("", "order_created", "Order "+order.Number+" created")
	return order, nil
}

// Transition advances one order to the target state. The per-order lock
// plus the store's row lock make the read-validate-write-emit path a single
// serialization unit: of two concurrent calls, exactly one commits.
func (e *Engine) Transition(ctx context.Context, actor models.Actor, orderNumber string, req models.TransitionRequest) (*models.Order, error) {
	unlock := e.locks.Lock(orderNumber)
	defer unlock()

	var plan *TransitionPlan
	order, event, err := e.store.Transition(ctx, orderNumber, func(o *models.Order) (*TransitionPlan, error) {
		p, err := e.decide(ctx, o, actor, req)
		if err != nil {
			return nil, err
		}
		plan = p
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	if plan != nil && len(plan.Deduct) > 0 {
		e.ledger.InvalidateForOrder(ctx, plan.Deduct)
	}

	e.publisher.Publish(*event)
	e.logger.Info("", "order_transitioned",
		fmt.Sprintf("Order %s is now %s", order.Number, order.Status))
	return order, nil
}

func (e *Engine) decide(ctx context.Context, o *models.Order, actor models.Actor, req models.TransitionRequest) (*TransitionPlan, error) {
	target := req.Target
	if o.Status == target {
		return nil, ErrAlreadyProcessed
	}
	if !CanTransition(o.Status, target) {
		return nil, &IllegalTransitionError{OrderNumber: o.Number, From: o.Status, To: target}
	}

	plan := &TransitionPlan{
		To:    target,
		Event: EventFor(target),
		Actor: actor,
	}
	if req.Reason != nil {
		plan.Reason = *req.Reason
	}

	switch {
	case target == models.StatusPaidWaitingPreparation:
		if req.PaymentMethod == nil {
			return nil, ErrPaymentMethodRequired
		}
		plan.PaymentMethod = req.PaymentMethod

		reqs, err := stockledger.AggregateRequirements(ctx, o.Lines, e.catalog.Recipe)
		if err != nil {
			return nil, err
		}
		plan.Deduct = reqs

	case target.Cancelled():
		plan.Reverse = stockConsumed(o.Status)
	}

	return plan, nil
}

// GetOrder, ListActive, ListCompleted and BaristaQueue pass through to the
// store; reads never touch live catalog prices.
func (e *Engine) GetOrder(ctx context.Context, orderNumber string) (*models.Order, error) {
	return e.store.GetOrder(ctx, orderNumber)
}

func (e *Engine) ListActive(ctx context.Context) ([]models.Order, error) {
	return e.store.ListActive(ctx)
}

func (e *Engine) ListCompleted(ctx context.Context) ([]models.Order, error) {
	return e.store.ListCompleted(ctx)
}

func (e *Engine) BaristaQueue(ctx context.Context) ([]models.OrderSummary, error) {
	return e.store.BaristaQueue(ctx)
}

func buildOrder(actor models.Actor, req models.CreateOrderRequest, priced *pricing.PricedOrder) *models.Order {
	order := &models.Order{
		Status:              models.StatusPendingPayment,
		SubtotalCents:       priced.SubtotalCents,
		DiscountCents:       priced.DiscountCents,
		FinalTotalCents:     priced.FinalTotalCents,
		SubtotalSecondary:   priced.SubtotalSecondary,
		DiscountSecondary:   priced.DiscountSecondary,
		FinalTotalSecondary: priced.FinalTotalSecondary,
		ExchangeRate:        priced.ExchangeRate,
		RoundingFactor:      priced.RoundingFactor,
		CustomerRef:         req.CustomerRef,
		Notes:               req.Notes,
		CreatedBy:           actor.ID,
	}

	for _, line := range priced.Lines {
		order.Lines = append(order.Lines, models.OrderLine{
			ItemID:             line.ItemID,
			VariantID:          line.VariantID,
			ItemName:           line.ItemName,
			VariantName:        line.VariantName,
			Quantity:           line.Quantity,
			UnitPriceCents:     line.UnitPriceCents,
			UnitPriceSecondary: line.UnitPriceSecondary,
			DiscountCents:      line.DiscountCents,
			LineTotalCents:     line.LineTotalCents,
			LineTotalSecondary: line.LineTotalSecondary,
		})
	}

	return order
}
