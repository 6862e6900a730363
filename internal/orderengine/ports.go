package orderengine

import (
	"context"

	"cafepos/internal/pricing"
	"cafepos/internal/stockledger"
	"cafepos/pkg/models"
)

// TransitionPlan is what a decided transition will do once the store
// commits it: the state write plus its ledger side effects, all in one
// atomic unit.
type TransitionPlan struct {
	To            models.Status
	Event         models.EventKind
	Actor         models.Actor
	PaymentMethod *models.PaymentMethod
	Deduct        []stockledger.Requirement
	Reverse       bool
	Reason        string
}

// DecideFunc runs with the order row locked. Returning an error aborts the
// transition with no side effects.
type DecideFunc func(order *models.Order) (*TransitionPlan, error)

// Store owns order persistence. Transition must lock the order, call
// decide, and commit the plan (state write, ledger effects, event append)
// atomically — or roll everything back.
type Store interface {
	CreateOrder(ctx context.Context, order *models.Order) (*models.DomainEvent, error)
	Transition(ctx context.Context, orderNumber string, decide DecideFunc) (*models.Order, *models.DomainEvent, error)
	GetOrder(ctx context.Context, orderNumber string) (*models.Order, error)
	ListActive(ctx context.Context) ([]models.Order, error)
	ListCompleted(ctx context.Context) ([]models.Order, error)
	BaristaQueue(ctx context.Context) ([]models.OrderSummary, error)
}

// Catalog is the read-only boundary to catalog management.
type Catalog interface {
	Snapshot(ctx context.Context, itemIDs []int64) (pricing.Snapshot, error)
	ActiveDiscounts(ctx context.Context) ([]models.Discount, error)
	Recipe(ctx context.Context, itemID int64, variantID *int64) ([]models.RecipeLine, error)
}

// EventPublisher receives each committed domain event exactly once from the
// engine. Implementations must not block.
type EventPublisher interface {
	Publish(event models.DomainEvent)
}
