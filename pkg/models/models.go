package models

import (
	"time"
)

// Role of an authenticated staff member, as asserted by the identity
// provider. The engine trusts it for audit fields and transition policy.
type Role string

const (
	RoleCashier Role = "cashier"
	RoleBarista Role = "barista"
	RoleCourier Role = "courier"
	RoleManager Role = "manager"
)

// Actor is the authenticated staff member performing a request.
type Actor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

type Status string

const (
	StatusPendingPayment         Status = "pending_payment"
	StatusPaidWaitingPreparation Status = "paid_waiting_preparation"
	StatusPreparing              Status = "preparing"
	StatusReadyForPickup         Status = "ready_for_pickup"
	StatusCompleted              Status = "completed"
	StatusCancelledByUser        Status = "cancelled_by_user"
	StatusCancelledByStaff       Status = "cancelled_by_staff"
)

type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "cash"
	PaymentCard  PaymentMethod = "card"
	PaymentMixed PaymentMethod = "mixed"
)

// Order is the canonical order record. Money is stored frozen at creation
// time: base currency in cents, secondary currency as pre-rounded integer
// units, together with the exchange-rate snapshot that produced them.
type Order struct {
	ID             int64  `json:"id"`
	Number         string `json:"number"`
	CustomerNumber string `json:"customer_number"`
	Status         Status `json:"status"`

	SubtotalCents       int64 `json:"subtotal_usd_cents"`
	DiscountCents       int64 `json:"discount_usd_cents"`
	FinalTotalCents     int64 `json:"final_total_usd_cents"`
	SubtotalSecondary   int64 `json:"subtotal_lbp"`
	DiscountSecondary   int64 `json:"discount_lbp"`
	FinalTotalSecondary int64 `json:"final_total_lbp"`
	ExchangeRate        int64 `json:"exchange_rate"`
	RoundingFactor      int64 `json:"rounding_factor"`

	PaymentMethod *PaymentMethod `json:"payment_method,omitempty"`
	CustomerRef   *string        `json:"customer_ref,omitempty"`
	Notes         *string        `json:"notes,omitempty"`

	CreatedBy   int64  `json:"created_by"`
	PaidBy      *int64 `json:"paid_by,omitempty"`
	PreparedBy  *int64 `json:"prepared_by,omitempty"`
	DeliveredBy *int64 `json:"delivered_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Lines []OrderLine `json:"items,omitempty"`
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelledByUser, StatusCancelledByStaff:
		return true
	}
	return false
}

func (s Status) Cancelled() bool {
	return s == StatusCancelledByUser || s == StatusCancelledByStaff
}

// OrderLine is owned by its order. Names and unit prices are captured at
// creation; later catalog edits never touch historical lines.
type OrderLine struct {
	ID        int64  `json:"id"`
	OrderID   int64  `json:"order_id"`
	ItemID    int64  `json:"menu_item_id"`
	VariantID *int64 `json:"variant_id,omitempty"`

	ItemName    string  `json:"menu_item_name"`
	VariantName *string `json:"variant_name,omitempty"`
	Quantity    int     `json:"quantity"`

	UnitPriceCents     int64 `json:"unit_price_usd_cents"`
	UnitPriceSecondary int64 `json:"unit_price_lbp"`
	DiscountCents      int64 `json:"discount_usd_cents"`
	LineTotalCents     int64 `json:"line_total_usd_cents"`
	LineTotalSecondary int64 `json:"line_total_lbp"`
}

type StockEntryKind string

const (
	StockManual           StockEntryKind = "manual"
	StockOrderConsumption StockEntryKind = "order_consumption"
	StockRestock          StockEntryKind = "restock"
	StockWaste            StockEntryKind = "waste"
)

// StockEntry is one immutable row of the append-only stock ledger. Delta is
// signed, in the ingredient's smallest unit of measure.
type StockEntry struct {
	ID           int64          `json:"id"`
	IngredientID int64          `json:"ingredient_id"`
	Delta        int64          `json:"delta"`
	Kind         StockEntryKind `json:"kind"`
	OrderID      *int64         `json:"order_id,omitempty"`
	Reason       string         `json:"reason"`
	ActorID      int64          `json:"actor_id"`
	CreatedAt    time.Time      `json:"created_at"`
}

type StockLevel struct {
	IngredientID     int64  `json:"ingredient_id"`
	Name             string `json:"name"`
	Unit             string `json:"unit"`
	Quantity         int64  `json:"quantity"`
	ReorderThreshold int64  `json:"reorder_threshold"`
	LowStock         bool   `json:"low_stock"`
}

type EventKind string

const (
	EventOrderCreated       EventKind = "order_created"
	EventOrderPaid          EventKind = "order_paid"
	EventPreparationStarted EventKind = "preparation_started"
	EventOrderReady         EventKind = "order_ready"
	EventOrderCompleted     EventKind = "order_completed"
	EventOrderCancelled     EventKind = "order_cancelled"
	EventDashboardUpdated   EventKind = "dashboard_updated"
)

const (
	TopicOrders    = "orders"
	TopicDashboard = "dashboard"
)

// DomainEvent is emitted once per successful order transition. Seq comes
// from a global database sequence, so subscribers can dedup after
// reconnects. Resync is set by the hub when the subscriber's buffer
// overflowed and it should re-pull snapshot state.
type DomainEvent struct {
	Seq         int64        `json:"seq"`
	Kind        EventKind    `json:"kind"`
	Topic       string       `json:"topic"`
	OrderID     int64        `json:"order_id,omitempty"`
	OrderNumber string       `json:"order_number,omitempty"`
	Status      Status       `json:"status,omitempty"`
	OccurredAt  time.Time    `json:"occurred_at"`
	Summary     EventSummary `json:"summary"`
	Resync      bool         `json:"resync,omitempty"`
}

// EventSummary is the compact payload dashboards render without a follow-up
// query. Dashboard-topic events fill the aggregate fields instead.
type EventSummary struct {
	CustomerNumber      string `json:"customer_number,omitempty"`
	ItemCount           int    `json:"item_count,omitempty"`
	FinalTotalCents     int64  `json:"final_total_usd_cents,omitempty"`
	FinalTotalSecondary int64  `json:"final_total_lbp,omitempty"`

	RevenueCents     int64 `json:"revenue_usd_cents,omitempty"`
	RevenueSecondary int64 `json:"revenue_lbp,omitempty"`
	OrdersToday      int   `json:"orders_today,omitempty"`
	ActiveOrders     int   `json:"active_orders,omitempty"`
}

type DiscountType string

const (
	DiscountPercentage  DiscountType = "percentage"
	DiscountFixedAmount DiscountType = "fixed_amount"
)

type DiscountTarget string

const (
	DiscountAppliesToOrder DiscountTarget = "order"
	DiscountAppliesToItem  DiscountTarget = "item"
)

// Discount is read-only input to pricing. Value is basis points for
// percentage discounts (1000 = 10%) and cents for fixed amounts.
type Discount struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Type      DiscountType   `json:"type"`
	Value     int64          `json:"value"`
	AppliesTo DiscountTarget `json:"applies_to"`
	ItemID    *int64         `json:"menu_item_id,omitempty"`
	Active    bool           `json:"is_active"`
	StartDate *time.Time     `json:"start_date,omitempty"`
	EndDate   *time.Time     `json:"end_date,omitempty"`
}

// InWindow reports whether the discount may apply at the given time.
func (d Discount) InWindow(now time.Time) bool {
	if !d.Active {
		return false
	}
	if d.StartDate != nil && now.Before(*d.StartDate) {
		return false
	}
	if d.EndDate != nil && now.After(*d.EndDate) {
		return false
	}
	return true
}

// CatalogItem and Variant are read-only lookups owned by catalog
// management. BasePriceCents is nil for items sold only through variants.
type CatalogItem struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	BasePriceCents *int64    `json:"base_price_usd_cents,omitempty"`
	Active         bool      `json:"is_active"`
	Variants       []Variant `json:"variants,omitempty"`
}

type Variant struct {
	ID         int64  `json:"id"`
	ItemID     int64  `json:"menu_item_id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_usd_cents"`
}

// RecipeLine maps one ingredient consumed per unit of a catalog item.
type RecipeLine struct {
	IngredientID   int64  `json:"ingredient_id"`
	IngredientName string `json:"ingredient_name"`
	AmountPerUnit  int64  `json:"amount_per_unit"`
}

// ---- API request/response shapes ----

type CartLine struct {
	ItemID    int64  `json:"menu_item_id"`
	VariantID *int64 `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderRequest struct {
	Items       []CartLine `json:"items"`
	CustomerRef *string    `json:"customer_ref,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
}

type CreateOrderResponse struct {
	OrderNumber         string `json:"order_number"`
	CustomerNumber      string `json:"customer_number"`
	Status              Status `json:"status"`
	FinalTotalCents     int64  `json:"final_total_usd_cents"`
	FinalTotalSecondary int64  `json:"final_total_lbp"`
}

type TransitionRequest struct {
	Target        Status         `json:"target"`
	PaymentMethod *PaymentMethod `json:"payment_method,omitempty"`
	Reason        *string        `json:"reason,omitempty"`
}

type TransitionResponse struct {
	OrderNumber string `json:"order_number"`
	Status      Status `json:"status"`
}

type AdjustStockRequest struct {
	IngredientID int64          `json:"ingredient_id"`
	Delta        int64          `json:"delta"`
	Kind         StockEntryKind `json:"kind"`
	Reason       string         `json:"reason"`
}

// DashboardStats is the aggregator snapshot served to dashboards.
type DashboardStats struct {
	Day              string         `json:"day"`
	RevenueCents     int64          `json:"revenue_usd_cents"`
	RevenueSecondary int64          `json:"revenue_lbp"`
	OrdersToday      int            `json:"orders_today"`
	CompletedToday   int            `json:"completed_today"`
	ActiveOrders     int            `json:"active_orders"`
	HourlyRevenue    [24]int64      `json:"hourly_revenue_usd_cents"`
	HourlyOrders     [24]int        `json:"hourly_orders"`
	Active           []OrderSummary `json:"active"`
}

// OrderSummary is the list form of an order used by queues and dashboards.
type OrderSummary struct {
	OrderNumber         string    `json:"order_number"`
	CustomerNumber      string    `json:"customer_number"`
	Status              Status    `json:"status"`
	ItemsSummary        string    `json:"items_summary"`
	FinalTotalCents     int64     `json:"final_total_usd_cents"`
	FinalTotalSecondary int64     `json:"final_total_lbp"`
	CreatedAt           time.Time `json:"created_at"`
}
