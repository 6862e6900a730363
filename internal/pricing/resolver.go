// Package pricing resolves cart prices into frozen order totals. Everything
// here is a pure function of its inputs: the catalog snapshot, the active
// discounts and the exchange-rate snapshot taken at order creation.
package pricing

import (
	"errors"
	"fmt"
	"time"

	"cafepos/pkg/models"
)

var (
	ErrInvalidSelection = errors.New("invalid item or variant selection")
	ErrNoActivePricing  = errors.New("item has no active pricing")
	ErrEmptyCart        = errors.New("cart is empty")
)

// Snapshot is the read-only slice of the catalog a cart resolves against.
type Snapshot struct {
	Items map[int64]models.CatalogItem
}

// Config is the exchange-rate snapshot. Rate is secondary units per one
// base unit; Factor is the rounding granularity of the secondary currency.
type Config struct {
	ExchangeRate   int64
	RoundingFactor int64
}

type PricedLine struct {
	ItemID      int64
	VariantID   *int64
	ItemName    string
	VariantName *string
	Quantity    int

	UnitPriceCents     int64
	UnitPriceSecondary int64
	DiscountCents      int64
	LineTotalCents     int64
	LineTotalSecondary int64
}

// PricedOrder freezes every amount, name and the rate used. Callers must
// not re-derive any field from the others: the secondary-currency fields
// are each rounded independently.
type PricedOrder struct {
	Lines []PricedLine

	SubtotalCents   int64
	DiscountCents   int64
	FinalTotalCents int64

	SubtotalSecondary   int64
	DiscountSecondary   int64
	FinalTotalSecondary int64

	ExchangeRate   int64
	RoundingFactor int64
}

// RoundToFactor rounds amount to the nearest multiple of factor, half-up on
// ties. A factor of zero or less leaves the amount untouched.
func RoundToFactor(amount, factor int64) int64 {
	if factor <= 0 {
		return amount
	}
	if amount >= 0 {
		return (amount*2 + factor) / (factor * 2) * factor
	}
	return -((-amount*2 + factor) / (factor * 2) * factor)
}

// ToSecondary converts base-currency cents into rounded secondary units.
// cents*rate is in hundredths of a secondary unit, so the rounding factor
// scales by 100 before the final division back to whole units.
func ToSecondary(cents int64, cfg Config) int64 {
	return RoundToFactor(cents*cfg.ExchangeRate, cfg.RoundingFactor*100) / 100
}

// Resolve prices the cart against the snapshot. It validates every line,
// applies item-level discounts before order-level ones, computes percentage
// discounts off the pre-fixed-discount subtotal, floors the final total at
// zero, and converts each total to the secondary currency independently.
func Resolve(cart []models.CartLine, snap Snapshot, discounts []models.Discount, cfg Config, now time.Time) (*PricedOrder, error) {
	if len(cart) == 0 {
		return nil, ErrEmptyCart
	}

	order := &PricedOrder{
		ExchangeRate:   cfg.ExchangeRate,
		RoundingFactor: cfg.RoundingFactor,
	}

	active := activeDiscounts(discounts, now)

	for _, line := range cart {
		priced, err := resolveLine(line, snap, cfg)
		if err != nil {
			return nil, err
		}

		priced.DiscountCents = itemDiscount(active, line.ItemID, priced.LineTotalCents)
		order.Lines = append(order.Lines, *priced)
		order.SubtotalCents += priced.LineTotalCents
		order.DiscountCents += priced.DiscountCents
	}

	// Order-level percentages apply to the subtotal net of item-level
	// discounts, before any fixed amounts come off.
	percentBase := order.SubtotalCents - order.DiscountCents
	for _, d := range active {
		if d.AppliesTo != models.DiscountAppliesToOrder {
			continue
		}
		switch d.Type {
		case models.DiscountPercentage:
			order.DiscountCents += percentBase * d.Value / 10000
		case models.DiscountFixedAmount:
			order.DiscountCents += d.Value
		}
	}

	order.FinalTotalCents = order.SubtotalCents - order.DiscountCents
	if order.FinalTotalCents < 0 {
		order.FinalTotalCents = 0
		order.DiscountCents = order.SubtotalCents
	}

	order.SubtotalSecondary = ToSecondary(order.SubtotalCents, cfg)
	order.DiscountSecondary = ToSecondary(order.DiscountCents, cfg)
	order.FinalTotalSecondary = ToSecondary(order.FinalTotalCents, cfg)

	return order, nil
}

func resolveLine(line models.CartLine, snap Snapshot, cfg Config) (*PricedLine, error) {
	if line.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidSelection)
	}

	item, ok := snap.Items[line.ItemID]
	if !ok || !item.Active {
		return nil, fmt.Errorf("%w: menu item %d not found or inactive", ErrInvalidSelection, line.ItemID)
	}

	priced := &PricedLine{
		ItemID:    item.ID,
		VariantID: line.VariantID,
		ItemName:  item.Name,
		Quantity:  line.Quantity,
	}

	switch {
	case line.VariantID != nil:
		variant, ok := findVariant(item, *line.VariantID)
		if !ok {
			return nil, fmt.Errorf("%w: variant %d does not belong to item %q", ErrInvalidSelection, *line.VariantID, item.Name)
		}
		priced.VariantName = &variant.Name
		priced.UnitPriceCents = variant.PriceCents
	case item.BasePriceCents != nil:
		priced.UnitPriceCents = *item.BasePriceCents
	default:
		return nil, fmt.Errorf("%w: item %q", ErrNoActivePricing, item.Name)
	}

	priced.UnitPriceSecondary = ToSecondary(priced.UnitPriceCents, cfg)
	priced.LineTotalCents = priced.UnitPriceCents * int64(line.Quantity)
	// Line display totals sum the rounded unit price, matching receipts.
	priced.LineTotalSecondary = priced.UnitPriceSecondary * int64(line.Quantity)

	return priced, nil
}

func findVariant(item models.CatalogItem, variantID int64) (models.Variant, bool) {
	for _, v := range item.Variants {
		if v.ID == variantID {
			return v, true
		}
	}
	return models.Variant{}, false
}

func activeDiscounts(discounts []models.Discount, now time.Time) []models.Discount {
	var active []models.Discount
	for _, d := range discounts {
		if d.InWindow(now) {
			active = append(active, d)
		}
	}
	return active
}

// itemDiscount totals every item-level discount matching the line's item.
// Percentage values are basis points of the line subtotal; fixed amounts
// apply once per line. The result never exceeds the line subtotal.
func itemDiscount(discounts []models.Discount, itemID, lineTotal int64) int64 {
	var total int64
	for _, d := range discounts {
		if d.AppliesTo != models.DiscountAppliesToItem {
			continue
		}
		if d.ItemID != nil && *d.ItemID != itemID {
			continue
		}
		switch d.Type {
		case models.DiscountPercentage:
			total += lineTotal * d.Value / 10000
		case models.DiscountFixedAmount:
			total += d.Value
		}
	}
	if total > lineTotal {
		total = lineTotal
	}
	return total
}
