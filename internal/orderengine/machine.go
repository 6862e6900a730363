package orderengine

import (
	"errors"
	"fmt"

	"cafepos/pkg/models"
)

var (
	// ErrAlreadyProcessed is an idempotency hit: the order is already in
	// the requested state. Callers treat it as success.
	ErrAlreadyProcessed = errors.New("transition already applied")

	ErrPaymentMethodRequired = errors.New("payment method is required")
	ErrOrderNotFound         = errors.New("order not found")
)

// IllegalTransitionError names the current and requested state so clients
// can re-render from the authoritative one.
type IllegalTransitionError struct {
	OrderNumber string
	From        models.Status
	To          models.Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("order %s: illegal transition from %s to %s", e.OrderNumber, e.From, e.To)
}

// transitions is the complete legal table. Terminal states have no
// successors; every non-terminal state may cancel.
var transitions = map[models.Status][]models.Status{
	models.StatusPendingPayment: {
		models.StatusPaidWaitingPreparation,
		models.StatusCancelledByUser,
		models.StatusCancelledByStaff,
	},
	models.StatusPaidWaitingPreparation: {
		models.StatusPreparing,
		models.StatusCancelledByUser,
		models.StatusCancelledByStaff,
	},
	models.StatusPreparing: {
		models.StatusReadyForPickup,
		models.StatusCancelledByUser,
		models.StatusCancelledByStaff,
	},
	models.StatusReadyForPickup: {
		models.StatusCompleted,
		models.StatusCancelledByUser,
		models.StatusCancelledByStaff,
	},
}

// CanTransition reports whether from -> to is in the legal table.
func CanTransition(from, to models.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EventFor maps a target state to the event kind its transition emits.
func EventFor(to models.Status) models.EventKind {
	switch to {
	case models.StatusPaidWaitingPreparation:
		return models.EventOrderPaid
	case models.StatusPreparing:
		return models.EventPreparationStarted
	case models.StatusReadyForPickup:
		return models.EventOrderReady
	case models.StatusCompleted:
		return models.EventOrderCompleted
	case models.StatusCancelledByUser, models.StatusCancelledByStaff:
		return models.EventOrderCancelled
	}
	return models.EventOrderCreated
}

// stockConsumed reports whether an order in this state has had its
// ingredients deducted, which a cancellation must compensate.
func stockConsumed(s models.Status) bool {
	switch s {
	case models.StatusPaidWaitingPreparation, models.StatusPreparing, models.StatusReadyForPickup:
		return true
	}
	return false
}
