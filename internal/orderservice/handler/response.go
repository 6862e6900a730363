package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"cafepos/internal/orderengine"
	"cafepos/internal/pricing"
	"cafepos/internal/stockledger"
	"cafepos/pkg/models"
)

// errorBody is the uniform error envelope. Conflict responses carry the
// authoritative current state so clients can re-render without a follow-up
// read.
type errorBody struct {
	Kind          string                 `json:"kind"`
	Message       string                 `json:"message"`
	OrderNumber   string                 `json:"order_number,omitempty"`
	CurrentStatus models.Status          `json:"current_status,omitempty"`
	Shortages     []stockledger.Shortage `json:"shortages,omitempty"`
}

func jsonResponse(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// jsonDomainError maps engine, pricing and ledger errors onto HTTP codes.
// Unrecognized errors become opaque 500s; internals never leak.
func jsonDomainError(w http.ResponseWriter, err error) {
	var illegal *orderengine.IllegalTransitionError
	var insufficient *stockledger.InsufficientStockError

	switch {
	case errors.Is(err, orderengine.ErrOrderNotFound):
		jsonResponse(w, http.StatusNotFound, errorBody{Kind: "order_not_found", Message: err.Error()})

	case errors.As(err, &illegal):
		jsonResponse(w, http.StatusConflict, errorBody{
			Kind:          "illegal_transition",
			Message:       err.Error(),
			OrderNumber:   illegal.OrderNumber,
			CurrentStatus: illegal.From,
		})

	case errors.As(err, &insufficient):
		jsonResponse(w, http.StatusConflict, errorBody{
			Kind:      "insufficient_stock",
			Message:   err.Error(),
			Shortages: insufficient.Shortages,
		})

	case errors.Is(err, orderengine.ErrPaymentMethodRequired),
		errors.Is(err, pricing.ErrEmptyCart),
		errors.Is(err, pricing.ErrInvalidSelection),
		errors.Is(err, pricing.ErrNoActivePricing),
		errors.Is(err, stockledger.ErrUnknownKind):
		jsonResponse(w, http.StatusBadRequest, errorBody{Kind: "invalid_request", Message: err.Error()})

	case errors.Is(err, stockledger.ErrNegativeStock):
		jsonResponse(w, http.StatusConflict, errorBody{Kind: "negative_stock", Message: err.Error()})

	default:
		jsonResponse(w, http.StatusInternalServerError, errorBody{
			Kind:    "internal",
			Message: "internal server error",
		})
	}
}

func jsonError(w http.ResponseWriter, code int, kind, message string) {
	jsonResponse(w, code, errorBody{Kind: kind, Message: message})
}
