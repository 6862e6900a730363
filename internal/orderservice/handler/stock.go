package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"cafepos/internal/orderservice/middleware"
	"cafepos/internal/stockledger"
	"cafepos/pkg/logger"
	"cafepos/pkg/models"
)

type StockHandler struct {
	ledger *stockledger.Ledger
	logger *logger.Logger
}

func NewStockHandler(ledger *stockledger.Ledger, log *logger.Logger) *StockHandler {
	return &StockHandler{ledger: ledger, logger: log}
}

// Adjust handles POST /stock/adjust: manual, restock or waste entries.
func (h *StockHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	requestID := middleware.RequestIDFrom(r.Context())

	if !stockRoles[actor.Role] {
		jsonError(w, http.StatusForbidden, "forbidden",
			"role "+string(actor.Role)+" may not adjust stock")
		return
	}

	var req models.AdjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Reason == "" {
		jsonError(w, http.StatusBadRequest, "invalid_request", "reason is required")
		return
	}

	entry, err := h.ledger.Adjust(r.Context(), req, actor.ID)
	if err != nil {
		h.logger.Warn(requestID, "stock_adjust_rejected", err.Error())
		jsonDomainError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, entry)
}

// Adjustments handles GET /stock/adjustments?ingredient_id=&days=.
func (h *StockHandler) Adjustments(w http.ResponseWriter, r *http.Request) {
	var ingredientID *int64
	if raw := r.URL.Query().Get("ingredient_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid_request", "ingredient_id must be an integer")
			return
		}
		ingredientID = &id
	}
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))

	entries, err := h.ledger.Adjustments(r.Context(), ingredientID, days)
	if err != nil {
		jsonDomainError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"adjustments": entries})
}

// Levels handles GET /stock/levels: every active ingredient with its
// quantity and low-stock flag.
func (h *StockHandler) Levels(w http.ResponseWriter, r *http.Request) {
	levels, err := h.ledger.Levels(r.Context())
	if err != nil {
		jsonDomainError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"levels": levels})
}
