package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"cafepos/internal/orderengine"
	"cafepos/internal/orderservice/middleware"
	"cafepos/pkg/logger"
	"cafepos/pkg/models"
)

type OrderHandler struct {
	engine *orderengine.Engine
	logger *logger.Logger
}

func NewOrderHandler(engine *orderengine.Engine, log *logger.Logger) *OrderHandler {
	return &OrderHandler{engine: engine, logger: log}
}

// CreateOrder handles POST /orders. The new order lands in pending_payment
// with every price frozen.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	requestID := middleware.RequestIDFrom(r.Context())

	if !createRoles[actor.Role] {
		jsonError(w, http.StatusForbidden, "forbidden",
			"role "+string(actor.Role)+" may not create orders")
		return
	}

	var req models.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	order, err := h.engine.CreateOrder(r.Context(), actor, req)
	if err != nil {
		h.logger.Error(requestID, "order_create_failed", "Order creation failed", err)
		jsonDomainError(w, err)
		return
	}

	middleware.OrdersCreated.Inc()
	jsonResponse(w, http.StatusCreated, models.CreateOrderResponse{
		OrderNumber:         order.Number,
		CustomerNumber:      order.CustomerNumber,
		Status:              order.Status,
		FinalTotalCents:     order.FinalTotalCents,
		FinalTotalSecondary: order.FinalTotalSecondary,
	})
}

// Transition handles POST /orders/{number}/transition. The role policy is
// checked here; state legality is the engine's concern.
func (h *OrderHandler) Transition(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	requestID := middleware.RequestIDFrom(r.Context())
	orderNumber := r.PathValue("number")

	var req models.TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	if !roleMayTransition(actor.Role, req.Target) {
		jsonError(w, http.StatusForbidden, "forbidden",
			"role "+string(actor.Role)+" may not set status "+string(req.Target))
		return
	}

	order, err := h.engine.Transition(r.Context(), actor, orderNumber, req)
	if errors.Is(err, orderengine.ErrAlreadyProcessed) {
		// Idempotency hit: report the current state as success.
		current, getErr := h.engine.GetOrder(r.Context(), orderNumber)
		if getErr != nil {
			jsonDomainError(w, getErr)
			return
		}
		jsonResponse(w, http.StatusOK, models.TransitionResponse{
			OrderNumber: current.Number,
			Status:      current.Status,
		})
		return
	}
	if err != nil {
		h.logger.Warn(requestID, "order_transition_rejected",
			"Transition of "+orderNumber+" rejected: "+err.Error())
		jsonDomainError(w, err)
		return
	}

	middleware.OrderTransitions.WithLabelValues(string(order.Status)).Inc()
	jsonResponse(w, http.StatusOK, models.TransitionResponse{
		OrderNumber: order.Number,
		Status:      order.Status,
	})
}

// GetOrder handles GET /orders/{number}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.engine.GetOrder(r.Context(), r.PathValue("number"))
	if err != nil {
		jsonDomainError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, order)
}

// ListActive handles GET /orders/active.
func (h *OrderHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	orders, err := h.engine.ListActive(r.Context())
	if err != nil {
		jsonDomainError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"orders": orders})
}

// ListCompleted handles GET /orders/completed.
func (h *OrderHandler) ListCompleted(w http.ResponseWriter, r *http.Request) {
	orders, err := h.engine.ListCompleted(r.Context())
	if err != nil {
		jsonDomainError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"orders": orders})
}

// BaristaQueue handles GET /orders/barista-queue: paid and in-preparation
// orders, oldest first.
func (h *OrderHandler) BaristaQueue(w http.ResponseWriter, r *http.Request) {
	queue, err := h.engine.BaristaQueue(r.Context())
	if err != nil {
		jsonDomainError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"queue": queue})
}
