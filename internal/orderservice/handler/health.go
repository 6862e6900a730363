package handler

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"cafepos/internal/hub"
	"cafepos/pkg/rabbitmq"
)

type HealthHandler struct {
	pool     *pgxpool.Pool
	rabbitMQ *rabbitmq.RabbitMQ
	hub      *hub.Hub
}

func NewHealthHandler(pool *pgxpool.Pool, rm *rabbitmq.RabbitMQ, h *hub.Hub) *HealthHandler {
	return &HealthHandler{pool: pool, rabbitMQ: rm, hub: h}
}

// Health handles GET /health. Degraded dependencies turn the response 503
// but name each check individually.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"database": "ok",
		"rabbitmq": "ok",
	}
	healthy := true

	if err := h.pool.Ping(r.Context()); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}
	if !h.rabbitMQ.IsAlive() {
		checks["rabbitmq"] = "connection closed"
		healthy = false
	}

	code := http.StatusOK
	status := "healthy"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	jsonResponse(w, code, map[string]any{
		"status":      status,
		"checks":      checks,
		"subscribers": h.hub.SubscriberCount(),
	})
}
