package handler

import (
	"net/http"

	"cafepos/internal/dashboard"
	"cafepos/internal/orderservice/middleware"
	"cafepos/pkg/logger"
)

type DashboardHandler struct {
	aggregator *dashboard.Aggregator
	logger     *logger.Logger
}

func NewDashboardHandler(agg *dashboard.Aggregator, log *logger.Logger) *DashboardHandler {
	return &DashboardHandler{aggregator: agg, logger: log}
}

// Stats handles GET /dashboard/stats. Figures come from the in-memory
// aggregator, not a database scan.
func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	if !dashboardRoles[actor.Role] {
		jsonError(w, http.StatusForbidden, "forbidden",
			"role "+string(actor.Role)+" may not view dashboard statistics")
		return
	}
	jsonResponse(w, http.StatusOK, h.aggregator.Snapshot())
}
