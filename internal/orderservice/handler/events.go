package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"cafepos/internal/hub"
	"cafepos/internal/orderservice/middleware"
	"cafepos/pkg/logger"
	"cafepos/pkg/models"
)

const heartbeatInterval = 15 * time.Second

type EventsHandler struct {
	hub    *hub.Hub
	logger *logger.Logger
}

func NewEventsHandler(h *hub.Hub, log *logger.Logger) *EventsHandler {
	return &EventsHandler{hub: h, logger: log}
}

// Stream handles GET /events as server-sent events. Topics come from the
// query string (default: orders); the dashboard topic is additionally
// role-filtered by the hub itself. A subscriber that falls behind receives
// its next event with resync=true and should re-pull snapshot state.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	actor, _ := middleware.ActorFrom(r.Context())
	requestID := middleware.RequestIDFrom(r.Context())

	topics := []string{models.TopicOrders}
	if raw := r.URL.Query().Get("topics"); raw != "" {
		topics = strings.Split(raw, ",")
	}

	subscriberID := fmt.Sprintf("%d-%s", actor.ID, uuid.NewString())
	sub := h.hub.Subscribe(subscriberID, actor.Role, topics)
	defer h.hub.Unsubscribe(subscriberID)

	middleware.LiveSubscribers.Inc()
	defer middleware.LiveSubscribers.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Info(requestID, "events_stream_opened",
		"Live event stream opened for "+actor.Name+" ("+string(actor.Role)+")")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug(requestID, "events_stream_closed", "Client disconnected")
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case evt, open := <-sub.Events():
			if !open {
				return
			}
			if sub.TakeGap() {
				evt.Resync = true
			}
			body, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, body)
			flusher.Flush()
		}
	}
}
