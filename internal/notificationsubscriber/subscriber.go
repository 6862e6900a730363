// Package notificationsubscriber consumes the notifications fanout and
// renders each order event as a human-readable line for the counter
// displays. It keeps no state; a restart simply resumes from the next
// delivery.
package notificationsubscriber

import (
	"context"
	"encoding/json"
	"fmt"

	"cafepos/pkg/config"
	"cafepos/pkg/logger"
	"cafepos/pkg/models"
	"cafepos/pkg/rabbitmq"
)

type Subscriber struct {
	config   *config.Config
	logger   *logger.Logger
	rabbitMQ *rabbitmq.RabbitMQ
}

func NewSubscriber(cfg *config.Config, log *logger.Logger) *Subscriber {
	return &Subscriber{config: cfg, logger: log}
}

// Run consumes until ctx is cancelled. The queue is server-named and
// exclusive: every subscriber instance sees the full event stream.
func (s *Subscriber) Run(ctx context.Context) error {
	rm, err := rabbitmq.ConnectRabbitMQ(&s.config.RabbitMQ, s.logger)
	if err != nil {
		return err
	}
	s.rabbitMQ = rm
	defer rm.Close()

	deliveries, err := rm.ConsumeNotifications()
	if err != nil {
		return err
	}

	s.logger.Info("startup", "subscriber_started", "Notification subscriber consuming order events")

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, open := <-deliveries:
			if !open {
				return fmt.Errorf("notification channel closed")
			}

			var event models.DomainEvent
			if err := json.Unmarshal(delivery.Body, &event); err != nil {
				s.logger.Warn("", "event_decode_failed", "Skipping undecodable event: "+err.Error())
				continue
			}
			s.notify(event)
		}
	}
}

// notify prints the friendly line for one event. Unknown kinds are logged
// raw rather than dropped, so new event types surface during rollout.
func (s *Subscriber) notify(event models.DomainEvent) {
	var message string
	switch event.Kind {
	case models.EventOrderCreated:
		message = fmt.Sprintf("New order %s for customer %s: %d item(s), %s",
			event.OrderNumber, event.Summary.CustomerNumber,
			event.Summary.ItemCount, formatTotals(event.Summary))
	case models.EventOrderPaid:
		message = fmt.Sprintf("Order %s paid (%s), sent to the bar", event.OrderNumber, formatTotals(event.Summary))
	case models.EventPreparationStarted:
		message = fmt.Sprintf("Order %s is being prepared", event.OrderNumber)
	case models.EventOrderReady:
		message = fmt.Sprintf("Order %s is ready, calling customer %s",
			event.OrderNumber, event.Summary.CustomerNumber)
	case models.EventOrderCompleted:
		message = fmt.Sprintf("Order %s handed out, have a nice day", event.OrderNumber)
	case models.EventOrderCancelled:
		message = fmt.Sprintf("Order %s was cancelled", event.OrderNumber)
	case models.EventDashboardUpdated:
		return // dashboards pull their own feed
	default:
		message = fmt.Sprintf("Order %s: %s", event.OrderNumber, event.Kind)
	}

	s.logger.Info("", "notification", message)
}

func formatTotals(summary models.EventSummary) string {
	return fmt.Sprintf("$%d.%02d / %d LBP",
		summary.FinalTotalCents/100, summary.FinalTotalCents%100, summary.FinalTotalSecondary)
}
