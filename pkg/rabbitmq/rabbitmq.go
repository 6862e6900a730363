package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"cafepos/pkg/config"
	"cafepos/pkg/logger"
	"cafepos/pkg/models"
)

const (
	OrdersExchange        = "orders_topic"
	NotificationsExchange = "notifications_fanout"
)

type RabbitMQ struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
	logger  *logger.Logger
}

// ConnectRabbitMQ dials the broker and declares the two exchanges every
// service agrees on: a topic exchange for routed order events and a fanout
// exchange for notification subscribers.
func ConnectRabbitMQ(cfg *config.RabbitMQConfig, log *logger.Logger) (*RabbitMQ, error) {
	connStr := fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.VHost)

	conn, err := amqp.Dial(connStr)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	err = channel.ExchangeDeclare(
		OrdersExchange, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		conn.Close()
		return nil, err
	}

	err = channel.ExchangeDeclare(
		NotificationsExchange, // name
		"fanout",              // type
		true,                  // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		conn.Close()
		return nil, err
	}

	log.Info("", "rabbitmq_connected", "Connected to RabbitMQ")
	return &RabbitMQ{Conn: conn, Channel: channel, logger: log}, nil
}

// PublishEvent sends a domain event to both exchanges. The routing key on
// the topic exchange is orders.<kind> so consumers can bind selectively.
func (r *RabbitMQ) PublishEvent(ctx context.Context, event models.DomainEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}

	routingKey := "orders." + string(event.Kind)
	if err := r.Channel.PublishWithContext(ctx, OrdersExchange, routingKey, false, false, publishing); err != nil {
		return fmt.Errorf("publish to %s: %w", OrdersExchange, err)
	}

	if err := r.Channel.PublishWithContext(ctx, NotificationsExchange, "", false, false, publishing); err != nil {
		return fmt.Errorf("publish to %s: %w", NotificationsExchange, err)
	}

	return nil
}

// ConsumeNotifications binds a server-named exclusive queue to the fanout
// exchange and returns the delivery channel.
func (r *RabbitMQ) ConsumeNotifications() (<-chan amqp.Delivery, error) {
	q, err := r.Channel.QueueDeclare(
		"",    // name (let server generate)
		false, // durable
		false, // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	err = r.Channel.QueueBind(q.Name, "", NotificationsExchange, false, nil)
	if err != nil {
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	deliveries, err := r.Channel.Consume(
		q.Name, // queue
		"",     // consumer
		true,   // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	return deliveries, nil
}

func (r *RabbitMQ) IsAlive() bool {
	return r.Conn != nil && !r.Conn.IsClosed() && r.Channel != nil && !r.Channel.IsClosed()
}

func (r *RabbitMQ) Close() error {
	if r.Channel != nil && !r.Channel.IsClosed() {
		if err := r.Channel.Close(); err != nil {
			return fmt.Errorf("close rabbitmq channel: %w", err)
		}
	}
	if r.Conn != nil && !r.Conn.IsClosed() {
		if err := r.Conn.Close(); err != nil {
			return fmt.Errorf("close rabbitmq connection: %w", err)
		}
	}
	return nil
}
