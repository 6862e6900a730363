// Package orderservice assembles the POS backend: Postgres, Redis and
// RabbitMQ connections, the order engine with its ledger and catalog, the
// live-event hub, the dashboard aggregator and the HTTP surface on top.
package orderservice

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"cafepos/internal/catalog"
	"cafepos/internal/dashboard"
	"cafepos/internal/hub"
	"cafepos/internal/orderengine"
	"cafepos/internal/orderservice/handler"
	"cafepos/internal/orderservice/middleware"
	"cafepos/internal/pricing"
	"cafepos/internal/stockledger"
	"cafepos/internal/store"
	"cafepos/pkg/config"
	"cafepos/pkg/db"
	"cafepos/pkg/logger"
	"cafepos/pkg/models"
	"cafepos/pkg/rabbitmq"
)

const publishTimeout = 2 * time.Second

type Server struct {
	config     *config.Config
	logger     *logger.Logger
	httpServer *http.Server
	rabbitMQ   *rabbitmq.RabbitMQ
	redis      *redis.Client
	hub        *hub.Hub
}

func NewServer(cfg *config.Config, log *logger.Logger) *Server {
	return &Server{config: cfg, logger: log}
}

// eventFanout delivers each committed domain event to the in-process hub
// and to RabbitMQ for out-of-process subscribers. The engine publishes
// while holding the per-order lock, so per-order ordering holds on both
// paths. A broker failure is logged, never propagated: the transition has
// already committed.
type eventFanout struct {
	hub      *hub.Hub
	rabbitMQ *rabbitmq.RabbitMQ
	logger   *logger.Logger
}

func (f *eventFanout) Publish(event models.DomainEvent) {
	f.hub.Publish(event)

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := f.rabbitMQ.PublishEvent(ctx, event); err != nil {
		f.logger.Error("", "event_publish_failed",
			"Failed to publish "+string(event.Kind)+" for "+event.OrderNumber, err)
	}
}

// Run blocks until ctx is cancelled or a component fails.
func (s *Server) Run(ctx context.Context) error {
	pool, err := db.ConnectDB(&s.config.Database, s.logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	rm, err := rabbitmq.ConnectRabbitMQ(&s.config.RabbitMQ, s.logger)
	if err != nil {
		return err
	}
	s.rabbitMQ = rm

	s.redis = redis.NewClient(&redis.Options{Addr: s.config.Redis.Addr})
	if err := s.redis.Ping(ctx).Err(); err != nil {
		// Redis is a best-effort cache; the service runs without it.
		s.logger.Warn("", "redis_unavailable", "Redis unreachable, running without cache: "+err.Error())
		s.redis = nil
	}

	s.hub = hub.NewHub(s.config.Hub.SubscriberBuffer, s.logger)
	s.hub.OnDrop(middleware.HubDroppedEvents.Inc)

	cache := stockledger.NewQuantityCache(s.redis, s.logger)
	ledger := stockledger.NewLedger(pool, cache, s.logger)
	orders := store.New(pool, ledger, s.logger)
	menu := catalog.New(pool, s.redis, s.logger)

	publisher := &eventFanout{hub: s.hub, rabbitMQ: rm, logger: s.logger}
	engine := orderengine.NewEngine(orders, menu, ledger, publisher, pricing.Config{
		ExchangeRate:   s.config.Pricing.ExchangeRate,
		RoundingFactor: s.config.Pricing.RoundingFactor,
	}, s.logger)

	aggregator := dashboard.NewAggregator(orders, s.hub, s.logger)
	if err := aggregator.Rebuild(ctx); err != nil {
		return fmt.Errorf("dashboard rebuild: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTP.Port),
		Handler:      s.routes(engine, ledger, aggregator, pool),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE streams stay open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.runAggregator(ctx, aggregator)
		return nil
	})

	g.Go(func() error {
		s.logger.Info("startup", "server_started",
			fmt.Sprintf("Order service listening on port %d", s.config.HTTP.Port))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return s.shutdown()
	})

	return g.Wait()
}

func (s *Server) routes(engine *orderengine.Engine, ledger *stockledger.Ledger,
	aggregator *dashboard.Aggregator, pool *pgxpool.Pool) http.Handler {

	orderHandler := handler.NewOrderHandler(engine, s.logger)
	stockHandler := handler.NewStockHandler(ledger, s.logger)
	dashboardHandler := handler.NewDashboardHandler(aggregator, s.logger)
	eventsHandler := handler.NewEventsHandler(s.hub, s.logger)
	healthHandler := handler.NewHealthHandler(pool, s.rabbitMQ, s.hub)

	auth := middleware.NewAuthenticator(s.config.Auth.JWTSecret)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /orders", orderHandler.CreateOrder)
	mux.HandleFunc("POST /orders/{number}/transition", orderHandler.Transition)
	mux.HandleFunc("GET /orders/active", orderHandler.ListActive)
	mux.HandleFunc("GET /orders/completed", orderHandler.ListCompleted)
	mux.HandleFunc("GET /orders/barista-queue", orderHandler.BaristaQueue)
	mux.HandleFunc("GET /orders/{number}", orderHandler.GetOrder)

	mux.HandleFunc("POST /stock/adjust", stockHandler.Adjust)
	mux.HandleFunc("GET /stock/adjustments", stockHandler.Adjustments)
	mux.HandleFunc("GET /stock/levels", stockHandler.Levels)

	mux.HandleFunc("GET /dashboard/stats", dashboardHandler.Stats)
	mux.HandleFunc("GET /events", eventsHandler.Stream)

	// Metrics wraps the mux directly so the route label carries the
	// matched pattern, not the raw path.
	authed := auth.Authenticate(middleware.Metrics(mux))

	// Health and metrics stay outside authentication for probes and
	// scrapers.
	root := http.NewServeMux()
	root.HandleFunc("GET /health", healthHandler.Health)
	root.Handle("GET /metrics", promhttp.Handler())
	root.Handle("/", authed)

	return middleware.RequestID(root)
}

// runAggregator feeds the aggregator from its own hub subscription, so the
// dashboard folds the exact event stream clients see. A buffer overflow on
// the subscription becomes a resync event, which makes the aggregator
// rebuild from Postgres instead of folding past the gap.
func (s *Server) runAggregator(ctx context.Context, aggregator *dashboard.Aggregator) {
	sub := s.hub.Subscribe("dashboard-aggregator", models.RoleManager, []string{models.TopicOrders})
	defer s.hub.Unsubscribe("dashboard-aggregator")

	events := make(chan models.DomainEvent)
	go func() {
		defer close(events)
		for evt := range sub.Events() {
			if sub.TakeGap() {
				evt.Resync = true
			}
			select {
			case events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	aggregator.Run(ctx, events)
}

func (s *Server) shutdown() error {
	s.logger.Info("shutdown", "server_stopping", "Shutting down order service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if s.rabbitMQ != nil {
		if err := s.rabbitMQ.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
