package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cafepos/internal/notificationsubscriber"
	"cafepos/internal/orderservice"
	"cafepos/pkg/config"
	"cafepos/pkg/logger"
)

func main() {
	mode := flag.String("mode", "", "Service mode: order-service, notification-subscriber")
	configPath := flag.String("config", "config/config.yaml", "Path to YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "order-service":
		log := logger.NewLogger("order-service")
		cfg := mustLoadConfig(*configPath, log)
		if err := orderservice.NewServer(cfg, log).Run(ctx); err != nil {
			log.Error("shutdown", "service_failed", "Order service exited with error", err)
			os.Exit(1)
		}
		log.Info("shutdown", "service_stopped", "Order service exiting")

	case "notification-subscriber":
		log := logger.NewLogger("notification-subscriber")
		cfg := mustLoadConfig(*configPath, log)
		if err := notificationsubscriber.NewSubscriber(cfg, log).Run(ctx); err != nil {
			log.Error("shutdown", "service_failed", "Notification subscriber exited with error", err)
			os.Exit(1)
		}
		log.Info("shutdown", "service_stopped", "Notification subscriber exiting")

	default:
		fmt.Println("Invalid mode. Use --mode=order-service or --mode=notification-subscriber")
		os.Exit(1)
	}
}

func mustLoadConfig(path string, log *logger.Logger) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		log.Error("startup", "config_load_failed", "Failed to load configuration", err)
		os.Exit(1)
	}
	return cfg
}
