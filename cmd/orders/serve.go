package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/events"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/server"
)

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when enabled, the notification consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the database schema before serving")

	return cmd
}

func runServe(migrate bool) error {
	cfg, logger := loadConfig()

	logging.Infof("Starting checkout-service on port %d", cfg.Server.Port)

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("Failed to connect to database", logging.Fields{"error": err.Error()})
		return err
	}
	defer a.Close()

	if migrate {
		if err := repository.Migrate(context.Background(), a.db); err != nil {
			return err
		}
	}

	h := handlers.NewHandlers(a.orderService, a.paymentService, cfg)
	h.AddReadinessCheck("postgres", a.orderService.Ping)
	if a.redis != nil {
		h.AddReadinessCheck("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}

	srv := server.New(h, cfg)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", logging.Fields{
			"port":                         cfg.Server.Port,
			"enable_order_caching":         cfg.Features.EnableOrderCaching,
			"enable_order_events":          cfg.Features.EnableOrderEvents,
			"enable_webhook_dedup":         cfg.Features.EnableWebhookDedup,
			"enable_notification_consumer": cfg.Features.EnableNotificationConsumer,
		})
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()

	var consumer *events.NotificationConsumer
	if cfg.Features.EnableNotificationConsumer {
		consumer = events.NewNotificationConsumer(cfg.Kafka, a.paymentService, logger)
		go func() {
			if err := consumer.Start(consumerCtx); err != nil && err != context.Canceled {
				logger.Error("Notification consumer failed", logging.Fields{"error": err.Error()})
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		logger.Error("Server failed to start", logging.Fields{"error": err.Error()})
		return err
	}

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if consumer != nil {
		stopConsumer()
		consumer.Stop()
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", logging.Fields{"error": err.Error()})
	}

	logger.Info("Server exited")
	return nil
}
