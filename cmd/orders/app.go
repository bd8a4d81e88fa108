package main

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/events"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/service"
)

// app holds the wired dependencies shared by the serve and reconcile commands.
type app struct {
	cfg            *config.Config
	logger         *logging.LoggerV2
	db             *sql.DB
	redis          *redis.Client
	publisher      *events.KafkaPublisher
	orderService   *service.OrderService
	paymentService *service.PaymentService
}

func loadConfig() (*config.Config, *logging.LoggerV2) {
	cfg := config.Load()
	logging.SetLevel(cfg.LogLevel)
	return cfg, logging.NewLoggerV2("checkout-service")
}

func newApp(cfg *config.Config, logger *logging.LoggerV2) (*app, error) {
	db, err := initDatabase(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, db: db}

	if cfg.Features.EnableOrderCaching || cfg.Features.EnableWebhookDedup {
		a.redis = initRedis(cfg, logger)
	}

	var orderCache repository.OrderCache
	if cfg.Features.EnableOrderCaching {
		orderCache = repository.NewRedisOrderCache(a.redis, cfg.Redis.TTL)
	}

	var deduper repository.PaymentDeduper
	if cfg.Features.EnableWebhookDedup {
		deduper = repository.NewRedisPaymentDeduper(a.redis, cfg.Redis.DedupTTL)
	}

	var publisher service.OrderEventPublisher
	if cfg.Features.EnableOrderEvents {
		a.publisher = events.NewKafkaPublisher(cfg.Kafka, logger)
		publisher = a.publisher
	}

	if cfg.Gateway.AccessToken == "" {
		logger.Warn("GATEWAY_ACCESS_TOKEN is not set; payment gateway calls will fail")
	}
	if cfg.Checkout.PublicBaseURL == "" {
		logger.Warn("PUBLIC_BASE_URL is not set; checkout back URLs and notification_url follow the request host", logging.Fields{
			"trust_forwarded_headers": cfg.Checkout.TrustForwardedHeaders,
		})
	}

	orderRepo := repository.NewPostgresOrderRepository(db, cfg.Database.QueryTimeout, logger)
	gateway := clients.NewHTTPPaymentClient(cfg.Gateway, logger)

	a.orderService = service.NewOrderService(orderRepo, orderCache, publisher, cfg)
	a.paymentService = service.NewPaymentService(gateway, a.orderService, deduper, cfg)

	return a, nil
}

func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("Failed to close Kafka publisher", logging.Fields{"error": err.Error()})
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	a.db.Close()
}

func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logging.Info("Database connected", logging.Fields{
		"host": cfg.Database.Host,
		"name": cfg.Database.Name,
	})

	return db, nil
}

// initRedis connects to Redis. A failed ping is only logged: the cache and the
// webhook dedup marks both fail open.
func initRedis(cfg *config.Config, logger *logging.LoggerV2) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unavailable at startup", logging.Fields{
			"addr":  cfg.Redis.Addr(),
			"error": err.Error(),
		})
	}

	return client
}
