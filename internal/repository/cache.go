package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

const (
	settledOrderKeyPrefix = "checkout:order:"
	defaultCacheTTL       = 5 * time.Minute
)

// RedisOrderCache implements OrderCache using Redis.
// Only settled orders are stored, so a fill racing a status change can never
// put an outdated order back.
type RedisOrderCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *logging.LoggerV2
}

// NewRedisOrderCache creates a new Redis-based order cache.
func NewRedisOrderCache(client redis.UniversalClient, ttl time.Duration) *RedisOrderCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &RedisOrderCache{
		client: client,
		ttl:    ttl,
		logger: logging.NewLoggerV2("order-cache"),
	}
}

func settledOrderKey(orderID string) string {
	return settledOrderKeyPrefix + orderID
}

// Get returns the cached order, or nil, nil on a miss.
func (c *RedisOrderCache) Get(ctx context.Context, orderID string) (*models.Order, error) {
	payload, err := c.client.Get(ctx, settledOrderKey(orderID)).Bytes()
	switch {
	case err == redis.Nil:
		return nil, nil
	case err != nil:
		c.logger.Warn("Order cache read failed", logging.Fields{
			"order_id": orderID,
			"error":    err.Error(),
		})
		return nil, err
	}

	order := new(models.Order)
	if err := json.Unmarshal(payload, order); err != nil {
		c.logger.Warn("Dropping undecodable cached order", logging.Fields{
			"order_id": orderID,
			"error":    err.Error(),
		})
		c.client.Del(ctx, settledOrderKey(orderID))
		return nil, nil
	}
	return order, nil
}

// Set stores order if it is settled and is a no-op otherwise.
func (c *RedisOrderCache) Set(ctx context.Context, order *models.Order) error {
	if !order.Settled() {
		c.logger.Debug("Not caching unsettled order", logging.Fields{
			"order_id":       order.ID,
			"payment_status": order.PaymentStatus,
		})
		return nil
	}

	payload, err := json.Marshal(order)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, settledOrderKey(order.ID), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("Order cache write failed", logging.Fields{
			"order_id": order.ID,
			"error":    err.Error(),
		})
		return err
	}
	return nil
}

// Delete evicts an order.
func (c *RedisOrderCache) Delete(ctx context.Context, orderID string) error {
	return c.client.Del(ctx, settledOrderKey(orderID)).Err()
}
