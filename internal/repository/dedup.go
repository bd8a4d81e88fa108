package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

const (
	webhookKeyPrefix = "webhook:payment:"
	defaultDedupTTL  = 24 * time.Hour
)

// RedisPaymentDeduper implements PaymentDeduper using Redis keys with a TTL.
type RedisPaymentDeduper struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *logging.LoggerV2
}

// NewRedisPaymentDeduper creates a deduper whose marks expire after ttl.
func NewRedisPaymentDeduper(client redis.UniversalClient, ttl time.Duration) *RedisPaymentDeduper {
	if ttl == 0 {
		ttl = defaultDedupTTL
	}
	return &RedisPaymentDeduper{
		client: client,
		ttl:    ttl,
		logger: logging.NewLoggerV2("webhook-dedup"),
	}
}

// Seen reports whether paymentID was already reconciled to a terminal outcome.
func (d *RedisPaymentDeduper) Seen(ctx context.Context, paymentID string) (bool, error) {
	n, err := d.client.Exists(ctx, webhookKeyPrefix+paymentID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records the outcome for paymentID. The first mark wins.
func (d *RedisPaymentDeduper) Mark(ctx context.Context, paymentID string, outcome models.ReconcileOutcome) error {
	set, err := d.client.SetNX(ctx, webhookKeyPrefix+paymentID, string(outcome), d.ttl).Result()
	if err != nil {
		return err
	}
	d.logger.Debug("Webhook dedup mark", logging.Fields{
		"payment_id": paymentID,
		"outcome":    outcome,
		"created":    set,
	})
	return nil
}
