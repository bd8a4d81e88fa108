package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/service"
)

const (
	retryBackoff    = time.Second
	maxRetryBackoff = 30 * time.Second
)

// NotificationHandler reconciles one gateway notification.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, n *models.PaymentNotification, source string) (*models.ReconcileResult, error)
}

var _ NotificationHandler = (*service.PaymentService)(nil)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NotificationConsumer reads gateway notifications relayed onto Kafka and runs
// them through the same reconciliation path as the webhook.
type NotificationConsumer struct {
	reader  messageReader
	handler NotificationHandler
	logger  *logging.LoggerV2
	backoff time.Duration
	stopCh  chan struct{}
}

// NewNotificationConsumer creates a new Kafka-based notification consumer.
func NewNotificationConsumer(cfg config.KafkaConfig, handler NotificationHandler, logger *logging.LoggerV2) *NotificationConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.NotificationsTopic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})

	return &NotificationConsumer{
		reader:  reader,
		handler: handler,
		logger:  logger,
		backoff: retryBackoff,
		stopCh:  make(chan struct{}),
	}
}

// Start begins consuming notifications. It returns when ctx is cancelled or
// Stop is called.
func (c *NotificationConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting notification consumer")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			c.logger.Info("Notification consumer stopped")
			return nil
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Error("Failed to read message", logging.Fields{"error": err.Error()})
				continue
			}

			if !c.handleMessage(ctx, msg) {
				return ctx.Err()
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.logger.Error("Failed to commit message", logging.Fields{
					"offset": msg.Offset,
					"error":  err.Error(),
				})
			}
		}
	}
}

// Stop stops the consumer.
func (c *NotificationConsumer) Stop() {
	close(c.stopCh)
	c.reader.Close()
}

// handleMessage reports whether msg may be committed. Transient failures are
// retried until they succeed or ctx ends; an uncommitted message is read again
// after a restart.
func (c *NotificationConsumer) handleMessage(ctx context.Context, msg kafka.Message) bool {
	c.logger.Debug("Received message", logging.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	var n models.PaymentNotification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		c.logger.Error("Failed to unmarshal notification", logging.Fields{
			"offset": msg.Offset,
			"error":  err.Error(),
		})
		return true
	}

	for _, h := range msg.Headers {
		if h.Key == "request_id" {
			ctx = middleware.WithRequestID(ctx, string(h.Value))
		}
	}

	backoff := c.backoff
	for attempt := 1; ; attempt++ {
		result, err := c.handler.HandleNotification(ctx, &n, service.SourceKafka)
		if err == nil {
			c.logger.Debug("Notification handled", logging.Fields{
				"payment_id": result.PaymentID,
				"outcome":    result.Outcome,
			})
			return true
		}

		if ctx.Err() != nil {
			return false
		}

		if !errors.Retryable(err) {
			c.logger.Error("Dropping notification", logging.Fields{
				"payment_id": n.PaymentID(),
				"attempts":   attempt,
				"error":      err.Error(),
			})
			return true
		}

		c.logger.Warn("Retrying notification", logging.Fields{
			"payment_id": n.PaymentID(),
			"attempt":    attempt,
			"backoff":    backoff.String(),
			"error":      err.Error(),
		})

		select {
		case <-ctx.Done():
			return false
		case <-c.stopCh:
			return false
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
}
