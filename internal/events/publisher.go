package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/service"
)

// Ensure KafkaPublisher implements service.OrderEventPublisher
var _ service.OrderEventPublisher = (*KafkaPublisher)(nil)

// EventType represents the type of order event.
type EventType string

const (
	EventTypeOrderCreated              EventType = "order.created"
	EventTypeOrderPaymentStatusChanged EventType = "order.payment_status_changed"
)

// OrderEvent represents an order-related event.
type OrderEvent struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	OrderID       string            `json:"order_id"`
	UserID        string            `json:"user_id"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// PaymentStatusChanged is the data of an order.payment_status_changed event.
type PaymentStatusChanged struct {
	Order          *models.Order        `json:"order"`
	PaymentID      string               `json:"payment_id"`
	PreviousStatus models.PaymentStatus `json:"previous_status"`
	NewStatus      models.PaymentStatus `json:"new_status"`
	Source         string               `json:"source"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes order events to Kafka.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *logging.LoggerV2
}

// NewKafkaPublisher creates a new Kafka-based event publisher.
func NewKafkaPublisher(cfg config.KafkaConfig, logger *logging.LoggerV2) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.OrdersTopic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaPublisher{
		writer: writer,
		topic:  cfg.OrdersTopic,
		logger: logger,
	}
}

// PublishOrderCreated publishes an order created event.
func (p *KafkaPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	p.logger.Debug("Publishing order created event", logging.Fields{
		"order_id": order.ID,
	})

	data, err := json.Marshal(order)
	if err != nil {
		return err
	}

	event := newOrderEvent(ctx, EventTypeOrderCreated, order, data)
	return p.publish(ctx, event)
}

// PublishPaymentStatusChanged publishes a payment status transition.
func (p *KafkaPublisher) PublishPaymentStatusChanged(ctx context.Context, order *models.Order, previous models.PaymentStatus, source string) error {
	p.logger.Debug("Publishing payment status changed event", logging.Fields{
		"order_id":        order.ID,
		"previous_status": previous,
		"new_status":      order.PaymentStatus,
		"source":          source,
	})

	data, err := json.Marshal(PaymentStatusChanged{
		Order:          order,
		PaymentID:      order.PaymentID,
		PreviousStatus: previous,
		NewStatus:      order.PaymentStatus,
		Source:         source,
	})
	if err != nil {
		return err
	}

	event := newOrderEvent(ctx, EventTypeOrderPaymentStatusChanged, order, data)
	event.Metadata["source"] = source
	return p.publish(ctx, event)
}

func newOrderEvent(ctx context.Context, eventType EventType, order *models.Order, data []byte) *OrderEvent {
	return &OrderEvent{
		ID:            "evt_" + uuid.NewString(),
		Type:          eventType,
		OrderID:       order.ID,
		UserID:        order.UserID,
		Data:          data,
		Metadata:      make(map[string]string),
		Timestamp:     time.Now().UTC(),
		CorrelationID: middleware.RequestIDFromContext(ctx),
	}
}

func (p *KafkaPublisher) publish(ctx context.Context, event *OrderEvent) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: eventData,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event", logging.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
			"order_id":   event.OrderID,
			"error":      err.Error(),
		})
		return err
	}

	p.logger.Info("Event published", logging.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"order_id":   event.OrderID,
		"topic":      p.topic,
	})

	return nil
}

// Close closes the Kafka writer.
func (p *KafkaPublisher) Close() error {
	p.logger.Info("Closing Kafka publisher")
	return p.writer.Close()
}
