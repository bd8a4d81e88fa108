package service

import (
	"context"
	"strings"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
)

// OrderEventPublisher publishes order domain events.
type OrderEventPublisher interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
	PublishPaymentStatusChanged(ctx context.Context, order *models.Order, previous models.PaymentStatus, source string) error
}

// Sources of a payment status change, used in events, logs and metrics.
const (
	SourceWebhook = "webhook"
	SourceKafka   = "kafka"
	SourceAdmin   = "admin"
	SourceCLI     = "cli"
)

// OrderService handles order business logic.
type OrderService struct {
	orderRepo      repository.OrderRepository
	orderCache     repository.OrderCache
	eventPublisher OrderEventPublisher
	config         *config.Config
	logger         *logging.LoggerV2
}

// NewOrderService creates a new order service. orderCache and eventPublisher may
// be nil when the matching feature flag is off.
func NewOrderService(
	orderRepo repository.OrderRepository,
	orderCache repository.OrderCache,
	eventPublisher OrderEventPublisher,
	cfg *config.Config,
) *OrderService {
	return &OrderService{
		orderRepo:      orderRepo,
		orderCache:     orderCache,
		eventPublisher: eventPublisher,
		config:         cfg,
		logger:         logging.NewLoggerV2("order-service"),
	}
}

func (s *OrderService) cachingEnabled() bool {
	return s.config.Features.EnableOrderCaching && s.orderCache != nil
}

func (s *OrderService) eventsEnabled() bool {
	return s.config.Features.EnableOrderEvents && s.eventPublisher != nil
}

// CreateOrder validates and persists a pending order.
func (s *OrderService) CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.Order, error) {
	s.logger.Info("Creating order", logging.Fields{
		"user_id":    req.UserID,
		"item_count": len(req.Items),
	})

	if err := ValidateCreateOrderRequest(req); err != nil {
		return nil, err
	}

	if err := SettleOrderTotal(req); err != nil {
		return nil, err
	}

	order, err := s.orderRepo.Create(ctx, req)
	if err != nil {
		s.logger.Error("Failed to create order", logging.Fields{
			"user_id": req.UserID,
			"error":   err.Error(),
		})
		return nil, err
	}

	metrics.OrdersCreated.Inc()

	if s.eventsEnabled() {
		if err := s.eventPublisher.PublishOrderCreated(ctx, order); err != nil {
			s.logger.Error("Failed to publish order created event", logging.Fields{
				"order_id": order.ID,
				"error":    err.Error(),
			})
		}
	}

	s.logger.Info("Order created successfully", logging.Fields{
		"order_id": order.ID,
		"total":    order.TotalAmount.StringFixed(2),
	})

	return order, nil
}

// GetOrder retrieves an order by ID, reading through the cache.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.logger.Debug("Getting order", logging.Fields{"order_id": id})

	if s.cachingEnabled() {
		order, err := s.orderCache.Get(ctx, id)
		switch {
		case err != nil:
			metrics.CacheLookups.WithLabelValues("error").Inc()
		case order != nil:
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return order, nil
		default:
			metrics.CacheLookups.WithLabelValues("miss").Inc()
		}
	}

	order, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cachingEnabled() {
		if err := s.orderCache.Set(ctx, order); err != nil {
			s.logger.Warn("Failed to cache order", logging.Fields{
				"order_id": id,
				"error":    err.Error(),
			})
		}
	}

	return order, nil
}

// GetOrderByPaymentID returns the order carrying a provider payment id. It
// bypasses the cache, which is keyed by order id.
func (s *OrderService) GetOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	return s.orderRepo.GetByPaymentID(ctx, paymentID)
}

// ListOrders retrieves orders based on filter criteria.
func (s *OrderService) ListOrders(ctx context.Context, filter *models.OrderListFilter) ([]*models.Order, int, error) {
	if err := ValidateOrderListFilter(filter); err != nil {
		return nil, 0, err
	}

	s.logger.Debug("Listing orders", logging.Fields{
		"user_id": filter.UserID,
		"status":  filter.Status,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})

	return s.orderRepo.List(ctx, filter)
}

// GetUserOrders retrieves orders for a specific user, newest first.
func (s *OrderService) GetUserOrders(ctx context.Context, userID string, limit, offset int) ([]*models.Order, int, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, 0, errors.NewValidationError("user_id", "user ID is required")
	}

	filter := &models.OrderListFilter{Limit: limit, Offset: offset}
	if err := ValidateOrderListFilter(filter); err != nil {
		return nil, 0, err
	}

	s.logger.Debug("Getting user orders", logging.Fields{
		"user_id": userID,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})

	return s.orderRepo.GetByUserID(ctx, userID, filter.Limit, filter.Offset)
}

// AttachPayment links a provider payment id to an order. It can be set once;
// repeating the same id is a no-op.
func (s *OrderService) AttachPayment(ctx context.Context, orderID string, req *models.AttachPaymentRequest) (*models.Order, error) {
	if err := ValidatePaymentID(req.PaymentID); err != nil {
		return nil, err
	}
	paymentID := strings.TrimSpace(req.PaymentID)

	s.logger.Info("Attaching payment to order", logging.Fields{
		"order_id":   orderID,
		"payment_id": paymentID,
	})

	order, err := s.orderRepo.SetPaymentID(ctx, orderID, paymentID)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, orderID)
	return order, nil
}

// UpdatePaymentStatus is the admin override. It obeys the same transition table
// as webhook reconciliation.
func (s *OrderService) UpdatePaymentStatus(ctx context.Context, id string, req *models.UpdatePaymentStatusRequest) (*models.StatusChange, error) {
	if err := ValidateUpdatePaymentStatusRequest(req); err != nil {
		return nil, err
	}

	s.logger.Info("Updating payment status", logging.Fields{
		"order_id":   id,
		"new_status": req.Status,
	})

	change, err := s.orderRepo.UpdatePaymentStatus(ctx, id, req.Status)
	if err != nil {
		return nil, err
	}

	s.afterStatusChange(ctx, change, SourceAdmin)
	return change, nil
}

// ApplyPaymentStatus sets the status of the order carrying paymentID.
func (s *OrderService) ApplyPaymentStatus(ctx context.Context, paymentID string, status models.PaymentStatus, source string) (*models.StatusChange, error) {
	change, err := s.orderRepo.UpdatePaymentStatusByPaymentID(ctx, paymentID, status)
	if err != nil {
		return nil, err
	}

	s.afterStatusChange(ctx, change, source)
	return change, nil
}

func (s *OrderService) afterStatusChange(ctx context.Context, change *models.StatusChange, source string) {
	if !change.Applied {
		return
	}

	order := change.Order
	metrics.StatusTransitions.WithLabelValues(string(change.Previous), string(order.PaymentStatus)).Inc()

	s.invalidate(ctx, order.ID)

	if s.eventsEnabled() {
		if err := s.eventPublisher.PublishPaymentStatusChanged(ctx, order, change.Previous, source); err != nil {
			s.logger.Error("Failed to publish payment status event", logging.Fields{
				"order_id": order.ID,
				"error":    err.Error(),
			})
		}
	}
}

func (s *OrderService) invalidate(ctx context.Context, orderID string) {
	if !s.cachingEnabled() {
		return
	}
	if err := s.orderCache.Delete(ctx, orderID); err != nil {
		s.logger.Warn("Failed to invalidate cached order", logging.Fields{
			"order_id": orderID,
			"error":    err.Error(),
		})
	}
}

// Ping checks the order store.
func (s *OrderService) Ping(ctx context.Context) error {
	return s.orderRepo.Ping(ctx)
}
