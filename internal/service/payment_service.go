package service

import (
	"context"
	"strings"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
)

// PaymentService creates checkout preferences and reconciles payment
// notifications against the order store.
type PaymentService struct {
	gateway      clients.PaymentGateway
	orderService *OrderService
	deduper      repository.PaymentDeduper
	config       *config.Config
	logger       *logging.LoggerV2
}

// NewPaymentService creates a new payment service. deduper may be nil when
// webhook dedup is disabled.
func NewPaymentService(
	gateway clients.PaymentGateway,
	orderService *OrderService,
	deduper repository.PaymentDeduper,
	cfg *config.Config,
) *PaymentService {
	return &PaymentService{
		gateway:      gateway,
		orderService: orderService,
		deduper:      deduper,
		config:       cfg,
		logger:       logging.NewLoggerV2("payment-service"),
	}
}

// CreatePreference opens a hosted checkout for the cart. It never writes to the
// order store. origin is the scheme and host the request came in on and is used
// for the return URLs when no public base URL is configured.
func (s *PaymentService) CreatePreference(ctx context.Context, req *models.CreatePreferenceRequest, origin, idempotencyKey string) (*models.Preference, error) {
	if err := ValidateCreatePreferenceRequest(req); err != nil {
		return nil, err
	}

	baseURL := s.config.Checkout.PublicBaseURL
	if baseURL == "" {
		baseURL = strings.TrimRight(origin, "/")
	}
	if baseURL == "" {
		return nil, &errors.GatewayConfigError{Setting: "PUBLIC_BASE_URL"}
	}

	if req.OrderID != "" {
		if _, err := s.orderService.GetOrder(ctx, req.OrderID); err != nil {
			return nil, err
		}
	}

	checkout := s.config.Checkout
	pref, err := s.gateway.CreatePreference(ctx, &clients.PreferenceRequest{
		Items:             req.Items,
		Payer:             req.Payer,
		ExternalReference: req.OrderID,
		BackURLs: models.BackURLs{
			Success: baseURL + checkout.SuccessPath,
			Failure: baseURL + checkout.FailurePath,
			Pending: baseURL + checkout.PendingPath,
		},
		NotificationURL: baseURL + checkout.WebhookPath,
		IdempotencyKey:  idempotencyKey,
	})
	if err != nil {
		s.logger.Error("Failed to create payment preference", logging.Fields{
			"order_id": req.OrderID,
			"error":    err.Error(),
		})
		return nil, err
	}

	return pref, nil
}

// HandleNotification processes one provider notification. Business no-ops come
// back as a result; only failures the provider should retry come back as errors.
func (s *PaymentService) HandleNotification(ctx context.Context, n *models.PaymentNotification, source string) (*models.ReconcileResult, error) {
	paymentID := n.PaymentID()

	if !n.IsPayment() || paymentID == "" {
		s.logger.Debug("Ignoring notification", logging.Fields{
			"type":       n.Kind(),
			"action":     n.Action,
			"payment_id": paymentID,
		})
		return s.record(source, &models.ReconcileResult{PaymentID: paymentID, Outcome: models.OutcomeIgnored}), nil
	}

	if s.dedupEnabled() {
		seen, err := s.deduper.Seen(ctx, paymentID)
		if err != nil {
			s.logger.Warn("Webhook dedup lookup failed", logging.Fields{
				"payment_id": paymentID,
				"error":      err.Error(),
			})
		} else if seen {
			s.logger.Info("Duplicate payment notification", logging.Fields{"payment_id": paymentID})
			return s.record(source, &models.ReconcileResult{PaymentID: paymentID, Outcome: models.OutcomeDuplicate}), nil
		}
	}

	return s.Reconcile(ctx, paymentID, source)
}

// Reconcile fetches the authoritative payment status and applies it to the order
// carrying paymentID.
func (s *PaymentService) Reconcile(ctx context.Context, paymentID, source string) (*models.ReconcileResult, error) {
	if err := ValidatePaymentID(paymentID); err != nil {
		return nil, err
	}

	logger := s.logger.With(logging.Fields{"payment_id": paymentID, "source": source})
	result := &models.ReconcileResult{PaymentID: paymentID}

	payment, err := s.gateway.GetPayment(ctx, paymentID)
	if errors.Is(err, errors.ErrNotFound) {
		logger.Warn("Payment unknown to gateway")
		result.Outcome = models.OutcomeUnknownPayment
		return s.record(source, result), nil
	}
	if err != nil {
		logger.Error("Failed to fetch payment", logging.Fields{"error": err.Error()})
		metrics.ReconcileOutcomes.WithLabelValues(source, "gateway_error").Inc()
		return nil, err
	}

	result.GatewayStatus = payment.Status

	target, ok := models.PaymentStatusFromGateway(payment.Status)
	if !ok {
		logger.Info("Gateway status does not change order", logging.Fields{
			"gateway_status": payment.Status,
			"status_detail":  payment.StatusDetail,
		})
		result.Outcome = models.OutcomeNoChange
		s.describeOrder(ctx, result)
		return s.record(source, result), nil
	}

	change, err := s.orderService.ApplyPaymentStatus(ctx, paymentID, target, source)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		logger.Warn("No order carries this payment", logging.Fields{
			"gateway_status":     payment.Status,
			"external_reference": payment.ExternalReference,
		})
		result.Outcome = models.OutcomeUnmatched
		return s.record(source, result), nil

	case errors.Is(err, errors.ErrIllegalTransition):
		logger.Warn("Refusing contradictory payment status", logging.Fields{
			"gateway_status": payment.Status,
			"error":          err.Error(),
		})
		result.Outcome = models.OutcomeConflict
		s.describeOrder(ctx, result)

	case err != nil:
		logger.Error("Failed to apply payment status", logging.Fields{"error": err.Error()})
		metrics.ReconcileOutcomes.WithLabelValues(source, "store_error").Inc()
		return nil, err

	case change.Applied:
		result.Outcome = models.OutcomeApplied
		result.OrderID = change.Order.ID
		result.PaymentStatus = change.Order.PaymentStatus
		logger.Info("Payment status applied", logging.Fields{
			"order_id":        change.Order.ID,
			"previous_status": change.Previous,
			"new_status":      change.Order.PaymentStatus,
		})

	default:
		result.Outcome = models.OutcomeAlreadyApplied
		result.OrderID = change.Order.ID
		result.PaymentStatus = change.Order.PaymentStatus
	}

	s.markSettled(ctx, result)
	return s.record(source, result), nil
}

// describeOrder fills in the order a payment points at for outcomes that did
// not write it. Lookup failures only cost the description.
func (s *PaymentService) describeOrder(ctx context.Context, result *models.ReconcileResult) {
	order, err := s.orderService.GetOrderByPaymentID(ctx, result.PaymentID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			s.logger.Warn("Failed to look up order for payment", logging.Fields{
				"payment_id": result.PaymentID,
				"error":      err.Error(),
			})
		}
		return
	}
	result.OrderID = order.ID
	result.PaymentStatus = order.PaymentStatus
}

func (s *PaymentService) dedupEnabled() bool {
	return s.config.Features.EnableWebhookDedup && s.deduper != nil
}

func (s *PaymentService) markSettled(ctx context.Context, result *models.ReconcileResult) {
	if !s.dedupEnabled() || !result.Settled() {
		return
	}
	if err := s.deduper.Mark(ctx, result.PaymentID, result.Outcome); err != nil {
		s.logger.Warn("Failed to write webhook dedup mark", logging.Fields{
			"payment_id": result.PaymentID,
			"error":      err.Error(),
		})
	}
}

func (s *PaymentService) record(source string, result *models.ReconcileResult) *models.ReconcileResult {
	metrics.ReconcileOutcomes.WithLabelValues(source, string(result.Outcome)).Inc()
	return result
}
