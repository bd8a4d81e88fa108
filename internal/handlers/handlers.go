package handlers

import (
	"context"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/service"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Handlers holds all HTTP handlers for the checkout service.
type Handlers struct {
	orderService   *service.OrderService
	paymentService *service.PaymentService
	config         *config.Config
	logger         *logging.LoggerV2
	checks         map[string]ReadinessCheck
}

// NewHandlers creates a new handlers instance.
func NewHandlers(
	orderService *service.OrderService,
	paymentService *service.PaymentService,
	cfg *config.Config,
) *Handlers {
	return &Handlers{
		orderService:   orderService,
		paymentService: paymentService,
		config:         cfg,
		logger:         logging.NewLoggerV2("handlers"),
		checks:         make(map[string]ReadinessCheck),
	}
}

// AddReadinessCheck registers a dependency probed by GET /ready.
func (h *Handlers) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}
