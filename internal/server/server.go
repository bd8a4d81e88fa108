package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/middleware"
)

type Server struct {
	config   *config.Config
	router   *gin.Engine
	handlers *handlers.Handlers
	http     *http.Server
	logger   *logging.LoggerV2
}

func New(h *handlers.Handlers, cfg *config.Config) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config:   cfg,
		router:   router,
		handlers: h,
		logger:   logging.NewLoggerV2("server"),
	}

	s.router.Use(middleware.RequestID(), s.accessLog())
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.Health)
	s.router.GET("/ready", h.Ready)
	s.router.GET("/live", h.Live)
	s.router.GET("/version", h.Version)
	s.router.GET("/metrics", h.Metrics())

	admin := middleware.AdminAuth(s.config.Auth.AdminJWTSecret, s.config.Auth.AdminRole)

	api := s.router.Group("/api")
	{
		api.POST("/orders", h.CreateOrder)
		api.GET("/orders", admin, h.ListOrders)
		api.GET("/orders/:id", h.GetOrder)
		api.GET("/orders/user/:user_id", h.GetUserOrders)
		api.POST("/orders/:id/payment", admin, h.AttachPayment)
		api.PATCH("/orders/:id/status", admin, h.UpdatePaymentStatus)

		api.POST("/payments/create-preference", h.CreatePreference)
	}

	s.router.POST(s.config.Checkout.WebhookPath, h.PaymentWebhook)

	adminAPI := s.router.Group("/api/admin", admin)
	{
		adminAPI.POST("/payments/:id/reconcile", h.ReconcilePayment)
		adminAPI.GET("/debug", h.Debug)
	}
}

// accessLog logs each request and records it in the HTTP request counter.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		metrics.HTTPRequests.WithLabelValues(route, c.Request.Method, metrics.StatusClass(status)).Inc()

		s.logger.Debug("Request handled", logging.Fields{
			"method":      c.Request.Method,
			"route":       route,
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.RequestIDFromContext(c.Request.Context()),
		})
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting server", logging.Fields{"addr": s.http.Addr})
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
