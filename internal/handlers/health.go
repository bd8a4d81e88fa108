package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
)

const serviceName = "checkout-service"

var startTime = time.Now()

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
	})
}

// Ready handles GET /ready
func (h *Handlers) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("Readiness check failed", logging.Fields{
				"check": name,
				"error": err.Error(),
			})
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}

	c.JSON(status, gin.H{
		"status":  state,
		"service": serviceName,
		"checks":  results,
	})
}

// Live handles GET /live
func (h *Handlers) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}

// Metrics handles GET /metrics (Prometheus format)
func (h *Handlers) Metrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// Version handles GET /version
func (h *Handlers) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":    "1.0.0",
		"service":    serviceName,
		"go_version": runtime.Version(),
		"started_at": startTime.Format(time.RFC3339),
	})
}

// Debug handles GET /api/admin/debug
func (h *Handlers) Debug(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"features": gin.H{
			"enable_order_caching":         h.config.Features.EnableOrderCaching,
			"enable_order_events":          h.config.Features.EnableOrderEvents,
			"enable_webhook_dedup":         h.config.Features.EnableWebhookDedup,
			"enable_notification_consumer": h.config.Features.EnableNotificationConsumer,
		},
		"config": gin.H{
			"server_port":      h.config.Server.Port,
			"database_host":    h.config.Database.Host,
			"redis_host":       h.config.Redis.Host,
			"gateway_base_url": h.config.Gateway.BaseURL,
			"gateway_token":    h.config.Gateway.AccessToken != "",
			"public_base_url":  h.config.Checkout.PublicBaseURL,
		},
	})
}
