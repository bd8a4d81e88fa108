package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/service"
)

// HeaderIdempotencyKey lets clients make preference creation safe to retry.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxWebhookBody = 64 << 10

// CreatePreference handles POST /api/payments/create-preference
func (h *Handlers) CreatePreference(c *gin.Context) {
	var req models.CreatePreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Failed to bind preference request", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	pref, err := h.paymentService.CreatePreference(
		c.Request.Context(),
		&req,
		requestOrigin(c, h.config.Checkout.TrustForwardedHeaders),
		c.GetHeader(HeaderIdempotencyKey),
	)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, pref)
}

// PaymentWebhook handles POST /api/payments/webhook. Every business outcome is
// acknowledged with 200; only failures worth a provider retry return 5xx.
func (h *Handlers) PaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("Failed to read webhook payload", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	n := decodeNotification(c, payload)

	result, err := h.paymentService.HandleNotification(c.Request.Context(), n, service.SourceWebhook)
	if err != nil {
		var validationErr *errors.ValidationError
		if errors.As(err, &validationErr) {
			h.logger.Warn("Ignoring malformed payment notification", logging.Fields{"error": err.Error()})
			c.JSON(http.StatusOK, gin.H{"status": "received", "outcome": models.OutcomeIgnored})
			return
		}

		h.logger.Error("Webhook processing failed", logging.Fields{
			"payment_id": n.PaymentID(),
			"retryable":  errors.Retryable(err),
			"error":      err.Error(),
		})
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "received",
		"outcome":    result.Outcome,
		"payment_id": result.PaymentID,
	})
}

// ReconcilePayment handles POST /api/admin/payments/:id/reconcile
func (h *Handlers) ReconcilePayment(c *gin.Context) {
	paymentID := c.Param("id")

	result, err := h.paymentService.Reconcile(c.Request.Context(), paymentID, service.SourceAdmin)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// decodeNotification reads the JSON body leniently and fills missing fields from
// the query string, where the provider also puts type and id.
func decodeNotification(c *gin.Context, payload []byte) *models.PaymentNotification {
	n := &models.PaymentNotification{}
	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, n); err != nil {
			n = &models.PaymentNotification{}
		}
	}

	if n.Type == "" {
		n.Type = c.Query("type")
	}
	if n.Topic == "" {
		n.Topic = c.Query("topic")
	}
	if n.Data.ID == "" {
		n.Data.ID = models.NotificationID(strings.TrimSpace(c.Query("data.id")))
	}
	if n.ID == "" {
		n.ID = models.NotificationID(strings.TrimSpace(c.Query("id")))
	}

	return n
}

// requestOrigin is the scheme and host the client reached us on. Forwarded
// headers are client-controlled unless a proxy overwrites them, so they are
// read only when trustForwarded is set.
func requestOrigin(c *gin.Context, trustForwarded bool) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	host := c.Request.Host

	if trustForwarded {
		if proto := c.GetHeader("X-Forwarded-Proto"); proto == "http" || proto == "https" {
			scheme = proto
		}
		if fwdHost := c.GetHeader("X-Forwarded-Host"); fwdHost != "" {
			host = fwdHost
		}
	}
	if host == "" {
		return ""
	}

	return scheme + "://" + host
}
