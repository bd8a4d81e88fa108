package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

// CreateOrder handles POST /api/orders
func (h *Handlers) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Failed to bind request", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order_id": order.ID,
		"order":    order,
	})
}

// GetOrder handles GET /api/orders/:id
func (h *Handlers) GetOrder(c *gin.Context) {
	orderID := c.Param("id")

	order, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// GetUserOrders handles GET /api/orders/user/:user_id
func (h *Handlers) GetUserOrders(c *gin.Context) {
	userID := c.Param("user_id")
	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)

	orders, total, err := h.orderService.GetUserOrders(c.Request.Context(), userID, limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// ListOrders handles GET /api/orders (admin)
func (h *Handlers) ListOrders(c *gin.Context) {
	filter := &models.OrderListFilter{
		UserID: c.Query("user_id"),
		Limit:  queryInt(c, "limit", 0),
		Offset: queryInt(c, "offset", 0),
	}

	if status := c.Query("status"); status != "" {
		s := models.PaymentStatus(strings.ToLower(status))
		filter.Status = &s
	}

	orders, total, err := h.orderService.ListOrders(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// UpdatePaymentStatus handles PATCH /api/orders/:id/status (admin)
func (h *Handlers) UpdatePaymentStatus(c *gin.Context) {
	orderID := c.Param("id")

	var req models.UpdatePaymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Failed to bind status update", logging.Fields{
			"order_id": orderID,
			"error":    err.Error(),
		})
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	change, err := h.orderService.UpdatePaymentStatus(c.Request.Context(), orderID, &req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":           change.Order,
		"previous_status": change.Previous,
		"applied":         change.Applied,
	})
}

// AttachPayment handles POST /api/orders/:id/payment (admin)
func (h *Handlers) AttachPayment(c *gin.Context) {
	orderID := c.Param("id")

	var req models.AttachPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Failed to bind payment attachment", logging.Fields{
			"order_id": orderID,
			"error":    err.Error(),
		})
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	order, err := h.orderService.AttachPayment(c.Request.Context(), orderID, &req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if raw := c.Query(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}

func handleError(c *gin.Context, err error) {
	var validationErr *errors.ValidationError
	var configErr *errors.GatewayConfigError
	var callErr *errors.GatewayCallError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   validationErr.Message,
			"field":   validationErr.Field,
			"details": validationErr.Details,
		})
	case errors.Is(err, errors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, errors.ErrIllegalTransition), errors.Is(err, errors.ErrPaymentReferenceConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &configErr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payment gateway is not configured"})
	case errors.As(err, &callErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment gateway unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
