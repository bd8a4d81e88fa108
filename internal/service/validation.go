package service

import (
	"fmt"
	"strings"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxPaymentIDLen  = 64
)

// ValidateCreateOrderRequest validates an order creation request.
func ValidateCreateOrderRequest(req *models.CreateOrderRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return errors.NewValidationError("user_id", "user ID is required")
	}

	if err := validateCustomer(&req.Customer); err != nil {
		return err
	}

	if len(req.Items) == 0 {
		return errors.NewValidationError("items", "at least one item is required")
	}

	for i := range req.Items {
		if err := validateLineItem(&req.Items[i], i); err != nil {
			return err
		}
	}

	if req.TotalAmount.IsNegative() {
		return errors.NewValidationError("total_amount", "total cannot be negative")
	}

	if req.PaymentID != "" {
		return ValidatePaymentID(req.PaymentID)
	}

	return nil
}

func validateCustomer(c *models.Customer) error {
	required := []struct {
		field, value string
	}{
		{"customer.name", c.Name},
		{"customer.phone", c.Phone},
		{"customer.address", c.Address},
		{"customer.number", c.Number},
	}

	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			name := strings.TrimPrefix(r.field, "customer.")
			return errors.NewValidationError(r.field, name+" is required")
		}
	}

	return nil
}

func validateLineItem(item *models.LineItem, index int) error {
	field := fmt.Sprintf("items[%d]", index)

	if strings.TrimSpace(item.Name) == "" {
		return errors.NewValidationError(field+".name", "item name is required")
	}

	if item.Quantity <= 0 {
		return errors.NewValidationError(field+".quantity", "quantity must be positive")
	}

	if item.Price.IsNegative() {
		return errors.NewValidationError(field+".price", "price cannot be negative")
	}

	return nil
}

// ValidatePaymentID checks a provider payment reference.
func ValidatePaymentID(paymentID string) error {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return errors.NewValidationError("payment_id", "payment ID is required")
	}
	if len(paymentID) > maxPaymentIDLen {
		return errors.NewValidationError("payment_id", "payment ID is too long")
	}
	if strings.ContainsAny(paymentID, "/?# ") {
		return errors.NewValidationError("payment_id", "payment ID contains invalid characters")
	}
	return nil
}

// ValidateUpdatePaymentStatusRequest validates an admin status override.
func ValidateUpdatePaymentStatusRequest(req *models.UpdatePaymentStatusRequest) error {
	if req.Status == "" {
		return errors.NewValidationError("status", "status is required")
	}

	status, err := models.ParsePaymentStatus(string(req.Status))
	if err != nil {
		return errors.NewValidationError("status", "invalid payment status")
	}
	req.Status = status

	return nil
}

// ValidateOrderListFilter validates a list filter and applies paging defaults.
func ValidateOrderListFilter(filter *models.OrderListFilter) error {
	if filter.Limit < 0 {
		return errors.NewValidationError("limit", "limit cannot be negative")
	}

	if filter.Offset < 0 {
		return errors.NewValidationError("offset", "offset cannot be negative")
	}

	if filter.Limit == 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	if filter.Status != nil && !filter.Status.Valid() {
		return errors.NewValidationError("status", "invalid payment status")
	}

	return nil
}

// ValidateCreatePreferenceRequest validates a checkout preference request.
func ValidateCreatePreferenceRequest(req *models.CreatePreferenceRequest) error {
	if len(req.Items) == 0 {
		return errors.NewValidationError("items", "at least one item is required")
	}

	for i, item := range req.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(item.Name) == "" {
			return errors.NewValidationError(field+".name", "item name is required")
		}
		if item.Price.IsNegative() {
			return errors.NewValidationError(field+".price", "price cannot be negative")
		}
		if item.Quantity <= 0 {
			return errors.NewValidationError(field+".quantity", "quantity must be positive")
		}
	}

	if strings.TrimSpace(req.Payer.Email) == "" {
		return errors.NewValidationError("payer.email", "payer email is required")
	}

	return nil
}
