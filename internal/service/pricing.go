package service

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

// moneyPlaces matches the NUMERIC(12,2) total column.
const moneyPlaces = 2

// CalculateItemsTotal sums price * quantity over the line items, rounded to cents.
func CalculateItemsTotal(items []models.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total.Round(moneyPlaces)
}

// SettleOrderTotal fills in a missing total from the items, or checks that the
// client-computed total matches them.
func SettleOrderTotal(req *models.CreateOrderRequest) error {
	computed := CalculateItemsTotal(req.Items)

	if req.TotalAmount.IsZero() {
		req.TotalAmount = computed
		return nil
	}

	if !req.TotalAmount.Round(moneyPlaces).Equal(computed) {
		return errors.NewValidationError("total_amount", fmt.Sprintf(
			"total %s does not match items subtotal %s",
			req.TotalAmount.StringFixed(moneyPlaces),
			computed.StringFixed(moneyPlaces),
		))
	}

	req.TotalAmount = computed
	return nil
}
