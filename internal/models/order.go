package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is a persisted purchase intent with contact details and a payment status.
type Order struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	UserEmail     string          `json:"user_email"`
	Customer      Customer        `json:"customer"`
	Items         []LineItem      `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	PaymentID     string          `json:"payment_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Customer holds the shopper's contact and shipping fields.
type Customer struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	Number     string `json:"number"`
	Complement string `json:"complement,omitempty"`
}

// LineItem is one cart entry captured at checkout.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Variation string          `json:"variation,omitempty"`
	Quantity  int             `json:"quantity"`
}

// Subtotal returns price * quantity.
func (i LineItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Settled reports whether no operation can change the order any more: its
// payment status is terminal and its payment id is attached.
func (o *Order) Settled() bool {
	return o.PaymentStatus.IsTerminal() && o.HasPaymentReference()
}

// HasPaymentReference reports whether a provider payment id is attached.
func (o *Order) HasPaymentReference() bool {
	return o.PaymentID != ""
}

// CreateOrderRequest is the checkout submission.
type CreateOrderRequest struct {
	UserID      string          `json:"user_id"`
	UserEmail   string          `json:"user_email"`
	Customer    Customer        `json:"customer"`
	Items       []LineItem      `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaymentID   string          `json:"payment_id,omitempty"`
}

// UpdatePaymentStatusRequest is an admin override of an order's payment status.
type UpdatePaymentStatusRequest struct {
	Status PaymentStatus `json:"status"`
}

// AttachPaymentRequest links a provider payment id to an order.
type AttachPaymentRequest struct {
	PaymentID string `json:"payment_id"`
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID string
	Status *PaymentStatus
	Limit  int
	Offset int
}

// StatusChange describes the outcome of a payment status write.
type StatusChange struct {
	Order    *Order
	Previous PaymentStatus
	Applied  bool
}
