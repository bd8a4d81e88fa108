package repository

import (
	"context"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

// Ensure implementations satisfy their interfaces.
var (
	_ OrderRepository = (*PostgresOrderRepository)(nil)
	_ OrderCache      = (*RedisOrderCache)(nil)
	_ PaymentDeduper  = (*RedisPaymentDeduper)(nil)
)

// OrderRepository is the order store. Orders are created once and afterwards only
// their payment status and payment reference change.
type OrderRepository interface {
	Create(ctx context.Context, req *models.CreateOrderRequest) (*models.Order, error)
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*models.Order, error)
	List(ctx context.Context, filter *models.OrderListFilter) ([]*models.Order, int, error)
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.Order, int, error)

	// SetPaymentID attaches a provider payment id. Attaching the id already
	// stored is a no-op; a different one fails with ErrPaymentReferenceConflict.
	SetPaymentID(ctx context.Context, orderID, paymentID string) (*models.Order, error)

	// UpdatePaymentStatus and UpdatePaymentStatusByPaymentID apply a status only
	// when the transition table allows it. Re-applying the current status returns
	// a StatusChange with Applied=false.
	UpdatePaymentStatus(ctx context.Context, orderID string, status models.PaymentStatus) (*models.StatusChange, error)
	UpdatePaymentStatusByPaymentID(ctx context.Context, paymentID string, status models.PaymentStatus) (*models.StatusChange, error)

	Ping(ctx context.Context) error
}

// OrderCache defines caching operations for orders.
type OrderCache interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	// Set stores settled orders and ignores the rest.
	Set(ctx context.Context, order *models.Order) error
	Delete(ctx context.Context, id string) error
}

// PaymentDeduper remembers payment ids whose webhook reconciliation reached a
// terminal outcome so repeated deliveries can be acknowledged without work.
type PaymentDeduper interface {
	Seen(ctx context.Context, paymentID string) (bool, error)
	Mark(ctx context.Context, paymentID string, outcome models.ReconcileOutcome) error
}
