package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

const orderColumns = `id, user_id, user_email, customer_name, customer_phone, customer_address,
	customer_number, customer_complement, items, total_amount, payment_status, payment_id,
	created_at, updated_at`

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

const defaultQueryTimeout = 5 * time.Second

// PostgresOrderRepository implements OrderRepository using PostgreSQL.
type PostgresOrderRepository struct {
	db           *sql.DB
	queryTimeout time.Duration
	logger       *logging.LoggerV2
}

// NewPostgresOrderRepository creates a new PostgreSQL order repository.
func NewPostgresOrderRepository(db *sql.DB, queryTimeout time.Duration, logger *logging.LoggerV2) *PostgresOrderRepository {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &PostgresOrderRepository{
		db:           db,
		queryTimeout: queryTimeout,
		logger:       logger,
	}
}

func (r *PostgresOrderRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.queryTimeout)
}

// Ping checks database connectivity.
func (r *PostgresOrderRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.db.PingContext(ctx)
}

// Create persists a new pending order. The caller has already validated the
// request and settled the total.
func (r *PostgresOrderRepository) Create(ctx context.Context, req *models.CreateOrderRequest) (*models.Order, error) {
	r.logger.Debug("Creating new order", logging.Fields{"user_id": req.UserID})

	now := time.Now().UTC()
	order := &models.Order{
		ID:            generateOrderID(),
		UserID:        req.UserID,
		UserEmail:     req.UserEmail,
		Customer:      req.Customer,
		Items:         req.Items,
		TotalAmount:   req.TotalAmount,
		PaymentStatus: models.PaymentStatusPending,
		PaymentID:     strings.TrimSpace(req.PaymentID),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err = r.db.ExecContext(ctx, query,
		order.ID,
		order.UserID,
		order.UserEmail,
		order.Customer.Name,
		order.Customer.Phone,
		order.Customer.Address,
		order.Customer.Number,
		order.Customer.Complement,
		itemsJSON,
		order.TotalAmount,
		order.PaymentStatus,
		order.PaymentID,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("payment id %s: %w", order.PaymentID, errors.ErrPaymentReferenceConflict)
	}
	if err != nil {
		r.logger.Error("Failed to create order", logging.Fields{
			"user_id": req.UserID,
			"error":   err.Error(),
		})
		return nil, err
	}

	r.logger.Info("Order created successfully", logging.Fields{
		"order_id": order.ID,
		"user_id":  order.UserID,
		"total":    order.TotalAmount.StringFixed(2),
	})

	return order, nil
}

// GetByID retrieves an order by its unique identifier.
func (r *PostgresOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	r.logger.Debug("Fetching order by ID", logging.Fields{"order_id": id})
	return r.getOne(ctx, "id", id)
}

// GetByPaymentID retrieves the order carrying a provider payment id.
func (r *PostgresOrderRepository) GetByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	r.logger.Debug("Fetching order by payment ID", logging.Fields{"payment_id": paymentID})
	if paymentID == "" {
		return nil, errors.ErrNotFound
	}
	return r.getOne(ctx, "payment_id", paymentID)
}

func (r *PostgresOrderRepository) getOne(ctx context.Context, column, value string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + column + ` = $1`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, value))
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to fetch order", logging.Fields{
			column:  value,
			"error": err.Error(),
		})
		return nil, err
	}
	return order, nil
}

// List retrieves orders based on filter criteria, newest first.
func (r *PostgresOrderRepository) List(ctx context.Context, filter *models.OrderListFilter) ([]*models.Order, int, error) {
	r.logger.Debug("Listing orders", logging.Fields{
		"user_id": filter.UserID,
		"status":  filter.Status,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})

	var conditions []string
	args := make([]interface{}, 0, 4)

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, "user_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, "payment_status = $"+strconv.Itoa(len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	selectQuery := "SELECT " + orderColumns + " FROM orders" + where +
		" ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args)+1) +
		" OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	r.logger.Debug("Orders listed", logging.Fields{
		"count": len(orders),
		"total": total,
	})

	return orders, total, nil
}

// GetByUserID retrieves all orders for a specific user.
func (r *PostgresOrderRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.Order, int, error) {
	return r.List(ctx, &models.OrderListFilter{
		UserID: userID,
		Limit:  limit,
		Offset: offset,
	})
}

// SetPaymentID associates a payment with an order.
func (r *PostgresOrderRepository) SetPaymentID(ctx context.Context, orderID, paymentID string) (*models.Order, error) {
	r.logger.Debug("Setting payment ID", logging.Fields{
		"order_id":   orderID,
		"payment_id": paymentID,
	})

	query := `
		UPDATE orders
		SET payment_id = $2, updated_at = $3
		WHERE id = $1 AND (payment_id = '' OR payment_id = $2)
		RETURNING ` + orderColumns

	qctx, cancel := r.withTimeout(ctx)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(qctx, query, orderID, paymentID, time.Now().UTC()))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("payment id %s is attached to another order: %w", paymentID, errors.ErrPaymentReferenceConflict)
	}
	if err == sql.ErrNoRows {
		existing, getErr := r.GetByID(ctx, orderID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("order %s has payment id %s: %w", orderID, existing.PaymentID, errors.ErrPaymentReferenceConflict)
	}
	if err != nil {
		r.logger.Error("Failed to set payment ID", logging.Fields{
			"order_id": orderID,
			"error":    err.Error(),
		})
		return nil, err
	}

	r.logger.Info("Payment ID set", logging.Fields{
		"order_id":   orderID,
		"payment_id": paymentID,
	})

	return order, nil
}

// UpdatePaymentStatus applies a status to the order with the given id.
func (r *PostgresOrderRepository) UpdatePaymentStatus(ctx context.Context, orderID string, status models.PaymentStatus) (*models.StatusChange, error) {
	return r.updatePaymentStatus(ctx, "id", orderID, status)
}

// UpdatePaymentStatusByPaymentID applies a status to the order carrying paymentID.
func (r *PostgresOrderRepository) UpdatePaymentStatusByPaymentID(ctx context.Context, paymentID string, status models.PaymentStatus) (*models.StatusChange, error) {
	if paymentID == "" {
		return nil, errors.ErrNotFound
	}
	return r.updatePaymentStatus(ctx, "payment_id", paymentID, status)
}

// updatePaymentStatus runs one conditional UPDATE that only matches rows whose
// current status is an allowed source for the target. When nothing matches, the
// row is re-read to tell a missing order, a no-op and an illegal transition apart.
func (r *PostgresOrderRepository) updatePaymentStatus(ctx context.Context, column, value string, status models.PaymentStatus) (*models.StatusChange, error) {
	if !status.Valid() {
		return nil, errors.NewValidationError("status", fmt.Sprintf("unknown payment status %q", status))
	}

	r.logger.Debug("Updating payment status", logging.Fields{
		column:       value,
		"new_status": status,
	})

	sources := models.TransitionSources(status)
	allowed := make([]string, len(sources))
	for i, s := range sources {
		allowed[i] = string(s)
	}

	query := `
		WITH locked AS (
			SELECT id, payment_status FROM orders WHERE ` + column + ` = $1 FOR UPDATE
		)
		UPDATE orders o
		SET payment_status = $2, updated_at = $3
		FROM locked
		WHERE o.id = locked.id AND locked.payment_status = ANY($4)
		RETURNING locked.payment_status, ` + prefixColumns("o.", orderColumns)

	qctx, cancel := r.withTimeout(ctx)
	row := r.db.QueryRowContext(qctx, query, value, status, time.Now().UTC(), pq.Array(allowed))

	var previous models.PaymentStatus
	order, err := scanOrderWith(row, &previous)
	cancel()

	if err == nil {
		r.logger.Info("Payment status updated", logging.Fields{
			"order_id":        order.ID,
			"payment_id":      order.PaymentID,
			"previous_status": previous,
			"new_status":      status,
		})
		return &models.StatusChange{Order: order, Previous: previous, Applied: true}, nil
	}
	if err != sql.ErrNoRows {
		r.logger.Error("Failed to update payment status", logging.Fields{
			column:  value,
			"error": err.Error(),
		})
		return nil, err
	}

	current, err := r.getOne(ctx, column, value)
	if err != nil {
		return nil, err
	}
	if current.PaymentStatus == status {
		return &models.StatusChange{Order: current, Previous: status, Applied: false}, nil
	}

	return nil, fmt.Errorf("order %s: %s -> %s: %w", current.ID, current.PaymentStatus, status, errors.ErrIllegalTransition)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	return scanOrderWith(row)
}

// scanOrderWith scans leading extra columns into extra, followed by orderColumns.
func scanOrderWith(row rowScanner, extra ...interface{}) (*models.Order, error) {
	var order models.Order
	var itemsJSON []byte

	dest := append(extra,
		&order.ID,
		&order.UserID,
		&order.UserEmail,
		&order.Customer.Name,
		&order.Customer.Phone,
		&order.Customer.Address,
		&order.Customer.Number,
		&order.Customer.Complement,
		&itemsJSON,
		&order.TotalAmount,
		&order.PaymentStatus,
		&order.PaymentID,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("decode items of order %s: %w", order.ID, err)
	}

	return &order, nil
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

func generateOrderID() string {
	return "ord_" + uuid.NewString()
}
