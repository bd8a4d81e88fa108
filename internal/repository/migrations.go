package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
)

// schema is idempotent; Migrate can run on every deploy.
const schema = `
	CREATE TABLE IF NOT EXISTS orders (
		id                  TEXT PRIMARY KEY,
		user_id             TEXT NOT NULL,
		user_email          TEXT NOT NULL DEFAULT '',
		customer_name       TEXT NOT NULL,
		customer_phone      TEXT NOT NULL,
		customer_address    TEXT NOT NULL,
		customer_number     TEXT NOT NULL,
		customer_complement TEXT NOT NULL DEFAULT '',
		items               JSONB NOT NULL,
		total_amount        NUMERIC(12,2) NOT NULL,
		payment_status      TEXT NOT NULL DEFAULT 'pending'
		                    CHECK (payment_status IN ('pending', 'approved', 'rejected')),
		payment_id          TEXT NOT NULL DEFAULT '',
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_payment_id ON orders(payment_id) WHERE payment_id <> '';
	CREATE INDEX IF NOT EXISTS idx_orders_user_created ON orders(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(payment_status, created_at DESC);
`

// Migrate creates the orders table and its indexes.
func Migrate(ctx context.Context, db *sql.DB) error {
	logger := logging.NewLoggerV2("migrations")
	logger.Info("Applying schema")

	if _, err := db.ExecContext(ctx, schema); err != nil {
		logger.Error("Schema migration failed", logging.Fields{"error": err.Error()})
		return fmt.Errorf("apply schema: %w", err)
	}

	logger.Info("Schema up to date")
	return nil
}
