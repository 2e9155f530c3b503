package db

import (
	"context"
	"fmt"
)

// schema is applied on startup. Every statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS products (
    id          BIGSERIAL PRIMARY KEY,
    name        TEXT          NOT NULL,
    price       NUMERIC(12,2) NOT NULL CHECK (price >= 0),
    stock       INTEGER       NOT NULL DEFAULT 0 CHECK (stock >= 0),
    created_at  TIMESTAMPTZ   NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS orders (
    id                 BIGSERIAL PRIMARY KEY,
    buyer_id           BIGINT        NOT NULL,
    total_amount       NUMERIC(12,2) NOT NULL,
    status             TEXT          NOT NULL
        CHECK (status IN ('PENDING', 'PAID', 'FULFILLED', 'CANCELLED', 'FAILED')),
    -- An order only exists once its payment was authorized.
    payment_reference  TEXT          NOT NULL CHECK (payment_reference <> ''),
    created_at         TIMESTAMPTZ   NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ   NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_orders_buyer_created ON orders (buyer_id, created_at DESC);

CREATE TABLE IF NOT EXISTS order_items (
    id            BIGSERIAL PRIMARY KEY,
    order_id      BIGINT        NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    product_id    BIGINT        NOT NULL REFERENCES products(id),
    product_name  TEXT          NOT NULL,
    quantity      INTEGER       NOT NULL CHECK (quantity > 0),
    unit_price    NUMERIC(12,2) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items (order_id);

-- One row per (order, product) makes a repeated decrement a no-op.
CREATE TABLE IF NOT EXISTS stock_movements (
    order_id    BIGINT      NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    product_id  BIGINT      NOT NULL REFERENCES products(id),
    quantity    INTEGER     NOT NULL CHECK (quantity > 0),
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (order_id, product_id)
);

CREATE TABLE IF NOT EXISTS order_followups (
    id          BIGSERIAL PRIMARY KEY,
    order_id    BIGINT      NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    kind        TEXT        NOT NULL CHECK (kind IN ('stock', 'event')),
    status      TEXT        NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'done', 'cancelled', 'failed')),
    attempts    INTEGER     NOT NULL DEFAULT 0,
    last_error  TEXT        NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (order_id, kind)
);

CREATE INDEX IF NOT EXISTS idx_order_followups_pending
    ON order_followups (updated_at) WHERE status = 'pending';
`

// Migrate creates the tables the services need.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := db.Conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
