package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/models"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/orders"
)

const orderColumns = "id, buyer_id, total_amount, status, payment_reference, created_at, updated_at"

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(database *PostgresDB) *OrderRepository {
	return &OrderRepository{db: database.Conn}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner, o *models.Order) error {
	return row.Scan(&o.ID, &o.BuyerID, &o.TotalAmount, &o.Status, &o.PaymentReference, &o.CreatedAt, &o.UpdatedAt)
}

// CreateOrder inserts the order, its items and its pending follow-ups in one
// transaction.
func (r *OrderRepository) CreateOrder(ctx context.Context, in models.NewOrder) (*models.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	order := models.Order{
		BuyerID:          in.BuyerID,
		TotalAmount:      in.TotalAmount,
		Status:           in.Status,
		PaymentReference: in.PaymentReference,
	}

	// Insert order
	orderQuery := `
		INSERT INTO orders (buyer_id, total_amount, status, payment_reference)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRowContext(ctx, orderQuery, in.BuyerID, in.TotalAmount, in.Status, in.PaymentReference).
		Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	// Insert order items
	itemQuery := `
		INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	order.Items = make([]models.OrderItem, len(in.Items))
	for i, item := range in.Items {
		item.OrderID = order.ID
		err = tx.QueryRowContext(ctx, itemQuery,
			order.ID,
			item.ProductID,
			item.ProductName,
			item.Quantity,
			item.UnitPrice,
		).Scan(&item.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert order item: %w", err)
		}
		order.Items[i] = item
	}

	// Work that must still happen once the order is visible.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO order_followups (order_id, kind) VALUES ($1, $2), ($1, $3)`,
		order.ID, models.FollowUpStock, models.FollowUpEvent,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue follow-ups: %w", err)
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &order, nil
}

// FindOrders returns orders newest first. buyerID 0 means every buyer.
func (r *OrderRepository) FindOrders(ctx context.Context, buyerID int64) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1::bigint = 0 OR buyer_id = $1)
		ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	result := []models.Order{}
	for rows.Next() {
		var o models.Order
		if err := scanOrder(rows, &o); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read orders: %w", err)
	}
	if len(result) == 0 {
		return result, nil
	}

	ids := make([]int64, len(result))
	for i, o := range result {
		ids[i] = o.ID
	}
	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range result {
		result[i].Items = items[result[i].ID]
	}

	return result, nil
}

// FindOrder returns one order with items. A non-zero buyerID hides orders of
// other buyers behind orders.ErrNotFound.
func (r *OrderRepository) FindOrder(ctx context.Context, id, buyerID int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE id = $1 AND ($2::bigint = 0 OR buyer_id = $2)`

	var order models.Order
	err := scanOrder(r.db.QueryRowContext(ctx, query, id, buyerID), &order)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	items, err := r.loadItems(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	order.Items = items[id]

	return &order, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orderIDs []int64) (map[int64][]models.OrderItem, error) {
	query := `SELECT id, order_id, product_id, product_name, quantity, unit_price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, id`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	items := make(map[int64][]models.OrderItem, len(orderIDs))
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read order items: %w", err)
	}

	return items, nil
}

// UpdateStatus sets the status only while it still equals from.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, from, to models.OrderStatus) (*models.Order, error) {
	query := `UPDATE orders SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
		RETURNING ` + orderColumns

	var order models.Order
	err := scanOrder(r.db.QueryRowContext(ctx, query, to, id, from), &order)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)", id).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check order: %w", err)
		}
		if !exists {
			return nil, orders.ErrNotFound
		}
		return nil, orders.ErrStatusConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	items, err := r.loadItems(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	order.Items = items[id]

	return &order, nil
}

// ResolveFollowUp closes a pending follow-up. Rows already closed by the
// relay are left alone.
func (r *OrderRepository) ResolveFollowUp(ctx context.Context, orderID int64, kind models.FollowUpKind, state models.FollowUpState) error {
	query := `UPDATE order_followups SET status = $1, updated_at = now()
		WHERE order_id = $2 AND kind = $3 AND status = 'pending'`

	if _, err := r.db.ExecContext(ctx, query, state, orderID, kind); err != nil {
		return fmt.Errorf("failed to resolve follow-up: %w", err)
	}
	return nil
}
