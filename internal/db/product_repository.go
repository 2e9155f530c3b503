package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/models"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/orders"
)

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(database *PostgresDB) *ProductRepository {
	return &ProductRepository{db: database.Conn}
}

// GetAll returns all products
func (r *ProductRepository) GetAll(ctx context.Context) ([]models.Product, error) {
	query := "SELECT id, name, price, stock, created_at FROM products ORDER BY id"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read products: %w", err)
	}

	return products, nil
}

// GetProduct returns a single product, or orders.ErrNotFound.
func (r *ProductRepository) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	query := "SELECT id, name, price, stock, created_at FROM products WHERE id = $1"

	var p models.Product
	err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	return &p, nil
}

// DecrementStock takes quantity units of a product for an order. The
// movement row and the conditional update commit together, so a second call
// for the same order and product changes nothing. The order row is share
// locked for the transaction, so a concurrent cancel either waits for the
// movement to commit or is seen here and refused.
func (r *ProductRepository) DecrementStock(ctx context.Context, orderID, productID int64, quantity int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status models.OrderStatus
	err = tx.QueryRowContext(ctx, "SELECT status FROM orders WHERE id = $1 FOR SHARE", orderID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return orders.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock order: %w", err)
	}
	if status == models.StatusCancelled {
		return orders.ErrOrderCancelled
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO stock_movements (order_id, product_id, quantity)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (order_id, product_id) DO NOTHING`,
		orderID, productID, quantity,
	)
	if err != nil {
		return fmt.Errorf("failed to record stock movement: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil
	}

	result, err = tx.ExecContext(ctx,
		`UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1`,
		quantity, productID,
	)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		var available int
		err := tx.QueryRowContext(ctx, "SELECT stock FROM products WHERE id = $1", productID).Scan(&available)
		if errors.Is(err, sql.ErrNoRows) {
			return orders.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read stock: %w", err)
		}
		return &orders.ShortageError{ProductID: productID, Available: available, Requested: quantity}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RestoreStock gives back whatever an order took of a product.
func (r *ProductRepository) RestoreStock(ctx context.Context, orderID, productID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var quantity int
	err = tx.QueryRowContext(ctx,
		`DELETE FROM stock_movements WHERE order_id = $1 AND product_id = $2 RETURNING quantity`,
		orderID, productID,
	).Scan(&quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to remove stock movement: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE products SET stock = stock + $1 WHERE id = $2`, quantity, productID); err != nil {
		return fmt.Errorf("failed to restore stock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
