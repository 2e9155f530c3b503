package db

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/orders"
)

func newMock(t *testing.T) (*PostgresDB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		conn.Close()
	})
	return &PostgresDB{Conn: conn}, mock
}

func q(sql string) string { return regexp.QuoteMeta(sql) }

func TestGetProduct(t *testing.T) {
	database, mock := newMock(t)
	repo := NewProductRepository(database)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(q("SELECT id, name, price, stock, created_at FROM products WHERE id = $1")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "stock", "created_at"}).
			AddRow(1, "Laptop", "999.99", 5, created))
	mock.ExpectQuery(q("FROM products WHERE id = $1")).
		WithArgs(2).
		WillReturnError(sql.ErrNoRows)

	p, err := repo.GetProduct(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if p.Name != "Laptop" || p.Price.String() != "999.99" || p.Stock != 5 {
		t.Errorf("got %+v", p)
	}

	if _, err := repo.GetProduct(context.Background(), 2); !errors.Is(err, orders.ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestGetAllProducts(t *testing.T) {
	database, mock := newMock(t)
	repo := NewProductRepository(database)

	mock.ExpectQuery(q("SELECT id, name, price, stock, created_at FROM products ORDER BY id")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "stock", "created_at"}).
			AddRow(1, "Laptop", "999.99", 5, time.Now()).
			AddRow(2, "Mouse", "19.50", 0, time.Now()))

	products, err := repo.GetAll(context.Background())
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(products) != 2 || products[1].Name != "Mouse" {
		t.Errorf("got %+v", products)
	}
}

func TestDecrementStock(t *testing.T) {
	lockOrder := q("SELECT status FROM orders WHERE id = $1 FOR SHARE")
	insertMovement := q("INSERT INTO stock_movements (order_id, product_id, quantity)")
	decrement := q("UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1")
	pending := func() *sqlmock.Rows { return sqlmock.NewRows([]string{"status"}).AddRow("PENDING") }

	t.Run("takes stock", func(t *testing.T) {
		database, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockOrder).WithArgs(10).WillReturnRows(pending())
		mock.ExpectExec(insertMovement).WithArgs(10, 1, 2).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(decrement).WithArgs(2, 1).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		if err := NewProductRepository(database).DecrementStock(context.Background(), 10, 1, 2); err != nil {
			t.Fatalf("DecrementStock: %v", err)
		}
	})

	t.Run("already applied for this order", func(t *testing.T) {
		database, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockOrder).WithArgs(10).WillReturnRows(pending())
		mock.ExpectExec(insertMovement).WithArgs(10, 1, 2).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		if err := NewProductRepository(database).DecrementStock(context.Background(), 10, 1, 2); err != nil {
			t.Fatalf("DecrementStock: %v", err)
		}
	})

	t.Run("not enough stock", func(t *testing.T) {
		database, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockOrder).WithArgs(10).WillReturnRows(pending())
		mock.ExpectExec(insertMovement).WithArgs(10, 1, 4).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(decrement).WithArgs(4, 1).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q("SELECT stock FROM products WHERE id = $1")).WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(3))
		mock.ExpectRollback()

		err := NewProductRepository(database).DecrementStock(context.Background(), 10, 1, 4)
		var shortage *orders.ShortageError
		if !errors.As(err, &shortage) || !errors.Is(err, orders.ErrInsufficientStock) {
			t.Fatalf("want ShortageError, got %v", err)
		}
		if shortage.Available != 3 || shortage.Requested != 4 {
			t.Errorf("got %+v", shortage)
		}
	})

	t.Run("order already cancelled", func(t *testing.T) {
		database, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockOrder).WithArgs(10).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("CANCELLED"))
		mock.ExpectRollback()

		err := NewProductRepository(database).DecrementStock(context.Background(), 10, 1, 2)
		if !errors.Is(err, orders.ErrOrderCancelled) {
			t.Fatalf("want ErrOrderCancelled, got %v", err)
		}
	})

	t.Run("order missing", func(t *testing.T) {
		database, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockOrder).WithArgs(10).WillReturnRows(sqlmock.NewRows([]string{"status"}))
		mock.ExpectRollback()

		err := NewProductRepository(database).DecrementStock(context.Background(), 10, 1, 2)
		if !errors.Is(err, orders.ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	})

	t.Run("database error", func(t *testing.T) {
		database, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockOrder).WithArgs(10).WillReturnRows(pending())
		mock.ExpectExec(insertMovement).WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		err := NewProductRepository(database).DecrementStock(context.Background(), 10, 1, 2)
		if err == nil || errors.Is(err, orders.ErrInsufficientStock) {
			t.Fatalf("want infrastructure error, got %v", err)
		}
	})
}

func TestRestoreStock(t *testing.T) {
	removeMovement := q("DELETE FROM stock_movements WHERE order_id = $1 AND product_id = $2 RETURNING quantity")

	t.Run("gives back the recorded quantity", func(t *testing.T) {
		database, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(removeMovement).WithArgs(10, 1).
			WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(2))
		mock.ExpectExec(q("UPDATE products SET stock = stock + $1 WHERE id = $2")).WithArgs(2, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		if err := NewProductRepository(database).RestoreStock(context.Background(), 10, 1); err != nil {
			t.Fatalf("RestoreStock: %v", err)
		}
	})

	t.Run("nothing taken", func(t *testing.T) {
		database, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(removeMovement).WithArgs(10, 1).
			WillReturnRows(sqlmock.NewRows([]string{"quantity"}))
		mock.ExpectRollback()

		if err := NewProductRepository(database).RestoreStock(context.Background(), 10, 1); err != nil {
			t.Fatalf("RestoreStock: %v", err)
		}
	})
}
