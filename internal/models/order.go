package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusPaid      OrderStatus = "PAID"
	StatusFulfilled OrderStatus = "FULFILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusFailed    OrderStatus = "FAILED"
)

// Valid reports whether s is one of the known order statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusFulfilled, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

type Order struct {
	ID               int64           `json:"id"`
	BuyerID          int64           `json:"buyer_id"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	Status           OrderStatus     `json:"status"`
	PaymentReference string          `json:"payment_reference"`
	Items            []OrderItem     `json:"items"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// OrderItem is a line of a persisted order. UnitPrice is captured at purchase time.
type OrderItem struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// LineTotal is UnitPrice × Quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// LineItemRequest is one product/quantity pair requested by a buyer.
type LineItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// NewOrder is what the orchestrator hands to the order store.
type NewOrder struct {
	BuyerID          int64
	Items            []OrderItem
	TotalAmount      decimal.Decimal
	Status           OrderStatus
	PaymentReference string
}

type CreateOrderRequest struct {
	Items []LineItemRequest `json:"items" binding:"required"`
}

type UpdateOrderStatusRequest struct {
	Status OrderStatus `json:"status" binding:"required"`
}
