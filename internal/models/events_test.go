package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewOrderCreatedEvent(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	order := &Order{
		ID:               42,
		BuyerID:          7,
		TotalAmount:      decimal.RequireFromString("20.00"),
		Status:           StatusPending,
		PaymentReference: "auth_1",
		CreatedAt:        created,
		Items: []OrderItem{
			{ProductID: 3, Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
		},
	}

	evt := NewOrderCreatedEvent(order)

	if evt.OrderID != 42 || evt.BuyerID != 7 || evt.PaymentReference != "auth_1" {
		t.Fatalf("unexpected header fields: %+v", evt)
	}
	if !evt.TotalAmount.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("total = %s", evt.TotalAmount)
	}
	if len(evt.Items) != 1 || evt.Items[0].ProductID != 3 || evt.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items: %+v", evt.Items)
	}
	if !evt.CreatedAt.Equal(created) {
		t.Fatalf("created_at = %v", evt.CreatedAt)
	}

	t.Run("event id is stable per order", func(t *testing.T) {
		if again := NewOrderCreatedEvent(order); again.EventID != evt.EventID {
			t.Fatalf("event id changed: %s vs %s", again.EventID, evt.EventID)
		}
		if OrderCreatedEventID(43) == evt.EventID {
			t.Fatal("different orders share an event id")
		}
	})

	t.Run("snapshot is independent of the order", func(t *testing.T) {
		order.Items[0].Quantity = 99
		if evt.Items[0].Quantity != 2 {
			t.Fatal("event items alias the order items")
		}
	})
}

func TestOrderStatusValid(t *testing.T) {
	for _, s := range []OrderStatus{StatusPending, StatusPaid, StatusFulfilled, StatusCancelled, StatusFailed} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	for _, s := range []OrderStatus{"", "pending", "SHIPPED"} {
		if s.Valid() {
			t.Errorf("%q should be invalid", s)
		}
	}
}
