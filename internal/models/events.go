package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderCreatedEvent is published once an order has been committed.
type OrderCreatedEvent struct {
	EventID          string           `json:"event_id"`
	OrderID          int64            `json:"order_id"`
	BuyerID          int64            `json:"buyer_id"`
	TotalAmount      decimal.Decimal  `json:"total_amount"`
	PaymentReference string           `json:"payment_reference"`
	Items            []OrderItemEvent `json:"items"`
	CreatedAt        time.Time        `json:"created_at"`
}

type OrderItemEvent struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// NewOrderCreatedEvent snapshots a persisted order. The event id is derived from
// the order id, so every redelivery of the same order carries the same id.
func NewOrderCreatedEvent(o *Order) OrderCreatedEvent {
	evt := OrderCreatedEvent{
		EventID:          OrderCreatedEventID(o.ID),
		OrderID:          o.ID,
		BuyerID:          o.BuyerID,
		TotalAmount:      o.TotalAmount,
		PaymentReference: o.PaymentReference,
		Items:            make([]OrderItemEvent, 0, len(o.Items)),
		CreatedAt:        o.CreatedAt,
	}
	for _, item := range o.Items {
		evt.Items = append(evt.Items, OrderItemEvent{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.UnitPrice,
		})
	}
	return evt
}

func OrderCreatedEventID(orderID int64) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("order.created/"+strconv.FormatInt(orderID, 10))).String()
}
