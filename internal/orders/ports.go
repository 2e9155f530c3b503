package orders

import (
	"context"
	"time"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/models"
)

// Catalog reads products and takes stock. DecrementStock must be a single
// conditional update keyed by order, so repeating it for the same order and
// product is a no-op. It must also refuse, with ErrOrderCancelled, an order
// whose status is CANCELLED, serialized against the status change.
type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	DecrementStock(ctx context.Context, orderID, productID int64, quantity int) error
	RestoreStock(ctx context.Context, orderID, productID int64) error
}

// OrderStore persists orders. CreateOrder writes the order, its items and its
// pending follow-ups in one transaction.
type OrderStore interface {
	CreateOrder(ctx context.Context, order models.NewOrder) (*models.Order, error)
	FindOrders(ctx context.Context, buyerID int64) ([]models.Order, error)
	FindOrder(ctx context.Context, id, buyerID int64) (*models.Order, error)
	UpdateStatus(ctx context.Context, id int64, from, to models.OrderStatus) (*models.Order, error)
	ResolveFollowUp(ctx context.Context, orderID int64, kind models.FollowUpKind, state models.FollowUpState) error
}

type AuthorizationRequest struct {
	AmountMinor    int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

type PaymentGateway interface {
	Authorize(ctx context.Context, req AuthorizationRequest) (string, error)
	Void(ctx context.Context, reference string) error
}

type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, evt models.OrderCreatedEvent) error
}

// FollowUpQueue hands out follow-ups whose lease has expired.
type FollowUpQueue interface {
	ClaimFollowUps(ctx context.Context, lease time.Duration, limit int) ([]models.FollowUp, error)
	RetryFollowUp(ctx context.Context, id int64, reason string) error
	FailFollowUp(ctx context.Context, id int64, reason string) error
}

// Scope limits queries to one buyer. The zero value sees every buyer.
type Scope struct {
	BuyerID int64
}

var AllBuyers = Scope{}

func Buyer(id int64) Scope { return Scope{BuyerID: id} }
