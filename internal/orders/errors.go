package orders

import (
	"errors"
	"fmt"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/models"
)

// Sentinels returned by storage adapters.
var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrStatusConflict    = errors.New("order status changed concurrently")
	// ErrOrderCancelled is returned by DecrementStock for an order that is
	// already CANCELLED.
	ErrOrderCancelled = errors.New("order cancelled")
)

// ShortageError is returned by a Catalog when a conditional decrement finds
// less stock than requested. It matches ErrInsufficientStock.
type ShortageError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("product %d: available %d, requested %d", e.ProductID, e.Available, e.Requested)
}

func (e *ShortageError) Is(target error) bool { return target == ErrInsufficientStock }

// DeclinedError is returned by a PaymentGateway that refused the authorization.
type DeclinedError struct {
	Code   string
	Reason string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("payment declined (%s): %s", e.Code, e.Reason)
}

// Kind discriminates the outcomes of the order operations.
type Kind int

const (
	KindUnexpected Kind = iota
	KindInvalidRequest
	KindProductNotFound
	KindInsufficientStock
	KindPaymentFailed
	KindOrderNotFound
	KindInvalidTransition
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindProductNotFound:
		return "product_not_found"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindPaymentFailed:
		return "payment_failed"
	case KindOrderNotFound:
		return "order_not_found"
	case KindInvalidTransition:
		return "invalid_transition"
	default:
		return "unexpected"
	}
}

// Error is the failure half of every order operation. Only the fields relevant
// to Kind are set.
type Error struct {
	Kind      Kind
	ProductID int64
	OrderID   int64
	Available int
	Requested int
	From, To  models.OrderStatus
	Reason    string
	Err       error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindInvalidRequest:
		return "invalid request: " + e.Reason
	case KindProductNotFound:
		return fmt.Sprintf("product %d not found", e.ProductID)
	case KindInsufficientStock:
		return fmt.Sprintf("insufficient stock for product %d. Available: %d, Requested: %d", e.ProductID, e.Available, e.Requested)
	case KindPaymentFailed:
		return "payment failed: " + e.Reason
	case KindOrderNotFound:
		return "order not found"
	case KindInvalidTransition:
		return fmt.Sprintf("order status cannot change from %s to %s", e.From, e.To)
	default:
		if e.Err != nil {
			return e.Reason + ": " + e.Err.Error()
		}
		return e.Reason
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind carried by err, or KindUnexpected for any other error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

func invalidRequest(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRequest, Reason: fmt.Sprintf(format, args...)}
}

func productNotFound(id int64) *Error {
	return &Error{Kind: KindProductNotFound, ProductID: id}
}

func insufficientStock(id int64, available, requested int) *Error {
	return &Error{Kind: KindInsufficientStock, ProductID: id, Available: available, Requested: requested}
}

func paymentFailed(reason string, err error) *Error {
	return &Error{Kind: KindPaymentFailed, Reason: reason, Err: err}
}

func orderNotFound(id int64) *Error {
	return &Error{Kind: KindOrderNotFound, OrderID: id}
}

func invalidTransition(id int64, from, to models.OrderStatus) *Error {
	return &Error{Kind: KindInvalidTransition, OrderID: id, From: from, To: to}
}

func unexpected(op string, err error) *Error {
	return &Error{Kind: KindUnexpected, Reason: op, Err: err}
}
