package orders

import "github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/models"

var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPending: {models.StatusPaid, models.StatusCancelled, models.StatusFailed},
	models.StatusPaid:    {models.StatusFulfilled, models.StatusCancelled},
}

// CanTransition reports whether an order may move from one status to another.
// Re-applying the current status is allowed.
func CanTransition(from, to models.OrderStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
