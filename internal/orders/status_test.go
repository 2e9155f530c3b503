package orders

import (
	"testing"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/models"
)

func TestCanTransition(t *testing.T) {
	all := []models.OrderStatus{
		models.StatusPending, models.StatusPaid, models.StatusFulfilled, models.StatusCancelled, models.StatusFailed,
	}
	allowed := map[[2]models.OrderStatus]bool{
		{models.StatusPending, models.StatusPaid}:      true,
		{models.StatusPending, models.StatusCancelled}: true,
		{models.StatusPending, models.StatusFailed}:    true,
		{models.StatusPaid, models.StatusFulfilled}:    true,
		{models.StatusPaid, models.StatusCancelled}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			want := from == to || allowed[[2]models.OrderStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}
