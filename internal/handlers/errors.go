package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/orders"
)

// statusOf maps an order error kind to its HTTP status.
func statusOf(kind orders.Kind) int {
	switch kind {
	case orders.KindInvalidRequest:
		return http.StatusBadRequest
	case orders.KindProductNotFound, orders.KindOrderNotFound:
		return http.StatusNotFound
	case orders.KindInsufficientStock, orders.KindInvalidTransition:
		return http.StatusConflict
	case orders.KindPaymentFailed:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, logger *zap.Logger, err error) {
	kind := orders.KindOf(err)
	status := statusOf(kind)
	body := gin.H{"error": err.Error(), "code": kind.String()}

	var oe *orders.Error
	if errors.As(err, &oe) {
		switch kind {
		case orders.KindInsufficientStock:
			body["product_id"] = oe.ProductID
			body["available"] = oe.Available
			body["requested"] = oe.Requested
		case orders.KindProductNotFound:
			body["product_id"] = oe.ProductID
		case orders.KindInvalidTransition:
			body["from"] = oe.From
			body["to"] = oe.To
		}
	}

	if status == http.StatusInternalServerError {
		logger.Error("❌ Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		// Don't leak storage details to callers
		body["error"] = "internal error"
	}
	c.JSON(status, body)
}
