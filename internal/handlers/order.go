package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/idempotency"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/models"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/orders"
)

type OrderService interface {
	CreateOrder(ctx context.Context, buyerID int64, items []models.LineItemRequest) (*models.Order, error)
	ListOrders(ctx context.Context, scope orders.Scope) ([]models.Order, error)
	GetOrder(ctx context.Context, id int64, scope orders.Scope) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error)
}

// IdempotencyStore guards POST /orders against client retries.
type IdempotencyStore interface {
	Begin(ctx context.Context, buyerID int64, key, fingerprint string) (idempotency.Reservation, error)
	Complete(ctx context.Context, buyerID int64, key, fingerprint string, orderID int64) error
	Release(ctx context.Context, buyerID int64, key string) error
}

// FollowUpReporter exposes the outbox backlog on /health.
type FollowUpReporter interface {
	PendingFollowUps(ctx context.Context) (map[models.FollowUpKind]int, error)
}

type OrderHandler struct {
	service     OrderService
	idempotency IdempotencyStore
	followUps   FollowUpReporter
	logger      *zap.Logger
}

// NewOrderHandler accepts nil idem and followUps to disable those features.
func NewOrderHandler(service OrderService, idem IdempotencyStore, followUps FollowUpReporter, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		service:     service,
		idempotency: idem,
		followUps:   followUps,
		logger:      logger,
	}
}

// Register mounts the order routes on r.
func (h *OrderHandler) Register(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)

	group := r.Group("/orders", RequireIdentity())
	group.GET("", h.ListOrders)
	group.GET("/:id", h.GetOrder)
	group.POST("", h.CreateOrder)
	group.PATCH("/:id/status", RequireAdmin(), h.UpdateOrderStatus)
}

// HealthCheck returns server status
func (h *OrderHandler) HealthCheck(c *gin.Context) {
	body := gin.H{"status": "healthy", "service": "order-service"}
	if h.followUps != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		pending, err := h.followUps.PendingFollowUps(ctx)
		if err != nil {
			h.logger.Warn("⚠️ Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "service": "order-service"})
			return
		}
		body["pending_followups"] = pending
	}
	c.JSON(http.StatusOK, body)
}

// ListOrders returns the caller's orders, or every order for admins
func (h *OrderHandler) ListOrders(c *gin.Context) {
	list, err := h.service.ListOrders(c.Request.Context(), identityFrom(c).Scope())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

// GetOrder returns a single order with items
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	order, err := h.service.GetOrder(c.Request.Context(), id, identityFrom(c).Scope())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// CreateOrder runs the fulfillment workflow for the caller
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": orders.KindInvalidRequest.String()})
		return
	}
	buyer := identityFrom(c).UserID

	raw := c.GetHeader(idempotency.Header)
	if raw == "" || h.idempotency == nil {
		h.create(c, buyer, req.Items)
		return
	}

	key, err := idempotency.Normalize(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": orders.KindInvalidRequest.String()})
		return
	}

	fingerprint, err := idempotency.Fingerprint(req.Items)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	ctx := c.Request.Context()
	res, err := h.idempotency.Begin(ctx, buyer, key, fingerprint)
	if err != nil {
		h.logger.Error("❌ Idempotency store unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency store unavailable"})
		return
	}

	switch res.State {
	case idempotency.Mismatched:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "this " + idempotency.Header + " was already used with a different request"})
		return
	case idempotency.InFlight:
		c.JSON(http.StatusConflict, gin.H{"error": "a request with this " + idempotency.Header + " is still in progress"})
		return
	case idempotency.Completed:
		order, err := h.service.GetOrder(ctx, res.OrderID, orders.Buyer(buyer))
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		h.logger.Info("🔁 Replayed order for idempotency key", zap.Int64("order_id", order.ID))
		c.JSON(http.StatusOK, order)
		return
	}

	order, ok := h.create(c, buyer, req.Items)

	// The request context may already be gone; the key must still settle.
	settle, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if ok {
		err = h.idempotency.Complete(settle, buyer, key, fingerprint, order.ID)
	} else {
		err = h.idempotency.Release(settle, buyer, key)
	}
	if err != nil {
		h.logger.Warn("⚠️ Failed to settle idempotency key", zap.Bool("created", ok), zap.Error(err))
	}
}

func (h *OrderHandler) create(c *gin.Context, buyer int64, items []models.LineItemRequest) (*models.Order, bool) {
	order, err := h.service.CreateOrder(c.Request.Context(), buyer, items)
	if err != nil {
		respondError(c, h.logger, err)
		return nil, false
	}

	c.JSON(http.StatusCreated, order)
	return order, true
}

// UpdateOrderStatus updates the order status
func (h *OrderHandler) UpdateOrderStatus(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	var req models.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": orders.KindInvalidRequest.String()})
		return
	}

	order, err := h.service.UpdateOrderStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func orderID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order ID", "code": orders.KindInvalidRequest.String()})
		return 0, false
	}
	return id, true
}
