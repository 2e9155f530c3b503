package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/models"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/orders"
)

type ProductReader interface {
	GetAll(ctx context.Context) ([]models.Product, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
}

// ProductHandler serves the read-only catalog browse API.
type ProductHandler struct {
	repo   ProductReader
	logger *zap.Logger
}

func NewProductHandler(repo ProductReader, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{repo: repo, logger: logger}
}

func (h *ProductHandler) Register(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)
	r.GET("/products", h.ListProducts)
	r.GET("/products/:id", h.GetProduct)
}

func (h *ProductHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "product-service"})
}

func (h *ProductHandler) ListProducts(c *gin.Context) {
	products, err := h.repo.GetAll(c.Request.Context())
	if err != nil {
		h.logger.Error("❌ Failed to list products", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, products)
}

func (h *ProductHandler) GetProduct(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product ID"})
		return
	}

	product, err := h.repo.GetProduct(c.Request.Context(), id)
	if errors.Is(err, orders.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	if err != nil {
		h.logger.Error("❌ Failed to get product", zap.Int64("product_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, product)
}
