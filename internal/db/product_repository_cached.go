package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/cache"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/models"
)

// ProductSource is the uncached catalog read path.
type ProductSource interface {
	GetAll(ctx context.Context) ([]models.Product, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
}

type CachedProductRepository struct {
	repo   ProductSource
	cache  *cache.RedisCache
	logger *zap.Logger
}

func NewCachedProductRepository(repo ProductSource, cache *cache.RedisCache, logger *zap.Logger) *CachedProductRepository {
	return &CachedProductRepository{
		repo:   repo,
		cache:  cache,
		logger: logger,
	}
}

// Cache key helpers
func productKey(id int64) string {
	return fmt.Sprintf("product:%d", id)
}

func allProductsKey() string {
	return "products:all"
}

// GetAll returns all products (with caching)
func (r *CachedProductRepository) GetAll(ctx context.Context) ([]models.Product, error) {
	cacheKey := allProductsKey()

	var products []models.Product
	err := r.cache.Get(ctx, cacheKey, &products)
	if err == nil {
		r.logger.Debug("📦 Cache HIT: all products")
		return products, nil
	}
	if !cache.IsMiss(err) {
		r.logger.Warn("⚠️ Cache error", zap.String("key", cacheKey), zap.Error(err))
	}

	r.logger.Debug("💾 Cache MISS: all products - fetching from DB")
	products, err = r.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, cacheKey, products); err != nil {
		r.logger.Warn("⚠️ Failed to cache products", zap.Error(err))
	}

	return products, nil
}

// GetProduct returns a single product (with caching). Stock in a cached
// entry may lag; order creation reads the uncached repository.
func (r *CachedProductRepository) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	cacheKey := productKey(id)

	var product models.Product
	err := r.cache.Get(ctx, cacheKey, &product)
	if err == nil {
		r.logger.Debug("📦 Cache HIT", zap.Int64("product_id", id))
		return &product, nil
	}
	if !cache.IsMiss(err) {
		r.logger.Warn("⚠️ Cache error", zap.String("key", cacheKey), zap.Error(err))
	}

	r.logger.Debug("💾 Cache MISS - fetching from DB", zap.Int64("product_id", id))
	p, err := r.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, cacheKey, p); err != nil {
		r.logger.Warn("⚠️ Failed to cache product", zap.Int64("product_id", id), zap.Error(err))
	}

	return p, nil
}

// Invalidate drops the listed products and the catalog listing. With no ids
// every cached product goes.
func (r *CachedProductRepository) Invalidate(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		if err := r.cache.DeleteByPattern(ctx, "product:*"); err != nil {
			return fmt.Errorf("failed to invalidate products: %w", err)
		}
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, productKey(id))
	}
	keys = append(keys, allProductsKey())
	if err := r.cache.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}

	r.logger.Info("🗑️ Cache invalidated", zap.Int64s("product_ids", ids))
	return nil
}
