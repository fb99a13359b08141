package service

import (
	"context"
	"fmt"
	"time"

	"pricing-service/internal/models"
	"pricing-service/internal/redisclient"
	"pricing-service/internal/store"
	"pricing-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CatalogClient looks up catalog unit prices, fast path via Redis with a DB
// fallback. The cache is read-through only: a miss loads from the catalog
// table, never from ledger values.
type CatalogClient struct {
	store    *store.Store
	redis    *redisclient.Client
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewCatalogClient creates a new catalog client
func NewCatalogClient(store *store.Store, redis *redisclient.Client, cacheTTL time.Duration) *CatalogClient {
	return &CatalogClient{
		store:    store,
		redis:    redis,
		cacheTTL: cacheTTL,
		logger:   util.GetLogger(),
	}
}

// GetPrice returns the catalog unit price for a product
func (cc *CatalogClient) GetPrice(ctx context.Context, productID int64) (decimal.Decimal, error) {
	ctx, span := util.StartSpan(ctx, "CatalogClient.GetPrice")
	defer span.End()

	if cc.redis != nil {
		price, hit, err := cc.redis.GetCatalogPrice(ctx, productID)
		if err != nil {
			cc.logger.Warn("Catalog cache read failed, falling back to DB",
				zap.Int64("product_id", productID),
				zap.Error(err))
			// Drop the entry so a corrupt value does not keep failing reads.
			if delErr := cc.redis.InvalidateCatalogPrice(ctx, productID); delErr != nil {
				cc.logger.Error("Failed to invalidate catalog price",
					zap.Int64("product_id", productID),
					zap.Error(delErr))
			}
		} else if hit {
			return price, nil
		}
	}

	product, err := cc.store.GetProductByID(ctx, productID)
	if err != nil {
		util.CatalogLookupsFailed.Inc()
		return decimal.Zero, err
	}

	if cc.redis != nil {
		if err := cc.redis.SetCatalogPrice(ctx, productID, product.Price, cc.cacheTTL); err != nil {
			cc.logger.Warn("Failed to cache catalog price",
				zap.Int64("product_id", productID),
				zap.Error(err))
		}
	}

	return product.Price, nil
}

// GetProduct returns the full catalog record for a product
func (cc *CatalogClient) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	return cc.store.GetProductByID(ctx, productID)
}

// GetProductBySKU returns the catalog record matching a SKU
func (cc *CatalogClient) GetProductBySKU(ctx context.Context, sku string) (*models.Product, error) {
	return cc.store.GetProductBySKU(ctx, sku)
}

// SyncCatalogToRedis preloads the price cache from the catalog table so the
// first cycles after startup skip the DB fallback.
func (cc *CatalogClient) SyncCatalogToRedis(ctx context.Context) error {
	if cc.redis == nil {
		return nil
	}
	cc.logger.Info("Starting catalog price sync to Redis")

	products, err := cc.store.GetProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to get products: %w", err)
	}

	for _, product := range products {
		if err := cc.redis.SetCatalogPrice(ctx, product.ID, product.Price, cc.cacheTTL); err != nil {
			cc.logger.Error("Failed to cache catalog price",
				zap.Int64("product_id", product.ID),
				zap.Error(err))
		}
	}

	cc.logger.Info("Catalog price sync completed", zap.Int("count", len(products)))
	return nil
}
