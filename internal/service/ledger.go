package service

import (
	"context"
	"time"

	"pricing-service/internal/models"

	"github.com/shopspring/decimal"
)

// Ledger is the narrow contract the reconciliation service holds against the
// external order system of record. The sqlx store implements it in
// production; tests substitute an in-memory fake. Setters are idempotent
// when the value is unchanged.
type Ledger interface {
	GetOrderByID(ctx context.Context, orderID int64) (*models.Order, error)
	GetItems(ctx context.Context, orderID int64) ([]*models.LineItem, error)
	AddItem(ctx context.Context, item *models.LineItem) (int64, error)
	RemoveItem(ctx context.Context, itemID int64) error
	SetItemSubtotal(ctx context.Context, itemID int64, value decimal.Decimal) error
	SetItemTotal(ctx context.Context, itemID int64, value decimal.Decimal) error
	SetItemQuantity(ctx context.Context, itemID int64, quantity int) error
	SetItemConfig(ctx context.Context, itemID int64, cfg models.ItemConfig) error
	SetGlobalDiscount(ctx context.Context, orderID int64, percent decimal.Decimal) error
	RecalculateAggregates(ctx context.Context, orderID int64) error
}

// PriceSource resolves a product's catalog unit price. The catalog price is
// the immutable pre-discount reference; implementations must never derive it
// from ledger values.
type PriceSource interface {
	GetPrice(ctx context.Context, productID int64) (decimal.Decimal, error)
}

// CycleLocker serializes save cycles per order. The engine itself holds no
// locks; concurrent cycles against one order are undefined behavior unless
// the caller serializes them through this.
type CycleLocker interface {
	AcquireOrderLock(ctx context.Context, orderID int64, ttl time.Duration) (bool, error)
	ReleaseOrderLock(ctx context.Context, orderID int64) error
}

// EventSink publishes reconciliation lifecycle events. May be nil on a
// service instance, in which case publishing is skipped.
type EventSink interface {
	PublishReconciliationCompleted(ctx context.Context, event *models.ReconciliationCompletedEvent) error
	PublishReconciliationFailed(ctx context.Context, event *models.ReconciliationFailedEvent) error
	PublishDriftDetected(ctx context.Context, event *models.DriftDetectedEvent) error
}
