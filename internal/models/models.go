package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog. Price is the catalog unit
// price, the pre-discount reference for all pricing arithmetic.
type Product struct {
	ID        int64           `db:"id" json:"id"`
	SKU       string          `db:"sku" json:"sku"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Order represents the order-level view held by the ledger.
type Order struct {
	ID                    int64           `db:"id" json:"id"`
	UserID                int64           `db:"user_id" json:"user_id"`
	GlobalDiscountPercent decimal.Decimal `db:"global_discount_percent" json:"global_discount_percent"`
	Subtotal              decimal.Decimal `db:"subtotal" json:"subtotal"`
	Total                 decimal.Decimal `db:"total" json:"total"`
	Status                string          `db:"status" json:"status"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at" json:"updated_at"`
}

// ItemConfig holds the administrator-entered per-item pricing configuration.
// Unknown or malformed inputs are rejected at the API boundary; by the time a
// config reaches the resolver every field is validated.
type ItemConfig struct {
	ExcludedFromGlobalDiscount bool             `json:"excluded_from_global_discount"`
	ConfiguredDiscountPercent  decimal.Decimal  `json:"configured_discount_percent"`
	FixedUnitPrice             *decimal.Decimal `json:"fixed_unit_price,omitempty"`
}

// LineItem is one order line as the engine sees it: the immutable catalog
// price, the admin configuration, and the values currently stored by the
// ledger. ID is zero for a staged item not yet committed.
type LineItem struct {
	ID               int64           `db:"id" json:"id"`
	OrderID          int64           `db:"order_id" json:"order_id"`
	ProductID        int64           `db:"product_id" json:"product_id"`
	Quantity         int             `db:"quantity" json:"quantity"`
	CatalogUnitPrice decimal.Decimal `db:"catalog_unit_price" json:"catalog_unit_price"`
	LedgerSubtotal   decimal.Decimal `db:"subtotal" json:"ledger_subtotal"`
	LedgerTotal      decimal.Decimal `db:"total" json:"ledger_total"`

	ExcludedFromGlobalDiscount bool             `db:"excluded" json:"excluded_from_global_discount"`
	ConfiguredDiscountPercent  decimal.Decimal  `db:"discount_percent" json:"configured_discount_percent"`
	FixedUnitPrice             *decimal.Decimal `db:"fixed_unit_price" json:"fixed_unit_price,omitempty"`
	PendingDeletion            bool             `db:"pending_deletion" json:"is_pending_deletion"`
}

// Config returns the item's admin configuration as a standalone value.
func (li *LineItem) Config() ItemConfig {
	return ItemConfig{
		ExcludedFromGlobalDiscount: li.ExcludedFromGlobalDiscount,
		ConfiguredDiscountPercent:  li.ConfiguredDiscountPercent,
		FixedUnitPrice:             li.FixedUnitPrice,
	}
}

// ApplyConfig overwrites the item's admin configuration.
func (li *LineItem) ApplyConfig(cfg ItemConfig) {
	li.ExcludedFromGlobalDiscount = cfg.ExcludedFromGlobalDiscount
	li.ConfiguredDiscountPercent = cfg.ConfiguredDiscountPercent
	li.FixedUnitPrice = cfg.FixedUnitPrice
}

// StagedAddition is one client-submitted "add item" request prior to
// consolidation. Config is nil when the request supplied no per-item
// configuration.
type StagedAddition struct {
	ProductID int64       `json:"product_id"`
	Quantity  int         `json:"quantity"`
	Config    *ItemConfig `json:"config,omitempty"`
}

// ItemEdit is an explicit per-item change submitted by the client. Nil
// pointer fields mean "unchanged".
type ItemEdit struct {
	ItemID          int64            `json:"item_id"`
	Quantity        *int             `json:"quantity,omitempty"`
	Excluded        *bool            `json:"excluded_from_global_discount,omitempty"`
	DiscountPercent *decimal.Decimal `json:"configured_discount_percent,omitempty"`
	FixedUnitPrice  *decimal.Decimal `json:"fixed_unit_price,omitempty"`
	ClearFixedPrice bool             `json:"clear_fixed_price,omitempty"`
}

// Drift kinds
const (
	DriftMissingDiscount    = "missing_discount"
	DriftUnexpectedDiscount = "unexpected_discount"
	DriftPercentageMismatch = "percentage_mismatch"
)

// Recommended drift remediations. Surfaced to the operator, never
// auto-applied.
const (
	ActionApplyConfiguredDiscount = "apply_configured_discount"
	ActionRemoveLedgerDiscount    = "remove_ledger_discount"
	ActionSyncToConfiguration     = "sync_to_configuration"
)

// DriftWarning reports a divergence between the configured discount and the
// discount actually present in the ledger for one item.
type DriftWarning struct {
	ItemID          int64           `db:"item_id" json:"item_id"`
	ProductID       int64           `db:"product_id" json:"product_id"`
	Kind            string          `db:"kind" json:"kind"`
	ExpectedPercent decimal.Decimal `db:"expected_percent" json:"expected_percent"`
	ActualPercent   decimal.Decimal `db:"actual_percent" json:"actual_percent"`
	Action          string          `db:"action" json:"recommended_action"`
}

// ItemResult is the final pricing outcome for one item in a cycle.
type ItemResult struct {
	ItemID                   int64           `json:"item_id"`
	ProductID                int64           `json:"product_id"`
	Quantity                 int             `json:"quantity"`
	Subtotal                 decimal.Decimal `json:"subtotal"`
	Total                    decimal.Decimal `json:"total"`
	EffectiveDiscountPercent decimal.Decimal `json:"effective_discount_percent"`
	IsMarkup                 bool            `json:"is_markup"`
	Written                  bool            `json:"written"`
}

// SkippedItem records a per-item failure that did not abort the cycle.
type SkippedItem struct {
	ProductID int64  `json:"product_id,omitempty"`
	ItemID    int64  `json:"item_id,omitempty"`
	Stage     string `json:"stage"`
	Reason    string `json:"reason"`
}

// ReconciliationReport summarizes one save cycle for the caller: final
// per-item pricing, deletions, skipped items and drift warnings. Per-item
// failures land here rather than in the returned error.
type ReconciliationReport struct {
	OrderID       int64          `json:"order_id"`
	Items         []ItemResult   `json:"items"`
	DeletedItems  []int64        `json:"deleted_items,omitempty"`
	Skipped       []SkippedItem  `json:"skipped,omitempty"`
	DriftWarnings []DriftWarning `json:"drift_warnings,omitempty"`
	CompletedAt   time.Time      `json:"completed_at"`
}
