package store

import (
	"context"
	"database/sql"
	"fmt"

	"pricing-service/internal/models"

	"github.com/shopspring/decimal"
)

// The methods below implement the ledger contract the reconciliation
// service operates against: narrow item-level getters and setters plus a
// single order-level aggregate recalculation.

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetItems retrieves all line items for an order in insertion order
func (s *Store) GetItems(ctx context.Context, orderID int64) ([]*models.LineItem, error) {
	var items []*models.LineItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// AddItem creates a new ledger line item for a staged addition and returns
// the assigned identifier
func (s *Store) AddItem(ctx context.Context, item *models.LineItem) (int64, error) {
	query := `
		INSERT INTO order_items (order_id, product_id, quantity, catalog_unit_price, subtotal, total, excluded, discount_percent, fixed_unit_price, pending_deletion)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false)
		RETURNING id`

	var id int64
	err := s.db.GetContext(ctx, &id, query,
		item.OrderID, item.ProductID, item.Quantity, item.CatalogUnitPrice,
		item.LedgerSubtotal, item.LedgerTotal,
		item.ExcludedFromGlobalDiscount, item.ConfiguredDiscountPercent, item.FixedUnitPrice)
	if err != nil {
		return 0, fmt.Errorf("failed to add item: %w", err)
	}
	return id, nil
}

// RemoveItem deletes a ledger line item
func (s *Store) RemoveItem(ctx context.Context, itemID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM order_items WHERE id = $1", itemID)
	return err
}

// SetItemSubtotal writes the stored subtotal for one item
func (s *Store) SetItemSubtotal(ctx context.Context, itemID int64, value decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE order_items SET subtotal = $1 WHERE id = $2", value, itemID)
	return err
}

// SetItemTotal writes the stored total for one item
func (s *Store) SetItemTotal(ctx context.Context, itemID int64, value decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE order_items SET total = $1 WHERE id = $2", value, itemID)
	return err
}

// SetItemQuantity writes the quantity for one item
func (s *Store) SetItemQuantity(ctx context.Context, itemID int64, quantity int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE order_items SET quantity = $1 WHERE id = $2", quantity, itemID)
	return err
}

// SetItemConfig writes the admin pricing configuration for one item
func (s *Store) SetItemConfig(ctx context.Context, itemID int64, cfg models.ItemConfig) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE order_items SET excluded = $1, discount_percent = $2, fixed_unit_price = $3 WHERE id = $4",
		cfg.ExcludedFromGlobalDiscount, cfg.ConfiguredDiscountPercent, cfg.FixedUnitPrice, itemID)
	return err
}

// SetGlobalDiscount writes the order-level global discount percentage
func (s *Store) SetGlobalDiscount(ctx context.Context, orderID int64, percent decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET global_discount_percent = $1, updated_at = NOW() WHERE id = $2",
		percent, orderID)
	return err
}

// RecalculateAggregates recomputes the order-level subtotal and total from
// the current item set. Called exactly once per save cycle, after all
// item-level writes.
func (s *Store) RecalculateAggregates(ctx context.Context, orderID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			subtotal = (SELECT COALESCE(SUM(subtotal), 0) FROM order_items WHERE order_id = $1),
			total = (SELECT COALESCE(SUM(total), 0) FROM order_items WHERE order_id = $1),
			updated_at = NOW()
		WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("failed to recalculate aggregates for order %d: %w", orderID, err)
	}
	return nil
}
