package service

import (
	"context"
	"fmt"
	"time"

	"pricing-service/internal/models"
	"pricing-service/internal/pricing"
	"pricing-service/internal/util"

	"github.com/shopspring/decimal"
)

// Inspect reports the current pricing state of an order without writing
// anything: every surviving item with its resolution, plus drift warnings
// against the ledger as stored.
func (s *ReconcileService) Inspect(ctx context.Context, orderID int64) (*models.ReconciliationReport, error) {
	ctx, span := util.StartSpan(ctx, "ReconcileService.Inspect")
	defer span.End()

	order, err := s.ledger.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	items, err := s.ledger.GetItems(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	report := &models.ReconciliationReport{OrderID: orderID, CompletedAt: time.Now()}
	for _, item := range items {
		res := pricing.Resolve(item, order.GlobalDiscountPercent)
		report.Items = append(report.Items, models.ItemResult{
			ItemID:                   item.ID,
			ProductID:                item.ProductID,
			Quantity:                 item.Quantity,
			Subtotal:                 item.LedgerSubtotal,
			Total:                    item.LedgerTotal,
			EffectiveDiscountPercent: res.EffectiveDiscountPercent,
			IsMarkup:                 res.IsMarkup || s.detector.IsMarkup(item),
		})

		if warning := s.detector.Detect(item, res.EffectiveDiscountPercent); warning != nil {
			report.DriftWarnings = append(report.DriftWarnings, *warning)
		}
	}

	return report, nil
}

// PreviewRequest asks for a resolution of a hypothetical line without any
// ledger interaction. The product may be named by ID or SKU.
type PreviewRequest struct {
	ProductID             int64              `json:"product_id"`
	SKU                   string             `json:"sku,omitempty"`
	Quantity              int                `json:"quantity" binding:"required,min=1"`
	Config                *models.ItemConfig `json:"config,omitempty"`
	GlobalDiscountPercent decimal.Decimal    `json:"global_discount_percent"`
}

// PreviewResponse is the resolved pricing for a preview request, rounded the
// same way a ledger write would be.
type PreviewResponse struct {
	ProductID                int64           `json:"product_id"`
	Quantity                 int             `json:"quantity"`
	CatalogUnitPrice         decimal.Decimal `json:"catalog_unit_price"`
	Subtotal                 decimal.Decimal `json:"subtotal"`
	Total                    decimal.Decimal `json:"total"`
	EffectiveDiscountPercent decimal.Decimal `json:"effective_discount_percent"`
	IsMarkup                 bool            `json:"is_markup"`
}

// Preview resolves pricing for one hypothetical line item.
func (s *ReconcileService) Preview(ctx context.Context, req *PreviewRequest) (*PreviewResponse, error) {
	ctx, span := util.StartSpan(ctx, "ReconcileService.Preview")
	defer span.End()

	price, err := s.catalog.GetPrice(ctx, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("unresolvable product %d: %w", req.ProductID, err)
	}

	item := &models.LineItem{
		ProductID:        req.ProductID,
		Quantity:         req.Quantity,
		CatalogUnitPrice: price,
	}
	if req.Config != nil {
		item.ApplyConfig(*req.Config)
	}

	res := pricing.Resolve(item, req.GlobalDiscountPercent)

	return &PreviewResponse{
		ProductID:                req.ProductID,
		Quantity:                 item.Quantity,
		CatalogUnitPrice:         price,
		Subtotal:                 res.Subtotal.Round(s.precision),
		Total:                    res.Total.Round(s.precision),
		EffectiveDiscountPercent: res.EffectiveDiscountPercent,
		IsMarkup:                 res.IsMarkup,
	}, nil
}
