package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pricing-service/config"
	"pricing-service/internal/models"
	"pricing-service/internal/pricing"
	"pricing-service/internal/staging"
	"pricing-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrOrderLocked is returned when another save cycle currently holds the
// order. Callers should retry.
var ErrOrderLocked = errors.New("order is locked by another reconciliation cycle")

// ReconcileRequest is the client-submitted delta for one save cycle.
// GlobalDiscountPercent is nil when no order-level discount change was
// submitted; a non-nil zero means "explicitly set to 0".
type ReconcileRequest struct {
	OrderID               int64                   `json:"-"`
	StagedAdditions       []models.StagedAddition `json:"additions,omitempty"`
	Deletions             []int64                 `json:"deletions,omitempty"`
	Edits                 []models.ItemEdit       `json:"edits,omitempty"`
	GlobalDiscountPercent *decimal.Decimal        `json:"global_discount_percent,omitempty"`
}

// ReconcileService runs the save cycle over an order's line items: staged
// additions, deletions, explicit edits, a conservative finalization pass,
// and a single ledger aggregate recalculation. Per-item failures are
// collected into the report; only an aggregate recalculation failure is
// returned as an error.
type ReconcileService struct {
	ledger    Ledger
	catalog   PriceSource
	locker    CycleLocker
	events    EventSink
	detector  *pricing.Detector
	precision int32
	lockTTL   time.Duration
	logger    *zap.Logger
}

// NewReconcileService creates a new reconciliation service. locker and
// events may be nil; a nil locker means the caller serializes cycles itself.
func NewReconcileService(
	ledger Ledger,
	catalog PriceSource,
	locker CycleLocker,
	events EventSink,
	cfg config.PricingConfig,
) *ReconcileService {
	return &ReconcileService{
		ledger:    ledger,
		catalog:   catalog,
		locker:    locker,
		events:    events,
		detector:  pricing.NewDetector(cfg.DriftTolerance, cfg.MarkupEpsilon),
		precision: cfg.CurrencyDecimals,
		lockTTL:   time.Duration(cfg.LockTTLSeconds) * time.Second,
		logger:    util.GetLogger(),
	}
}

// cycle carries the working state of one save cycle.
type cycle struct {
	orderID       int64
	globalPercent decimal.Decimal
	globalSet     bool
	items         []*models.LineItem
	touched       map[int64]bool
	report        *models.ReconciliationReport
}

// Reconcile runs one save cycle and returns the report. The returned error
// is non-nil only for cycle-level failures: bad input, a missing order, or a
// failed aggregate recalculation. Item writes that already landed are not
// rolled back; the order stays re-resolvable on the next cycle.
func (s *ReconcileService) Reconcile(ctx context.Context, req *ReconcileRequest) (*models.ReconciliationReport, error) {
	ctx, span := util.StartSpan(ctx, "ReconcileService.Reconcile")
	defer span.End()

	if req.GlobalDiscountPercent != nil {
		p := *req.GlobalDiscountPercent
		if p.IsNegative() || p.GreaterThan(decimal.NewFromInt(100)) {
			util.ReconcileCyclesFailed.WithLabelValues("invalid_global_discount").Inc()
			return nil, fmt.Errorf("global discount percent out of range: %s", p)
		}
	}

	if s.locker != nil {
		acquired, err := s.locker.AcquireOrderLock(ctx, req.OrderID, s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire order lock: %w", err)
		}
		if !acquired {
			util.ReconcileCyclesFailed.WithLabelValues("order_locked").Inc()
			return nil, ErrOrderLocked
		}
		defer func() {
			if err := s.locker.ReleaseOrderLock(context.Background(), req.OrderID); err != nil {
				s.logger.Error("Failed to release order lock",
					zap.Int64("order_id", req.OrderID),
					zap.Error(err))
			}
		}()
	}

	order, err := s.ledger.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		util.ReconcileCyclesFailed.WithLabelValues("order_not_found").Inc()
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	items, err := s.ledger.GetItems(ctx, req.OrderID)
	if err != nil {
		util.ReconcileCyclesFailed.WithLabelValues("ledger_read").Inc()
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	c := &cycle{
		orderID:       req.OrderID,
		globalPercent: order.GlobalDiscountPercent,
		globalSet:     req.GlobalDiscountPercent != nil,
		items:         items,
		touched:       make(map[int64]bool),
		report:        &models.ReconciliationReport{OrderID: req.OrderID},
	}
	if c.globalSet {
		c.globalPercent = *req.GlobalDiscountPercent
		if err := s.ledger.SetGlobalDiscount(ctx, req.OrderID, c.globalPercent); err != nil {
			util.ReconcileCyclesFailed.WithLabelValues("ledger_write").Inc()
			return nil, fmt.Errorf("failed to store global discount: %w", err)
		}
	}

	deletions := s.collectDeletions(c, req.Deletions)

	// Drift is diagnosed against the snapshot as loaded, before this cycle's
	// writes touch anything, so warnings describe the state the operator saw.
	s.detectDrift(ctx, c, deletions)

	s.applyAdditions(ctx, c, req.StagedAdditions, deletions)
	s.applyDeletions(ctx, c, deletions)
	s.applyEdits(ctx, c, req.Edits)
	s.finalizeGlobalDiscount(ctx, c)

	start := time.Now()
	recalcErr := s.ledger.RecalculateAggregates(ctx, req.OrderID)
	util.LedgerRecalcLatency.Observe(time.Since(start).Seconds())

	s.buildResults(c)
	c.report.CompletedAt = time.Now()

	if recalcErr != nil {
		util.ReconcileCyclesFailed.WithLabelValues("aggregate_recalc").Inc()
		s.publishFailed(ctx, c, recalcErr)
		return c.report, fmt.Errorf("ledger aggregate recalculation failed: %w", recalcErr)
	}

	util.ReconcileCyclesTotal.Inc()
	s.publishCompleted(ctx, c)

	s.logger.Info("Reconciliation cycle completed",
		zap.Int64("order_id", req.OrderID),
		zap.Int("items", len(c.report.Items)),
		zap.Int("deleted", len(c.report.DeletedItems)),
		zap.Int("skipped", len(c.report.Skipped)),
		zap.Int("drift_warnings", len(c.report.DriftWarnings)))

	return c.report, nil
}

// collectDeletions merges explicit deletion requests with items already
// marked pending deletion by the UI layer.
func (s *ReconcileService) collectDeletions(c *cycle, requested []int64) map[int64]bool {
	deletions := make(map[int64]bool, len(requested))
	for _, id := range requested {
		deletions[id] = true
	}
	for _, item := range c.items {
		if item.PendingDeletion {
			deletions[item.ID] = true
		}
	}
	return deletions
}

// detectDrift runs the diagnostic pass over the loaded snapshot. Items about
// to be deleted are not worth warning about.
func (s *ReconcileService) detectDrift(ctx context.Context, c *cycle, deletions map[int64]bool) {
	for _, item := range c.items {
		if deletions[item.ID] {
			continue
		}
		expected := pricing.ExpectedDiscountPercent(item, c.globalPercent)
		warning := s.detector.Detect(item, expected)
		if warning == nil {
			continue
		}
		c.report.DriftWarnings = append(c.report.DriftWarnings, *warning)
		util.DriftWarningsTotal.WithLabelValues(warning.Kind).Inc()
		s.logger.Warn("Pricing drift detected",
			zap.Int64("order_id", c.orderID),
			zap.Int64("item_id", warning.ItemID),
			zap.String("kind", warning.Kind),
			zap.String("expected", warning.ExpectedPercent.String()),
			zap.String("actual", warning.ActualPercent.String()))
		s.publishDrift(ctx, c, warning)
	}
}

// applyAdditions consolidates staged add requests and writes them to the
// ledger, merging into an existing line when the product is already present.
func (s *ReconcileService) applyAdditions(ctx context.Context, c *cycle, additions []models.StagedAddition, deletions map[int64]bool) {
	for _, add := range staging.Consolidate(additions) {
		existing := s.findByProduct(c, add.ProductID, deletions)
		if existing != nil {
			configChanged := false
			// Merging changes the quantity, so an inferred markup line needs
			// its unit price re-derived from the pre-merge ledger total.
			if existing.FixedUnitPrice == nil && s.detector.IsMarkup(existing) {
				fp := pricing.RederiveFixedUnitPrice(existing.LedgerTotal, existing.Quantity)
				existing.FixedUnitPrice = &fp
				configChanged = true
			}
			existing.Quantity += add.Quantity
			if add.Config != nil {
				existing.ApplyConfig(*add.Config)
				configChanged = true
			}
			if configChanged {
				if err := s.ledger.SetItemConfig(ctx, existing.ID, existing.Config()); err != nil {
					s.skip(c, "additions", 0, existing.ID, fmt.Sprintf("config write failed: %v", err))
					continue
				}
			}
			if err := s.ledger.SetItemQuantity(ctx, existing.ID, existing.Quantity); err != nil {
				s.skip(c, "additions", 0, existing.ID, fmt.Sprintf("quantity write failed: %v", err))
				continue
			}
			if err := s.resolveAndWrite(ctx, c, existing); err != nil {
				s.skip(c, "additions", 0, existing.ID, err.Error())
			}
			continue
		}

		price, err := s.catalog.GetPrice(ctx, add.ProductID)
		if err != nil {
			// A missing catalog product never aborts the whole save.
			s.logger.Warn("Dropping staged addition with unresolvable product",
				zap.Int64("order_id", c.orderID),
				zap.Int64("product_id", add.ProductID),
				zap.Error(err))
			s.skip(c, "additions", add.ProductID, 0, fmt.Sprintf("unresolvable product: %v", err))
			continue
		}

		qty := add.Quantity
		if qty < 1 {
			qty = 1
		}
		item := &models.LineItem{
			OrderID:          c.orderID,
			ProductID:        add.ProductID,
			Quantity:         qty,
			CatalogUnitPrice: price,
		}
		if add.Config != nil {
			item.ApplyConfig(*add.Config)
		}

		res := pricing.Resolve(item, c.globalPercent)
		util.ItemsResolvedTotal.Inc()
		item.LedgerSubtotal = res.Subtotal.Round(s.precision)
		item.LedgerTotal = res.Total.Round(s.precision)

		id, err := s.ledger.AddItem(ctx, item)
		if err != nil {
			s.skip(c, "additions", add.ProductID, 0, fmt.Sprintf("ledger add failed: %v", err))
			continue
		}
		item.ID = id
		c.items = append(c.items, item)
		c.touched[id] = true
		util.LedgerWritesTotal.Inc()
	}
}

// applyDeletions removes line items from the ledger. A deleted item never
// receives pricing writes in the same cycle.
func (s *ReconcileService) applyDeletions(ctx context.Context, c *cycle, deletions map[int64]bool) {
	if len(deletions) == 0 {
		return
	}
	remaining := c.items[:0]
	for _, item := range c.items {
		if !deletions[item.ID] {
			remaining = append(remaining, item)
			continue
		}
		if err := s.ledger.RemoveItem(ctx, item.ID); err != nil {
			s.logger.Error("Failed to remove item from ledger",
				zap.Int64("order_id", c.orderID),
				zap.Int64("item_id", item.ID),
				zap.Error(err))
			s.skip(c, "deletions", item.ProductID, item.ID, fmt.Sprintf("ledger remove failed: %v", err))
			remaining = append(remaining, item)
			continue
		}
		c.touched[item.ID] = true
		c.report.DeletedItems = append(c.report.DeletedItems, item.ID)
		util.ItemsDeletedTotal.Inc()
	}
	c.items = remaining
}

// applyEdits applies explicit per-item changes and re-resolves each edited
// item. Items deleted this cycle are gone from the working set already, so
// an edit targeting one is a no-op.
func (s *ReconcileService) applyEdits(ctx context.Context, c *cycle, edits []models.ItemEdit) {
	for _, edit := range edits {
		item := s.findByID(c, edit.ItemID)
		if item == nil {
			s.logger.Info("Skipping edit for unknown or deleted item",
				zap.Int64("order_id", c.orderID),
				zap.Int64("item_id", edit.ItemID))
			continue
		}

		if edit.DiscountPercent != nil {
			p := *edit.DiscountPercent
			if p.IsNegative() || p.GreaterThan(decimal.NewFromInt(100)) {
				s.skip(c, "edits", item.ProductID, item.ID, fmt.Sprintf("discount percent out of range: %s", p))
				continue
			}
		}

		configChanged := false
		if edit.Quantity != nil && *edit.Quantity != item.Quantity {
			// A markup inferred from the ledger recorded its total at the old
			// quantity; the unit price must be re-derived before scaling.
			if item.FixedUnitPrice == nil && s.detector.IsMarkup(item) {
				fp := pricing.RederiveFixedUnitPrice(item.LedgerTotal, item.Quantity)
				item.FixedUnitPrice = &fp
				configChanged = true
			}
			qty := *edit.Quantity
			if qty < 1 {
				qty = 1
			}
			item.Quantity = qty
			if err := s.ledger.SetItemQuantity(ctx, item.ID, item.Quantity); err != nil {
				s.skip(c, "edits", item.ProductID, item.ID, fmt.Sprintf("quantity write failed: %v", err))
				continue
			}
		}
		if edit.Excluded != nil {
			item.ExcludedFromGlobalDiscount = *edit.Excluded
			configChanged = true
		}
		if edit.DiscountPercent != nil {
			item.ConfiguredDiscountPercent = *edit.DiscountPercent
			configChanged = true
		}
		if edit.FixedUnitPrice != nil {
			item.FixedUnitPrice = edit.FixedUnitPrice
			configChanged = true
		} else if edit.ClearFixedPrice {
			item.FixedUnitPrice = nil
			configChanged = true
		}
		if configChanged {
			if err := s.ledger.SetItemConfig(ctx, item.ID, item.Config()); err != nil {
				s.skip(c, "edits", item.ProductID, item.ID, fmt.Sprintf("config write failed: %v", err))
				continue
			}
		}

		if err := s.resolveAndWrite(ctx, c, item); err != nil {
			s.skip(c, "edits", item.ProductID, item.ID, err.Error())
		}
	}
}

// finalizeGlobalDiscount re-resolves items untouched by stages 1-3, and only
// when an order-level discount was explicitly submitted this cycle. Excluded
// and markup items are never silently recalculated here.
func (s *ReconcileService) finalizeGlobalDiscount(ctx context.Context, c *cycle) {
	if !c.globalSet {
		return
	}
	for _, item := range c.items {
		if c.touched[item.ID] || item.ExcludedFromGlobalDiscount {
			continue
		}
		if err := s.resolveAndWrite(ctx, c, item); err != nil {
			s.skip(c, "finalization", item.ProductID, item.ID, err.Error())
		}
	}
}

// resolveAndWrite prices one item and persists the rounded results,
// skipping the write when the ledger already holds the same values.
func (s *ReconcileService) resolveAndWrite(ctx context.Context, c *cycle, item *models.LineItem) error {
	res := pricing.Resolve(item, c.globalPercent)
	util.ItemsResolvedTotal.Inc()

	subtotal := res.Subtotal.Round(s.precision)
	total := res.Total.Round(s.precision)

	c.touched[item.ID] = true

	if subtotal.Equal(item.LedgerSubtotal) && total.Equal(item.LedgerTotal) {
		util.LedgerWritesSkipped.Inc()
		return nil
	}

	if !subtotal.Equal(item.LedgerSubtotal) {
		if err := s.ledger.SetItemSubtotal(ctx, item.ID, subtotal); err != nil {
			return fmt.Errorf("subtotal write failed: %w", err)
		}
		item.LedgerSubtotal = subtotal
	}
	if !total.Equal(item.LedgerTotal) {
		if err := s.ledger.SetItemTotal(ctx, item.ID, total); err != nil {
			return fmt.Errorf("total write failed: %w", err)
		}
		item.LedgerTotal = total
	}
	util.LedgerWritesTotal.Inc()
	return nil
}

// buildResults fills the report with the final state of every surviving
// item.
func (s *ReconcileService) buildResults(c *cycle) {
	for _, item := range c.items {
		res := pricing.Resolve(item, c.globalPercent)
		result := models.ItemResult{
			ItemID:                   item.ID,
			ProductID:                item.ProductID,
			Quantity:                 item.Quantity,
			Subtotal:                 item.LedgerSubtotal,
			Total:                    item.LedgerTotal,
			EffectiveDiscountPercent: res.EffectiveDiscountPercent,
			IsMarkup:                 res.IsMarkup || s.detector.IsMarkup(item),
			Written:                  c.touched[item.ID],
		}
		c.report.Items = append(c.report.Items, result)
	}
}

func (s *ReconcileService) findByProduct(c *cycle, productID int64, deletions map[int64]bool) *models.LineItem {
	for _, item := range c.items {
		if item.ProductID == productID && !item.PendingDeletion && !deletions[item.ID] {
			return item
		}
	}
	return nil
}

func (s *ReconcileService) findByID(c *cycle, itemID int64) *models.LineItem {
	for _, item := range c.items {
		if item.ID == itemID {
			return item
		}
	}
	return nil
}

func (s *ReconcileService) skip(c *cycle, stage string, productID, itemID int64, reason string) {
	c.report.Skipped = append(c.report.Skipped, models.SkippedItem{
		ProductID: productID,
		ItemID:    itemID,
		Stage:     stage,
		Reason:    reason,
	})
	util.ItemsSkippedTotal.WithLabelValues(stage).Inc()
}

func (s *ReconcileService) publishCompleted(ctx context.Context, c *cycle) {
	if s.events == nil {
		return
	}
	written := 0
	for _, r := range c.report.Items {
		if r.Written {
			written++
		}
	}
	event := &models.ReconciliationCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeReconciliationCompleted,
			Timestamp: time.Now(),
		},
		OrderID:      c.orderID,
		ItemCount:    len(c.report.Items),
		WrittenCount: written,
		DeletedCount: len(c.report.DeletedItems),
		SkippedCount: len(c.report.Skipped),
		DriftCount:   len(c.report.DriftWarnings),
	}
	if err := s.events.PublishReconciliationCompleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish ReconciliationCompleted event", zap.Error(err))
	}
}

func (s *ReconcileService) publishFailed(ctx context.Context, c *cycle, cause error) {
	if s.events == nil {
		return
	}
	event := &models.ReconciliationFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeReconciliationFailed,
			Timestamp: time.Now(),
		},
		OrderID: c.orderID,
		Reason:  cause.Error(),
	}
	if err := s.events.PublishReconciliationFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish ReconciliationFailed event", zap.Error(err))
	}
}

func (s *ReconcileService) publishDrift(ctx context.Context, c *cycle, w *models.DriftWarning) {
	if s.events == nil {
		return
	}
	event := &models.DriftDetectedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeDriftDetected,
			Timestamp: time.Now(),
		},
		OrderID:         c.orderID,
		ItemID:          w.ItemID,
		ProductID:       w.ProductID,
		Kind:            w.Kind,
		ExpectedPercent: w.ExpectedPercent,
		ActualPercent:   w.ActualPercent,
		Action:          w.Action,
	}
	if err := s.events.PublishDriftDetected(ctx, event); err != nil {
		s.logger.Error("Failed to publish DriftDetected event", zap.Error(err))
	}
}
