package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"pricing-service/config"
	"pricing-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// fakeLedger is an in-memory ledger implementation. GetItems returns copies
// so the fake's own state stays authoritative for assertions.
type fakeLedger struct {
	order       *models.Order
	items       map[int64]*models.LineItem
	nextID      int64
	recalcCalls int
	recalcErr   error
	valueWrites map[int64]int // subtotal/total writes per item
}

func newFakeLedger(globalPercent string) *fakeLedger {
	return &fakeLedger{
		order: &models.Order{
			ID:                    1,
			GlobalDiscountPercent: dec(globalPercent),
		},
		items:       make(map[int64]*models.LineItem),
		nextID:      100,
		valueWrites: make(map[int64]int),
	}
}

func (f *fakeLedger) addExisting(item *models.LineItem) *models.LineItem {
	f.nextID++
	item.ID = f.nextID
	item.OrderID = f.order.ID
	f.items[item.ID] = item
	return item
}

func (f *fakeLedger) GetOrderByID(_ context.Context, orderID int64) (*models.Order, error) {
	if orderID != f.order.ID {
		return nil, fmt.Errorf("order not found: %d", orderID)
	}
	copied := *f.order
	return &copied, nil
}

func (f *fakeLedger) GetItems(_ context.Context, orderID int64) ([]*models.LineItem, error) {
	var items []*models.LineItem
	for id := int64(101); id <= f.nextID; id++ {
		if item, ok := f.items[id]; ok {
			copied := *item
			items = append(items, &copied)
		}
	}
	return items, nil
}

func (f *fakeLedger) AddItem(_ context.Context, item *models.LineItem) (int64, error) {
	f.nextID++
	copied := *item
	copied.ID = f.nextID
	f.items[copied.ID] = &copied
	return copied.ID, nil
}

func (f *fakeLedger) RemoveItem(_ context.Context, itemID int64) error {
	delete(f.items, itemID)
	return nil
}

func (f *fakeLedger) SetItemSubtotal(_ context.Context, itemID int64, value decimal.Decimal) error {
	item, ok := f.items[itemID]
	if !ok {
		return fmt.Errorf("item not found: %d", itemID)
	}
	item.LedgerSubtotal = value
	f.valueWrites[itemID]++
	return nil
}

func (f *fakeLedger) SetItemTotal(_ context.Context, itemID int64, value decimal.Decimal) error {
	item, ok := f.items[itemID]
	if !ok {
		return fmt.Errorf("item not found: %d", itemID)
	}
	item.LedgerTotal = value
	f.valueWrites[itemID]++
	return nil
}

func (f *fakeLedger) SetItemQuantity(_ context.Context, itemID int64, quantity int) error {
	item, ok := f.items[itemID]
	if !ok {
		return fmt.Errorf("item not found: %d", itemID)
	}
	item.Quantity = quantity
	return nil
}

func (f *fakeLedger) SetItemConfig(_ context.Context, itemID int64, cfg models.ItemConfig) error {
	item, ok := f.items[itemID]
	if !ok {
		return fmt.Errorf("item not found: %d", itemID)
	}
	item.ApplyConfig(cfg)
	return nil
}

func (f *fakeLedger) SetGlobalDiscount(_ context.Context, orderID int64, percent decimal.Decimal) error {
	f.order.GlobalDiscountPercent = percent
	return nil
}

func (f *fakeLedger) RecalculateAggregates(_ context.Context, orderID int64) error {
	f.recalcCalls++
	return f.recalcErr
}

// fakeCatalog maps product IDs to catalog prices.
type fakeCatalog struct {
	prices map[int64]decimal.Decimal
}

func (f *fakeCatalog) GetPrice(_ context.Context, productID int64) (decimal.Decimal, error) {
	price, ok := f.prices[productID]
	if !ok {
		return decimal.Zero, fmt.Errorf("product not found: %d", productID)
	}
	return price, nil
}

type fakeLocker struct {
	held     bool
	acquired int
	released int
}

func (f *fakeLocker) AcquireOrderLock(_ context.Context, _ int64, _ time.Duration) (bool, error) {
	f.acquired++
	return !f.held, nil
}

func (f *fakeLocker) ReleaseOrderLock(_ context.Context, _ int64) error {
	f.released++
	return nil
}

func newTestService(ledger *fakeLedger, catalog *fakeCatalog, locker CycleLocker) *ReconcileService {
	return NewReconcileService(ledger, catalog, locker, nil, config.PricingConfig{
		CurrencyDecimals: 2,
		DriftTolerance:   dec("0.1"),
		MarkupEpsilon:    dec("0.01"),
		LockTTLSeconds:   30,
	})
}

func TestReconcileStagedAdditionsConsolidated(t *testing.T) {
	ledger := newFakeLedger("0")
	catalog := &fakeCatalog{prices: map[int64]decimal.Decimal{7: dec("25")}}
	svc := newTestService(ledger, catalog, nil)

	report, err := svc.Reconcile(context.Background(), &ReconcileRequest{
		OrderID: 1,
		StagedAdditions: []models.StagedAddition{
			{ProductID: 7, Quantity: 2},
			{ProductID: 7, Quantity: 2},
		},
	})
	require.NoError(t, err)

	require.Len(t, ledger.items, 1)
	require.Len(t, report.Items, 1)
	assert.Equal(t, 4, report.Items[0].Quantity)
	assert.True(t, report.Items[0].Subtotal.Equal(dec("100")), "subtotal = %s", report.Items[0].Subtotal)
	assert.Equal(t, 1, ledger.recalcCalls, "aggregate recalculation runs exactly once")
}

func TestReconcileAdditionMergesIntoExistingItem(t *testing.T) {
	ledger := newFakeLedger("0")
	ledger.addExisting(&models.LineItem{
		ProductID:        7,
		Quantity:         1,
		CatalogUnitPrice: dec("25"),
		LedgerSubtotal:   dec("25"),
		LedgerTotal:      dec("25"),
	})
	catalog := &fakeCatalog{prices: map[int64]decimal.Decimal{7: dec("25")}}
	svc := newTestService(ledger, catalog, nil)

	report, err := svc.Reconcile(context.Background(), &ReconcileRequest{
		OrderID:         1,
		StagedAdditions: []models.StagedAddition{{ProductID: 7, Quantity: 3}},
	})
	require.NoError(t, err)

	require.Len(t, ledger.items, 1, "merged into the existing line, no duplicate")
	require.Len(t, report.Items, 1)
	assert.Equal(t, 4, report.Items[0].Quantity)
	assert.True(t, report.Items[0].Subtotal.Equal(dec("100")))
}

func TestReconcileUnresolvableProductSkippedNotFatal(t *testing.T) {
	ledger := newFakeLedger("0")
	catalog := &fakeCatalog{prices: map[int64]decimal.Decimal{7: dec("10")}}
	svc := newTestService(ledger, catalog, nil)

	report, err := svc.Reconcile(context.Background(), &ReconcileRequest{
		OrderID: 1,
		StagedAdditions: []models.StagedAddition{
			{ProductID: 999, Quantity: 1}, // not in catalog
			{ProductID: 7, Quantity: 2},
		},
	})
	require.NoError(t, err, "a missing catalog product never aborts the save")

	require.Len(t, report.Skipped, 1)
	assert.Equal(t, int64(999), report.Skipped[0].ProductID)
	assert.Equal(t, "additions", report.Skipped[0].Stage)
	require.Len(t, report.Items, 1)
	assert.Equal(t, 1, ledger.recalcCalls)
}

func TestReconcileDeletionPrecedenceOverEdits(t *testing.T) {
	ledger := newFakeLedger("0")
	doomed := ledger.addExisting(&models.LineItem{
		ProductID:        5,
		Quantity:         2,
		CatalogUnitPrice: dec("10"),
		LedgerSubtotal:   dec("20"),
		LedgerTotal:      dec("20"),
		PendingDeletion:  true,
	})
	svc := newTestService(ledger, &fakeCatalog{}, nil)

	qty := 5
	report, err := svc.Reconcile(context.Background(), &ReconcileRequest{
		OrderID: 1,
		Edits:   []models.ItemEdit{{ItemID: doomed.ID, Quantity: &qty}},
	})
	require.NoError(t, err)

	assert.Empty(t, ledger.items, "pending-deletion item is removed")
	assert.Equal(t, []int64{doomed.ID}, report.DeletedItems)
	assert.Zero(t, ledger.valueWrites[doomed.ID], "a deleted item receives zero pricing writes")
	assert.Empty(t, report.Items)
}

func TestReconcileExplicitDeletionRequest(t *testing.T) {
	ledger := newFakeLedger("0")
	keep := ledger.addExisting(&models.LineItem{
		ProductID: 1, Quantity: 1, CatalogUnitPrice: dec("10"),
		LedgerSubtotal: dec("10"), LedgerTotal: dec("10"),
	})
	drop := ledger.addExisting(&models.LineItem{
		ProductID: 2, Quantity: 1, CatalogUnitPrice: dec("20"),
		LedgerSubtotal: dec("20"), LedgerTotal: dec("20"),
	})
	svc := newTestService(ledger, &fakeCatalog{}, nil)

	report, err := svc.Reconcile(context.Background(), &ReconcileRequest{
		OrderID:   1,
		Deletions: []int64{drop.ID},
	})
	require.NoError(t, err)

	assert.Len(t, ledger.items, 1)
	assert.Contains(t, ledger.items, keep.ID)
	assert.Equal(t, []int64{drop.ID}, report.DeletedItems)
}

func TestReconcileFinalizationScope(t *testing.T) {
	ledger := newFakeLedger("0")
	regular := ledger.addExisting(&models.LineItem{
		ProductID: 1, Quantity: 3, CatalogUnitPrice: dec("20"),
		LedgerSubtotal: dec("60"), LedgerTotal: dec("60"),
	})
	excluded := ledger.addExisting(&models.LineItem{
		ProductID: 2, Quantity: 2, CatalogUnitPrice: dec("80"),
		ExcludedFromGlobalDiscount: true,
		FixedUnitPrice:             decPtr("50"),
		LedgerSubtotal:             dec("160"), LedgerTotal: dec("100"),
	})
	svc := newTestService(ledger, &fakeCatalog{}, nil)

	report, err := svc.Reconcile(context.Background(), &ReconcileRequest{
		OrderID:               1,
		GlobalDiscountPercent: decPtr("10"),
	})
	require.NoError(t, err)

	assert.True(t, ledger.items[regular.ID].LedgerTotal.Equal(dec("54")),
		"non-excluded item tracks the new global discount, got %s", ledger.items[regular.ID].LedgerTotal)
	assert.True(t, ledger.items[excluded.ID].LedgerTotal.Equal(dec("100")),
		"markup total is untouched by a global discount change")
	assert.Zero(t, ledger.valueWrites[excluded.ID], "untouched excluded item gets no writes")
	assert.Len(t, report.Items, 2)
}

func TestReconcileNoGlobalChangeSkipsFinalization(t *testing.T) {
	ledger := newFakeLedger("10")
	item := ledger.addExisting(&models.LineItem{
		ProductID: 1, Quantity: 1, CatalogUnitPrice: dec("100"),
		LedgerSubtotal: dec("100"), LedgerTotal: dec("90"),
	})
	svc := newTestService(ledger, &fakeCatalog{}, nil)

	_, err := svc.Reconcile(context.Background(), &ReconcileRequest{OrderID: 1})
	require.NoError(t, err)

	assert.Zero(t, ledger.valueWrites[item.ID], "no delta submitted means no writes")
	assert.Equal(t, 1, ledger.recalcCalls)
}

func TestReconcileEditIdempotence(t *testing.T) {
	ledger := newFakeLedger("0")
	item := ledger.addExisting(&models.LineItem{
		ProductID: 1, Quantity: 2, CatalogUnitPrice: dec("15"),
		LedgerSubtotal: dec("30"), LedgerTotal: dec("30"),
	})
	svc := newTestService(ledger, &fakeCatalog{}, nil)

	qty := 2 // unchanged
	_, err := svc.Reconcile(context.Background(), &ReconcileRequest{
		OrderID: 1,
		Edits:   []models.ItemEdit{{ItemID: item.ID, Quantity: &qty}},
	})
	require.NoError(t, err)

	assert.Zero(t, ledger.valueWrites[item.ID], "resolved values equal stored values, write skipped")
}

func TestReconcileEditAppliesDiscountConfig(t *testing.T) {
	ledger := newFakeLedger("0")
	item := ledger.addExisting(&models.LineItem{
		ProductID: 1, Quantity: 1, CatalogUnitPrice: dec("200"),
		LedgerSubtotal: dec("200"), LedgerTotal: dec("200"),
	})
	svc := newTestService(ledger, &fakeCatalog{}, nil)

	excluded := true
	report, err := svc.Reconcile(context.Background(), &ReconcileRequest{
		OrderID: 1,
		Edits: []models.ItemEdit{{
			ItemID:          item.ID,
			Excluded:        &excluded,
			DiscountPercent: decPtr("25"),
		}},
	})
	require.NoError(t, err)

	stored := ledger.items[item.ID]
	assert.True(t, stored.ExcludedFromGlobalDiscount)
	assert.True(t, stored.LedgerSubtotal.Equal(dec("200")))
	assert.True(t, stored.LedgerTotal.Equal(dec("150")), "total = %s", stored.LedgerTotal)
	require.Len(t, report.Items, 1)
	assert.True(t, report.Items[0].EffectiveDiscountPercent.Equal(dec("25")))
}

func TestReconcileEditRejectsOutOfRangePercent(t *testing.T) {
	ledger := newFakeLedger("0")
	item := ledger.addExisting(&models.LineItem{
		ProductID: 1, Quantity: 1, CatalogUnitPrice: dec("100"),
		LedgerSubtotal: dec("100"), LedgerTotal: dec("100"),
	})
	svc := newTestService(ledger, &fakeCatalog{}, nil)

	report, err := svc.Reconcile(context.Background(), &ReconcileRequest{
		OrderID: 1,
		Edits: []models.ItemEdit{{
			ItemID:          item.ID,
			DiscountPercent: decPtr("150"),
		}},
	})
	require.NoError(t, err)

	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "edits", report.Skipped[0].Stage)
	assert.Zero(t, ledger.valueWrites[item.ID])
}

func TestReconcileInferredMarkupQuantityChange(t *testing.T) {
	// Ledger carries a legacy markup line: excluded, no stored fixed price,
	// subtotal equal to total at 100 for quantity 2. The admin-set unit
	// price was therefore 50, not the catalog 40.
	ledger := newFakeLedger("0")
	item := ledger.addExisting(&models.LineItem{
		ProductID: 3, Quantity: 2, CatalogUnitPrice: dec("40"),
		ExcludedFromGlobalDiscount: true,
		LedgerSubtotal:             dec("100"), LedgerTotal: dec("100"),
	})
	svc := newTestService(ledger, &fakeCatalog{}, nil)

	qty := 3
	report, err := svc.Reconcile(context.Background(), &ReconcileRequest{
		OrderID: 1,
		Edits:   []models.ItemEdit{{ItemID: item.ID, Quantity: &qty}},
	})
	require.NoError(t, err)

	stored := ledger.items[item.ID]
	require.NotNil(t, stored.FixedUnitPrice)
	assert.True(t, stored.FixedUnitPrice.Equal(dec("50")),
		"unit price re-derived from ledger total / previous quantity, got %s", stored.FixedUnitPrice)
	assert.True(t, stored.LedgerTotal.Equal(dec("150")), "total scales with the re-derived price, got %s", stored.LedgerTotal)
	assert.True(t, stored.LedgerSubtotal.Equal(dec("120")), "subtotal stays catalog price times quantity")
	require.Len(t, report.Items, 1)
	assert.True(t, report.Items[0].IsMarkup)
}

func TestReconcileDriftReportedOnSnapshot(t *testing.T) {
	ledger := newFakeLedger("0")
	ledger.addExisting(&models.LineItem{
		ProductID: 4, Quantity: 1, CatalogUnitPrice: dec("100"),
		ExcludedFromGlobalDiscount: true,
		ConfiguredDiscountPercent:  dec("20"),
		LedgerSubtotal:             dec("100"), LedgerTotal: dec("90"),
	})
	svc := newTestService(ledger, &fakeCatalog{}, nil)

	report, err := svc.Reconcile(context.Background(), &ReconcileRequest{OrderID: 1})
	require.NoError(t, err)

	require.Len(t, report.DriftWarnings, 1)
	assert.Equal(t, models.DriftPercentageMismatch, report.DriftWarnings[0].Kind)
	assert.Equal(t, models.ActionSyncToConfiguration, report.DriftWarnings[0].Action)
}

func TestReconcileDriftSuppressedOnMarkup(t *testing.T) {
	ledger := newFakeLedger("0")
	ledger.addExisting(&models.LineItem{
		ProductID: 4, Quantity: 1, CatalogUnitPrice: dec("40"),
		ExcludedFromGlobalDiscount: true,
		ConfiguredDiscountPercent:  dec("15"), // stale
		LedgerSubtotal:             dec("40"), LedgerTotal: dec("40"),
	})
	svc := newTestService(ledger, &fakeCatalog{}, nil)

	report, err := svc.Reconcile(context.Background(), &ReconcileRequest{OrderID: 1})
	require.NoError(t, err)

	assert.Empty(t, report.DriftWarnings)
}

func TestReconcileAggregateFailureEscalated(t *testing.T) {
	ledger := newFakeLedger("0")
	ledger.recalcErr = errors.New("recalculation exploded")
	ledger.addExisting(&models.LineItem{
		ProductID: 1, Quantity: 1, CatalogUnitPrice: dec("10"),
		LedgerSubtotal: dec("10"), LedgerTotal: dec("10"),
	})
	svc := newTestService(ledger, &fakeCatalog{}, nil)

	report, err := svc.Reconcile(context.Background(), &ReconcileRequest{OrderID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aggregate recalculation failed")
	require.NotNil(t, report, "the report still describes what landed before the failure")
}

func TestReconcileRejectsOutOfRangeGlobalDiscount(t *testing.T) {
	svc := newTestService(newFakeLedger("0"), &fakeCatalog{}, nil)

	_, err := svc.Reconcile(context.Background(), &ReconcileRequest{
		OrderID:               1,
		GlobalDiscountPercent: decPtr("101"),
	})
	require.Error(t, err)
}

func TestReconcileOrderLocked(t *testing.T) {
	locker := &fakeLocker{held: true}
	svc := newTestService(newFakeLedger("0"), &fakeCatalog{}, locker)

	_, err := svc.Reconcile(context.Background(), &ReconcileRequest{OrderID: 1})
	assert.ErrorIs(t, err, ErrOrderLocked)
	assert.Zero(t, locker.released)
}

func TestReconcileReleasesLock(t *testing.T) {
	ledger := newFakeLedger("0")
	locker := &fakeLocker{}
	svc := newTestService(ledger, &fakeCatalog{}, locker)

	_, err := svc.Reconcile(context.Background(), &ReconcileRequest{OrderID: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.released)
}
