package pricing

import (
	"pricing-service/internal/models"

	"github.com/shopspring/decimal"
)

// Default detector thresholds. The tolerance is wide enough to absorb
// rounding of either side, tight enough to catch a real divergence. The
// epsilon bounds the subtotal/total equality check that identifies markup
// lines.
var (
	DefaultDriftTolerance = decimal.RequireFromString("0.1")
	DefaultMarkupEpsilon  = decimal.RequireFromString("0.01")
)

// Detector compares configured discount intent against what the ledger
// actually stores. It is diagnostic only: it never mutates an item and its
// warnings are never auto-applied.
type Detector struct {
	tolerance decimal.Decimal
	epsilon   decimal.Decimal
}

// NewDetector creates a detector with the given mismatch tolerance (in
// percentage points) and markup-equality epsilon. Non-positive inputs fall
// back to the defaults.
func NewDetector(tolerance, epsilon decimal.Decimal) *Detector {
	if !tolerance.IsPositive() {
		tolerance = DefaultDriftTolerance
	}
	if !epsilon.IsPositive() {
		epsilon = DefaultMarkupEpsilon
	}
	return &Detector{tolerance: tolerance, epsilon: epsilon}
}

// ActualDiscountPercent derives the discount the ledger currently reflects
// for an item, 0 when the stored subtotal is 0.
func ActualDiscountPercent(ledgerSubtotal, ledgerTotal decimal.Decimal) decimal.Decimal {
	if ledgerSubtotal.IsZero() {
		return decimal.Zero
	}
	return ledgerSubtotal.Sub(ledgerTotal).Div(ledgerSubtotal).Mul(hundred)
}

// IsMarkup reports whether the item carries the markup signature: excluded
// from the global discount, no configured percent, and ledger subtotal equal
// to ledger total within epsilon.
func (d *Detector) IsMarkup(item *models.LineItem) bool {
	if !item.ExcludedFromGlobalDiscount {
		return false
	}
	if item.ConfiguredDiscountPercent.IsPositive() && item.FixedUnitPrice == nil {
		return false
	}
	return item.LedgerSubtotal.Sub(item.LedgerTotal).Abs().LessThanOrEqual(d.epsilon)
}

// Detect compares the expected discount for an item against the ledger's
// actual discount and reports a warning when they genuinely diverge.
//
// Suppression is deliberately conservative; a false positive puts a
// misleading banner in front of the operator:
//   - non-excluded items are never flagged, because the global discount is
//     routinely applied at the order level without mirroring into item fields;
//   - an excluded item whose subtotal equals its total (within epsilon) is
//     markup by definition and never flagged, even with a stale configured
//     percent left over from a prior edit;
//   - an excluded item with a configured percent is flagged only when the
//     expected and actual percents differ by more than the tolerance;
//   - every other excluded state is left alone.
func (d *Detector) Detect(item *models.LineItem, expectedPercent decimal.Decimal) *models.DriftWarning {
	if !item.ExcludedFromGlobalDiscount {
		return nil
	}

	if item.LedgerSubtotal.Sub(item.LedgerTotal).Abs().LessThanOrEqual(d.epsilon) {
		return nil
	}

	if !item.ConfiguredDiscountPercent.IsPositive() {
		return nil
	}

	actual := ActualDiscountPercent(item.LedgerSubtotal, item.LedgerTotal)
	if expectedPercent.Sub(actual).Abs().LessThanOrEqual(d.tolerance) {
		return nil
	}

	warning := &models.DriftWarning{
		ItemID:          item.ID,
		ProductID:       item.ProductID,
		ExpectedPercent: expectedPercent,
		ActualPercent:   actual,
	}

	switch {
	case expectedPercent.IsPositive() && actual.IsZero():
		warning.Kind = models.DriftMissingDiscount
		warning.Action = models.ActionApplyConfiguredDiscount
	case expectedPercent.IsZero() && actual.IsPositive():
		warning.Kind = models.DriftUnexpectedDiscount
		warning.Action = models.ActionRemoveLedgerDiscount
	default:
		warning.Kind = models.DriftPercentageMismatch
		warning.Action = models.ActionSyncToConfiguration
	}

	return warning
}
