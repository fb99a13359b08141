package pricing

import (
	"pricing-service/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Resolution is the authoritative pricing outcome for one line item. All
// values carry full precision; rounding happens at the ledger-write boundary,
// never here.
type Resolution struct {
	Subtotal                 decimal.Decimal
	Total                    decimal.Decimal
	EffectiveDiscountPercent decimal.Decimal
	IsMarkup                 bool
}

// Resolve computes subtotal, total and the effective discount for an item
// under the given order-level global discount percentage.
//
// Precedence, top to bottom:
//  1. subtotal is always catalog price times quantity.
//  2. A non-excluded item takes the global discount.
//  3. An excluded item with a fixed unit price and no configured percent is a
//     markup line: the fixed price is used verbatim, even when it implies an
//     increase over catalog.
//  4. An excluded item with a configured percent takes that percent.
//  5. An excluded item with neither keeps its full subtotal.
func Resolve(item *models.LineItem, globalDiscountPercent decimal.Decimal) Resolution {
	qty := item.Quantity
	if qty < 1 {
		qty = 1
	}
	quantity := decimal.NewFromInt(int64(qty))

	subtotal := item.CatalogUnitPrice.Mul(quantity)

	if !item.ExcludedFromGlobalDiscount {
		percent := globalDiscountPercent
		if percent.IsNegative() {
			percent = decimal.Zero
		}
		return Resolution{
			Subtotal:                 subtotal,
			Total:                    applyPercent(subtotal, percent),
			EffectiveDiscountPercent: percent,
		}
	}

	if item.FixedUnitPrice != nil && !item.ConfiguredDiscountPercent.IsPositive() {
		return Resolution{
			Subtotal:                 subtotal,
			Total:                    item.FixedUnitPrice.Mul(quantity),
			EffectiveDiscountPercent: decimal.Zero,
			IsMarkup:                 true,
		}
	}

	if item.ConfiguredDiscountPercent.IsPositive() {
		return Resolution{
			Subtotal:                 subtotal,
			Total:                    applyPercent(subtotal, item.ConfiguredDiscountPercent),
			EffectiveDiscountPercent: item.ConfiguredDiscountPercent,
		}
	}

	return Resolution{
		Subtotal:                 subtotal,
		Total:                    subtotal,
		EffectiveDiscountPercent: decimal.Zero,
	}
}

// ExpectedDiscountPercent returns the discount the admin configuration calls
// for, independent of what the ledger currently stores.
func ExpectedDiscountPercent(item *models.LineItem, globalDiscountPercent decimal.Decimal) decimal.Decimal {
	return Resolve(item, globalDiscountPercent).EffectiveDiscountPercent
}

// RederiveFixedUnitPrice recomputes an inferred fixed unit price when the
// item's quantity changes. A markup that was inferred from the ledger
// (subtotal equal to total) recorded its total at the previous quantity, so
// the unit price must come from ledgerTotal / previousQuantity rather than
// from the stored fixed price.
func RederiveFixedUnitPrice(ledgerTotal decimal.Decimal, previousQuantity int) decimal.Decimal {
	if previousQuantity < 1 {
		previousQuantity = 1
	}
	return ledgerTotal.Div(decimal.NewFromInt(int64(previousQuantity)))
}

func applyPercent(subtotal, percent decimal.Decimal) decimal.Decimal {
	if !percent.IsPositive() {
		return subtotal
	}
	multiplier := decimal.NewFromInt(1).Sub(percent.Div(hundred))
	return subtotal.Mul(multiplier)
}
