package pricing

import (
	"testing"

	"pricing-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestResolveNonExcludedTracksGlobalDiscount(t *testing.T) {
	item := &models.LineItem{
		CatalogUnitPrice: dec("20"),
		Quantity:         3,
	}

	res := Resolve(item, dec("10"))

	assert.True(t, res.Subtotal.Equal(dec("60")), "subtotal = %s", res.Subtotal)
	assert.True(t, res.Total.Equal(dec("54")), "total = %s", res.Total)
	assert.True(t, res.EffectiveDiscountPercent.Equal(dec("10")))
	assert.False(t, res.IsMarkup)
}

func TestResolveMarkupSurvivesGlobalDiscountChange(t *testing.T) {
	item := &models.LineItem{
		CatalogUnitPrice:           dec("80"),
		Quantity:                   2,
		ExcludedFromGlobalDiscount: true,
		FixedUnitPrice:             decPtr("50"),
	}

	before := Resolve(item, dec("0"))
	after := Resolve(item, dec("30"))

	assert.True(t, before.Total.Equal(dec("100")), "total = %s", before.Total)
	assert.True(t, after.Total.Equal(dec("100")), "total after global change = %s", after.Total)
	assert.True(t, after.IsMarkup)
	assert.True(t, after.EffectiveDiscountPercent.IsZero())
}

func TestResolveMarkupAllowsPriceIncreaseOverCatalog(t *testing.T) {
	item := &models.LineItem{
		CatalogUnitPrice:           dec("10"),
		Quantity:                   1,
		ExcludedFromGlobalDiscount: true,
		FixedUnitPrice:             decPtr("25"),
	}

	res := Resolve(item, dec("50"))

	assert.True(t, res.Subtotal.Equal(dec("10")))
	assert.True(t, res.Total.Equal(dec("25")), "fixed price is used verbatim, got %s", res.Total)
	assert.True(t, res.IsMarkup)
}

func TestResolveExcludedWithConfiguredPercent(t *testing.T) {
	item := &models.LineItem{
		CatalogUnitPrice:           dec("100"),
		Quantity:                   1,
		ExcludedFromGlobalDiscount: true,
		ConfiguredDiscountPercent:  dec("15"),
	}

	res := Resolve(item, dec("30"))

	assert.True(t, res.Total.Equal(dec("85")), "total = %s", res.Total)
	assert.True(t, res.EffectiveDiscountPercent.Equal(dec("15")))
	assert.False(t, res.IsMarkup)
}

func TestResolveConfiguredPercentWinsOverFixedPrice(t *testing.T) {
	item := &models.LineItem{
		CatalogUnitPrice:           dec("100"),
		Quantity:                   1,
		ExcludedFromGlobalDiscount: true,
		ConfiguredDiscountPercent:  dec("20"),
		FixedUnitPrice:             decPtr("50"),
	}

	res := Resolve(item, dec("0"))

	assert.True(t, res.Total.Equal(dec("80")), "configured percent takes precedence, got %s", res.Total)
	assert.False(t, res.IsMarkup)
}

func TestResolveExcludedWithoutConfigKeepsSubtotal(t *testing.T) {
	item := &models.LineItem{
		CatalogUnitPrice:           dec("33.33"),
		Quantity:                   3,
		ExcludedFromGlobalDiscount: true,
	}

	res := Resolve(item, dec("40"))

	assert.True(t, res.Total.Equal(res.Subtotal))
	assert.True(t, res.EffectiveDiscountPercent.IsZero())
	assert.False(t, res.IsMarkup)
}

func TestResolveCatalogPriceInvariance(t *testing.T) {
	// The subtotal is always catalog price times quantity, no matter what
	// discount or markup inputs say.
	configs := []*models.LineItem{
		{CatalogUnitPrice: dec("12.50"), Quantity: 4},
		{CatalogUnitPrice: dec("12.50"), Quantity: 4, ExcludedFromGlobalDiscount: true},
		{CatalogUnitPrice: dec("12.50"), Quantity: 4, ExcludedFromGlobalDiscount: true, ConfiguredDiscountPercent: dec("99")},
		{CatalogUnitPrice: dec("12.50"), Quantity: 4, ExcludedFromGlobalDiscount: true, FixedUnitPrice: decPtr("1")},
	}

	for _, item := range configs {
		for _, global := range []string{"0", "10", "100"} {
			res := Resolve(item, dec(global))
			assert.True(t, res.Subtotal.Equal(dec("50")),
				"subtotal drifted to %s for global=%s", res.Subtotal, global)
		}
	}
}

func TestResolveClampsQuantityFloor(t *testing.T) {
	item := &models.LineItem{
		CatalogUnitPrice: dec("10"),
		Quantity:         0,
	}

	res := Resolve(item, dec("0"))

	assert.True(t, res.Subtotal.Equal(dec("10")), "quantity 0 clamps to 1, got %s", res.Subtotal)
}

func TestResolveNegativeGlobalDiscountTreatedAsZero(t *testing.T) {
	item := &models.LineItem{
		CatalogUnitPrice: dec("10"),
		Quantity:         1,
	}

	res := Resolve(item, dec("-5"))

	assert.True(t, res.Total.Equal(dec("10")))
	assert.True(t, res.EffectiveDiscountPercent.IsZero())
}

func TestResolveRoundingStability(t *testing.T) {
	item := &models.LineItem{
		CatalogUnitPrice: dec("9.99"),
		Quantity:         7,
	}

	first := Resolve(item, dec("13.5"))
	second := Resolve(item, dec("13.5"))

	assert.Equal(t, first.Subtotal.String(), second.Subtotal.String())
	assert.Equal(t, first.Total.String(), second.Total.String())
	assert.Equal(t, first.EffectiveDiscountPercent.String(), second.EffectiveDiscountPercent.String())
}

func TestRederiveFixedUnitPrice(t *testing.T) {
	// An inferred markup recorded total=90 at quantity 3; the unit price the
	// admin actually set was 30.
	fp := RederiveFixedUnitPrice(dec("90"), 3)
	assert.True(t, fp.Equal(dec("30")), "got %s", fp)

	// Guard against a corrupt previous quantity.
	fp = RederiveFixedUnitPrice(dec("90"), 0)
	assert.True(t, fp.Equal(dec("90")), "got %s", fp)
}
