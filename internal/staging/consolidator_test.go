package staging

import (
	"testing"

	"pricing-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsolidateMergesByProduct(t *testing.T) {
	additions := []models.StagedAddition{
		{ProductID: 7, Quantity: 2},
		{ProductID: 7, Quantity: 2},
	}

	result := Consolidate(additions)

	require.Len(t, result, 1)
	assert.Equal(t, int64(7), result[0].ProductID)
	assert.Equal(t, 4, result[0].Quantity)
}

func TestConsolidateKeepsFirstSeenConfig(t *testing.T) {
	excluded := &models.ItemConfig{ExcludedFromGlobalDiscount: true}
	other := &models.ItemConfig{ConfiguredDiscountPercent: decimal.RequireFromString("10")}

	additions := []models.StagedAddition{
		{ProductID: 7, Quantity: 1, Config: excluded},
		{ProductID: 7, Quantity: 1, Config: other},
	}

	result := Consolidate(additions)

	require.Len(t, result, 1)
	require.NotNil(t, result[0].Config)
	assert.True(t, result[0].Config.ExcludedFromGlobalDiscount)
	assert.True(t, result[0].Config.ConfiguredDiscountPercent.IsZero())
}

func TestConsolidateDropsNonPositiveQuantities(t *testing.T) {
	additions := []models.StagedAddition{
		{ProductID: 1, Quantity: 0},
		{ProductID: 2, Quantity: -3},
		{ProductID: 3, Quantity: 1},
	}

	result := Consolidate(additions)

	require.Len(t, result, 1)
	assert.Equal(t, int64(3), result[0].ProductID)
}

func TestConsolidatePreservesFirstSeenOrder(t *testing.T) {
	additions := []models.StagedAddition{
		{ProductID: 9, Quantity: 1},
		{ProductID: 4, Quantity: 1},
		{ProductID: 9, Quantity: 1},
		{ProductID: 2, Quantity: 1},
	}

	result := Consolidate(additions)

	require.Len(t, result, 3)
	assert.Equal(t, int64(9), result[0].ProductID)
	assert.Equal(t, int64(4), result[1].ProductID)
	assert.Equal(t, int64(2), result[2].ProductID)
	assert.Equal(t, 2, result[0].Quantity)
}

func TestConsolidateEmptyInput(t *testing.T) {
	assert.Empty(t, Consolidate(nil))
	assert.Empty(t, Consolidate([]models.StagedAddition{}))
}
