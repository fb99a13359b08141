package staging

import (
	"pricing-service/internal/models"
)

// Consolidate merges candidate add requests by product identity before
// anything touches the ledger: quantities are summed, the first-seen config
// wins, and requests with a non-positive quantity are dropped. The result
// preserves first-seen product order so repeated consolidation of the same
// input is deterministic.
func Consolidate(additions []models.StagedAddition) []models.StagedAddition {
	merged := make(map[int64]*models.StagedAddition, len(additions))
	order := make([]int64, 0, len(additions))

	for _, add := range additions {
		if add.Quantity <= 0 {
			continue
		}
		if existing, ok := merged[add.ProductID]; ok {
			existing.Quantity += add.Quantity
			continue
		}
		entry := add
		merged[add.ProductID] = &entry
		order = append(order, add.ProductID)
	}

	result := make([]models.StagedAddition, 0, len(order))
	for _, productID := range order {
		result = append(result, *merged[productID])
	}
	return result
}
