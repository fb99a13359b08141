package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeReconciliationCompleted = "RECONCILIATION_COMPLETED"
	EventTypeReconciliationFailed    = "RECONCILIATION_FAILED"
	EventTypeDriftDetected           = "DRIFT_DETECTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ReconciliationCompletedEvent published after a save cycle commits its
// aggregate recalculation.
type ReconciliationCompletedEvent struct {
	BaseEvent
	OrderID      int64 `json:"order_id"`
	ItemCount    int   `json:"item_count"`
	WrittenCount int   `json:"written_count"`
	DeletedCount int   `json:"deleted_count"`
	SkippedCount int   `json:"skipped_count"`
	DriftCount   int   `json:"drift_count"`
}

// ReconciliationFailedEvent published when the ledger aggregate
// recalculation fails and the cycle is reported as failed.
type ReconciliationFailedEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}

// DriftDetectedEvent published once per drift warning so the audit worker
// can persist it for operator review.
type DriftDetectedEvent struct {
	BaseEvent
	OrderID         int64           `json:"order_id"`
	ItemID          int64           `json:"item_id"`
	ProductID       int64           `json:"product_id"`
	Kind            string          `json:"kind"`
	ExpectedPercent decimal.Decimal `json:"expected_percent"`
	ActualPercent   decimal.Decimal `json:"actual_percent"`
	Action          string          `json:"recommended_action"`
}
