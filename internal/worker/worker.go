package worker

import (
	"context"
	"fmt"

	"pricing-service/internal/broker"
	"pricing-service/internal/models"
	"pricing-service/internal/store"
	"pricing-service/internal/util"

	"go.uber.org/zap"
)

// DriftAuditWorker consumes drift events and persists them to the
// drift_reports table for operator review. Replaying a committed event is a
// no-op via the processed_events table.
type DriftAuditWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        *store.Store
	logger       *zap.Logger
}

// NewDriftAuditWorker creates a new drift audit worker
func NewDriftAuditWorker(consumer *broker.Consumer, store *store.Store) *DriftAuditWorker {
	w := &DriftAuditWorker{
		consumer: consumer,
		store:    store,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnDriftDetected(w.handleDriftDetected)
	eventHandler.OnReconciliationCompleted(w.handleReconciliationCompleted)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *DriftAuditWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting drift audit worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *DriftAuditWorker) Stop() error {
	w.logger.Info("Stopping drift audit worker")
	return w.consumer.Close()
}

func (w *DriftAuditWorker) handleReconciliationCompleted(_ context.Context, event *models.ReconciliationCompletedEvent) error {
	w.logger.Info("Reconciliation cycle observed",
		zap.Int64("order_id", event.OrderID),
		zap.Int("items", event.ItemCount),
		zap.Int("written", event.WrittenCount),
		zap.Int("deleted", event.DeletedCount),
		zap.Int("drift_warnings", event.DriftCount))
	return nil
}

func (w *DriftAuditWorker) handleDriftDetected(ctx context.Context, event *models.DriftDetectedEvent) error {
	processed, err := w.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	warning := &models.DriftWarning{
		ItemID:          event.ItemID,
		ProductID:       event.ProductID,
		Kind:            event.Kind,
		ExpectedPercent: event.ExpectedPercent,
		ActualPercent:   event.ActualPercent,
		Action:          event.Action,
	}

	if err := w.store.CreateDriftReport(ctx, event.OrderID, warning); err != nil {
		return fmt.Errorf("failed to persist drift report: %w", err)
	}

	if err := w.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		w.logger.Error("Failed to mark event processed", zap.Error(err))
	}

	w.logger.Info("Drift report recorded",
		zap.Int64("order_id", event.OrderID),
		zap.Int64("item_id", event.ItemID),
		zap.String("kind", event.Kind))

	return nil
}
