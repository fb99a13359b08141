package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"pricing-service/internal/models"
	"pricing-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing reconciliation domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishReconciliationCompleted publishes ReconciliationCompleted event
func (ep *EventPublisher) PublishReconciliationCompleted(ctx context.Context, event *models.ReconciliationCompletedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishReconciliationFailed publishes ReconciliationFailed event
func (ep *EventPublisher) PublishReconciliationFailed(ctx context.Context, event *models.ReconciliationFailedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishDriftDetected publishes DriftDetected event
func (ep *EventPublisher) PublishDriftDetected(ctx context.Context, event *models.DriftDetectedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onDriftDetected           func(context.Context, *models.DriftDetectedEvent) error
	onReconciliationCompleted func(context.Context, *models.ReconciliationCompletedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnDriftDetected registers a handler for DriftDetected events
func (eh *EventHandler) OnDriftDetected(handler func(context.Context, *models.DriftDetectedEvent) error) {
	eh.onDriftDetected = handler
}

// OnReconciliationCompleted registers a handler for ReconciliationCompleted events
func (eh *EventHandler) OnReconciliationCompleted(handler func(context.Context, *models.ReconciliationCompletedEvent) error) {
	eh.onReconciliationCompleted = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	util.GetLogger().Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeDriftDetected:
		if eh.onDriftDetected != nil {
			var event models.DriftDetectedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal DriftDetected event: %w", err)
			}
			return eh.onDriftDetected(ctx, &event)
		}

	case models.EventTypeReconciliationCompleted:
		if eh.onReconciliationCompleted != nil {
			var event models.ReconciliationCompletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ReconciliationCompleted event: %w", err)
			}
			return eh.onReconciliationCompleted(ctx, &event)
		}

	default:
		util.GetLogger().Warn("Unhandled event type",
			zap.String("type", baseEvent.EventType))
	}

	return nil
}
