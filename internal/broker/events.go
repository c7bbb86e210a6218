package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rental-marketplace/internal/models"
	"rental-marketplace/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// NewBaseEvent stamps a fresh event ID and time
func NewBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// rentalKey keeps every event of one rental on the same partition.
func rentalKey(rentalID int64) string {
	return fmt.Sprintf("rental-%d", rentalID)
}

// PublishRentalEvent publishes a rental transition event
func (ep *EventPublisher) PublishRentalEvent(ctx context.Context, event *models.RentalEvent) error {
	return ep.producer.PublishEvent(ctx, rentalKey(event.RentalID), event.EventType, event)
}

// PublishPaymentEvent publishes PaymentSucceeded or PaymentFailed
func (ep *EventPublisher) PublishPaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	return ep.producer.PublishEvent(ctx, rentalKey(event.RentalID), event.EventType, event)
}

// PublishInvoiceIssued publishes InvoiceIssued
func (ep *EventPublisher) PublishInvoiceIssued(ctx context.Context, event *models.InvoiceIssuedEvent) error {
	return ep.producer.PublishEvent(ctx, rentalKey(event.RentalID), event.EventType, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onRental  func(context.Context, *models.RentalEvent) error
	onPayment func(context.Context, *models.PaymentEvent) error
	onInvoice func(context.Context, *models.InvoiceIssuedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnRentalEvent registers a handler for all rental transition events
func (eh *EventHandler) OnRentalEvent(handler func(context.Context, *models.RentalEvent) error) {
	eh.onRental = handler
}

// OnPaymentEvent registers a handler for payment events
func (eh *EventHandler) OnPaymentEvent(handler func(context.Context, *models.PaymentEvent) error) {
	eh.onPayment = handler
}

// OnInvoiceIssued registers a handler for InvoiceIssued events
func (eh *EventHandler) OnInvoiceIssued(handler func(context.Context, *models.InvoiceIssuedEvent) error) {
	eh.onInvoice = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	util.GetLogger().Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeRentalRequested, models.EventTypeRentalAccepted, models.EventTypeRentalRejected,
		models.EventTypeRentalCancelled, models.EventTypeRentalReturned:
		if eh.onRental != nil {
			var event models.RentalEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal %s event: %w", baseEvent.EventType, err)
			}
			return eh.onRental(ctx, &event)
		}

	case models.EventTypePaymentSucceeded, models.EventTypePaymentFailed:
		if eh.onPayment != nil {
			var event models.PaymentEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal %s event: %w", baseEvent.EventType, err)
			}
			return eh.onPayment(ctx, &event)
		}

	case models.EventTypeInvoiceIssued:
		if eh.onInvoice != nil {
			var event models.InvoiceIssuedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal InvoiceIssued event: %w", err)
			}
			return eh.onInvoice(ctx, &event)
		}

	default:
		util.GetLogger().Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
