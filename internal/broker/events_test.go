package broker

import (
	"context"
	"encoding/json"
	"testing"

	"rental-marketplace/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: raw}
}

func TestHandleMessageRoutesByType(t *testing.T) {
	h := NewEventHandler()

	var rental *models.RentalEvent
	var payment *models.PaymentEvent
	var invoice *models.InvoiceIssuedEvent
	h.OnRentalEvent(func(_ context.Context, e *models.RentalEvent) error { rental = e; return nil })
	h.OnPaymentEvent(func(_ context.Context, e *models.PaymentEvent) error { payment = e; return nil })
	h.OnInvoiceIssued(func(_ context.Context, e *models.InvoiceIssuedEvent) error { invoice = e; return nil })

	ctx := context.Background()

	require.NoError(t, h.HandleMessage(ctx, message(t, &models.RentalEvent{
		BaseEvent: NewBaseEvent(models.EventTypeRentalAccepted),
		RentalID:  11,
		RenterID:  2,
	})))
	require.NotNil(t, rental)
	assert.Equal(t, int64(11), rental.RentalID)
	assert.Equal(t, models.EventTypeRentalAccepted, rental.EventType)

	require.NoError(t, h.HandleMessage(ctx, message(t, &models.PaymentEvent{
		BaseEvent: NewBaseEvent(models.EventTypePaymentFailed),
		PaymentID: 5,
		Reason:    "card declined",
	})))
	require.NotNil(t, payment)
	assert.Equal(t, "card declined", payment.Reason)

	require.NoError(t, h.HandleMessage(ctx, message(t, &models.InvoiceIssuedEvent{
		BaseEvent:     NewBaseEvent(models.EventTypeInvoiceIssued),
		InvoiceNumber: "INV-20300601-000011",
	})))
	require.NotNil(t, invoice)
	assert.Equal(t, "INV-20300601-000011", invoice.InvoiceNumber)
}

func TestHandleMessageUnknownAndMalformed(t *testing.T) {
	h := NewEventHandler()
	ctx := context.Background()

	assert.NoError(t, h.HandleMessage(ctx, message(t, NewBaseEvent("SOMETHING_ELSE"))))
	assert.NoError(t, h.HandleMessage(ctx, message(t, NewBaseEvent(models.EventTypeRentalRequested))),
		"no handler registered is not an error")
	assert.Error(t, h.HandleMessage(ctx, kafka.Message{Value: []byte("not json")}))
}

func TestNewBaseEvent(t *testing.T) {
	a := NewBaseEvent(models.EventTypeRentalReturned)
	b := NewBaseEvent(models.EventTypeRentalReturned)
	assert.NotEqual(t, a.EventID, b.EventID)
	assert.Equal(t, models.EventTypeRentalReturned, a.EventType)
	assert.False(t, a.Timestamp.IsZero())
	assert.Equal(t, "rental-42", rentalKey(42))
}
