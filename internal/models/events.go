package models

import "time"

// Event types
const (
	EventTypeRentalRequested  = "RENTAL_REQUESTED"
	EventTypeRentalAccepted   = "RENTAL_ACCEPTED"
	EventTypeRentalRejected   = "RENTAL_REJECTED"
	EventTypeRentalCancelled  = "RENTAL_CANCELLED"
	EventTypeRentalReturned   = "RENTAL_RETURNED"
	EventTypePaymentSucceeded = "PAYMENT_SUCCEEDED"
	EventTypePaymentFailed    = "PAYMENT_FAILED"
	EventTypeInvoiceIssued    = "INVOICE_ISSUED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// RentalEvent is published on every rental request transition.
type RentalEvent struct {
	BaseEvent
	RentalID     int64     `json:"rental_id"`
	ProductID    int64     `json:"product_id"`
	ProductTitle string    `json:"product_title"`
	RenterID     int64     `json:"renter_id"`
	OwnerID      int64     `json:"owner_id"`
	Status       string    `json:"status"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	Reason       string    `json:"reason,omitempty"`
	Condition    string    `json:"condition,omitempty"`
}

// PaymentEvent is published when a payment succeeds or fails.
type PaymentEvent struct {
	BaseEvent
	RentalID  int64  `json:"rental_id"`
	PaymentID int64  `json:"payment_id"`
	RenterID  int64  `json:"renter_id"`
	OwnerID   int64  `json:"owner_id"`
	Method    string `json:"method"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason,omitempty"`
}

// InvoiceIssuedEvent is published after an invoice has been committed.
type InvoiceIssuedEvent struct {
	BaseEvent
	InvoiceID     int64  `json:"invoice_id"`
	InvoiceNumber string `json:"invoice_number"`
	RentalID      int64  `json:"rental_id"`
	RenterID      int64  `json:"renter_id"`
	OwnerID       int64  `json:"owner_id"`
	Currency      string `json:"currency"`
	Total         int64  `json:"total"`
}
