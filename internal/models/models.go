package models

import (
	"time"

	"github.com/lib/pq"
)

// User is a marketplace account; any user can both list and rent.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	FullName     string    `db:"full_name" json:"full_name"`
	Phone        string    `db:"phone" json:"phone,omitempty"`
	Bio          string    `db:"bio" json:"bio,omitempty"`
	AvatarURL    string    `db:"avatar_url" json:"avatar_url,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Product is an item listed for rent. Prices are minor currency units.
type Product struct {
	ID          int64          `db:"id" json:"id"`
	OwnerID     int64          `db:"owner_id" json:"owner_id"`
	Title       string         `db:"title" json:"title"`
	Description string         `db:"description" json:"description"`
	Category    string         `db:"category" json:"category"`
	DailyPrice  int64          `db:"daily_price" json:"daily_price"`
	Deposit     int64          `db:"deposit" json:"deposit"`
	Location    string         `db:"location" json:"location"`
	ImageURLs   pq.StringArray `db:"image_urls" json:"image_urls"`
	Status      string         `db:"status" json:"status"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// Product statuses
const (
	ProductStatusAvailable   = "available"
	ProductStatusRented      = "rented"
	ProductStatusUnavailable = "unavailable"
	ProductStatusArchived    = "archived"
)

// Rentable reports whether new requests may be made against the product.
func (p *Product) Rentable() bool {
	return p.Status == ProductStatusAvailable || p.Status == ProductStatusRented
}

// ProductFilter narrows product listings. Zero values are ignored.
type ProductFilter struct {
	Category string
	Search   string
	MinPrice int64
	MaxPrice int64
	OwnerID  int64
	Limit    int
	Offset   int
}

// WishlistItem is a product saved by a user.
type WishlistItem struct {
	UserID    int64     `db:"user_id" json:"user_id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	Product   Product   `db:"product" json:"product"`
}

// RentalRequest is a renter's request to rent a product for an inclusive
// date range. DailyPrice and Deposit are copied from the product when the
// request is created.
type RentalRequest struct {
	ID              int64      `db:"id" json:"id"`
	ProductID       int64      `db:"product_id" json:"product_id"`
	RenterID        int64      `db:"renter_id" json:"renter_id"`
	OwnerID         int64      `db:"owner_id" json:"owner_id"`
	StartDate       time.Time  `db:"start_date" json:"start_date"`
	EndDate         time.Time  `db:"end_date" json:"end_date"`
	Days            int        `db:"days" json:"days"`
	DailyPrice      int64      `db:"daily_price" json:"daily_price"`
	Deposit         int64      `db:"deposit" json:"deposit"`
	Message         string     `db:"message" json:"message,omitempty"`
	Status          string     `db:"status" json:"status"`
	TotalAmount     int64      `db:"total_amount" json:"total_amount"`
	ServiceFeeBps   int64      `db:"service_fee_bps" json:"-"`
	TaxBps          int64      `db:"tax_bps" json:"-"`
	RejectionReason string     `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
	AcceptedAt      *time.Time `db:"accepted_at" json:"accepted_at,omitempty"`
	PaidAt          *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	ReturnedAt      *time.Time `db:"returned_at" json:"returned_at,omitempty"`
	CancelledAt     *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// Rental request statuses
const (
	RentalStatusPending   = "pending"
	RentalStatusAccepted  = "accepted"
	RentalStatusRejected  = "rejected"
	RentalStatusCancelled = "cancelled"
	RentalStatusPaid      = "paid"
	RentalStatusReturned  = "returned"
)

var rentalTransitions = map[string][]string{
	RentalStatusPending:  {RentalStatusAccepted, RentalStatusRejected, RentalStatusCancelled},
	RentalStatusAccepted: {RentalStatusPaid, RentalStatusRejected, RentalStatusCancelled},
	RentalStatusPaid:     {RentalStatusReturned},
}

// CanTransition reports whether a rental request may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range rentalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsRenterOrOwner reports whether userID is a party to the rental.
func (r *RentalRequest) IsRenterOrOwner(userID int64) bool {
	return r.RenterID == userID || r.OwnerID == userID
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	Source    string    `db:"source" json:"source"`
}

// Overlaps reports whether two inclusive day ranges share at least one day.
func (d DateRange) Overlaps(o DateRange) bool {
	return !d.StartDate.After(o.EndDate) && !o.StartDate.After(d.EndDate)
}

// PaymentAttempt softly reserves a product and date range during checkout.
type PaymentAttempt struct {
	ID              string    `db:"id" json:"id"`
	RentalRequestID int64     `db:"rental_request_id" json:"rental_request_id"`
	ProductID       int64     `db:"product_id" json:"product_id"`
	RenterID        int64     `db:"renter_id" json:"renter_id"`
	StartDate       time.Time `db:"start_date" json:"start_date"`
	EndDate         time.Time `db:"end_date" json:"end_date"`
	Status          string    `db:"status" json:"status"`
	ExpiresAt       time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Payment attempt statuses
const (
	AttemptStatusActive    = "active"
	AttemptStatusCompleted = "completed"
	AttemptStatusExpired   = "expired"
	AttemptStatusCancelled = "cancelled"
)

// Payment represents money collected for a rental request
type Payment struct {
	ID              int64      `db:"id" json:"id"`
	RentalRequestID int64      `db:"rental_request_id" json:"rental_request_id"`
	AttemptID       *string    `db:"attempt_id" json:"attempt_id,omitempty"`
	Method          string     `db:"method" json:"method"`
	Status          string     `db:"status" json:"status"`
	Amount          int64      `db:"amount" json:"amount"`
	ProviderRef     string     `db:"provider_ref" json:"provider_ref,omitempty"`
	CheckoutURL     string     `db:"checkout_url" json:"checkout_url,omitempty"`
	FailureReason   string     `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
	PaidAt          *time.Time `db:"paid_at" json:"paid_at,omitempty"`
}

// Payment methods
const (
	PaymentMethodCard         = "card"
	PaymentMethodCash         = "cash"
	PaymentMethodBankTransfer = "bank_transfer"
)

// IsOffline reports whether the method is settled outside the card processor.
func IsOffline(method string) bool {
	return method == PaymentMethodCash || method == PaymentMethodBankTransfer
}

// Payment statuses
const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

// Invoice is the billing record issued when a rental is paid.
type Invoice struct {
	ID              int64         `db:"id" json:"id"`
	InvoiceNumber   string        `db:"invoice_number" json:"invoice_number"`
	RentalRequestID int64         `db:"rental_request_id" json:"rental_request_id"`
	PaymentID       int64         `db:"payment_id" json:"payment_id"`
	RenterID        int64         `db:"renter_id" json:"renter_id"`
	OwnerID         int64         `db:"owner_id" json:"owner_id"`
	Currency        string        `db:"currency" json:"currency"`
	Subtotal        int64         `db:"subtotal" json:"subtotal"`
	ServiceFee      int64         `db:"service_fee" json:"service_fee"`
	Tax             int64         `db:"tax" json:"tax"`
	Deposit         int64         `db:"deposit" json:"deposit"`
	Total           int64         `db:"total" json:"total"`
	IssuedAt        time.Time     `db:"issued_at" json:"issued_at"`
	Items           []InvoiceItem `db:"-" json:"items"`
}

// InvoiceItem is a single invoice line.
type InvoiceItem struct {
	ID          int64  `db:"id" json:"id"`
	InvoiceID   int64  `db:"invoice_id" json:"invoice_id"`
	Description string `db:"description" json:"description"`
	Quantity    int    `db:"quantity" json:"quantity"`
	UnitAmount  int64  `db:"unit_amount" json:"unit_amount"`
	Amount      int64  `db:"amount" json:"amount"`
}

// ProductReturn marks the conclusion of a rental.
type ProductReturn struct {
	ID              int64     `db:"id" json:"id"`
	RentalRequestID int64     `db:"rental_request_id" json:"rental_request_id"`
	ProductID       int64     `db:"product_id" json:"product_id"`
	ReturnedBy      int64     `db:"returned_by" json:"returned_by"`
	Condition       string    `db:"condition" json:"condition"`
	Notes           string    `db:"notes" json:"notes,omitempty"`
	ReturnedAt      time.Time `db:"returned_at" json:"returned_at"`
}

// Return conditions
const (
	ConditionGood         = "good"
	ConditionDamaged      = "damaged"
	ConditionMissingParts = "missing_parts"
)

// Notification is an in-app message for a user.
type Notification struct {
	ID              int64      `db:"id" json:"id"`
	UserID          int64      `db:"user_id" json:"user_id"`
	Type            string     `db:"type" json:"type"`
	Title           string     `db:"title" json:"title"`
	Body            string     `db:"body" json:"body"`
	RentalRequestID *int64     `db:"rental_request_id" json:"rental_request_id,omitempty"`
	ReadAt          *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// OwnerDashboard summarises a lister's activity.
type OwnerDashboard struct {
	Products        int   `json:"products"`
	PendingRequests int   `json:"pending_requests"`
	ActiveRentals   int   `json:"active_rentals"`
	TotalEarnings   int64 `json:"total_earnings"`
}

// RenterDashboard summarises a renter's activity.
type RenterDashboard struct {
	OpenRequests  int   `json:"open_requests"`
	ActiveRentals int   `json:"active_rentals"`
	TotalSpent    int64 `json:"total_spent"`
	WishlistItems int   `json:"wishlist_items"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
