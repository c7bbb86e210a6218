package service

import (
	"context"
	"time"

	"rental-marketplace/internal/models"
	"rental-marketplace/internal/store"
)

// The interfaces below are the slices of the store, redis client and broker
// each service uses. *store.Store, *redisclient.Client and
// *broker.EventPublisher satisfy them.

type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUserProfile(ctx context.Context, user *models.User) error
}

type ProductStore interface {
	CreateProduct(ctx context.Context, p *models.Product) error
	UpdateProduct(ctx context.Context, p *models.Product) error
	SetProductStatus(ctx context.Context, productID, ownerID int64, status string) (string, error)
	ArchiveProduct(ctx context.Context, productID, ownerID int64) error
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context, f models.ProductFilter) ([]models.Product, error)
	BookedRanges(ctx context.Context, productID int64, from, to time.Time) ([]models.DateRange, error)
}

type WishlistStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	AddWishlistItem(ctx context.Context, userID, productID int64) error
	RemoveWishlistItem(ctx context.Context, userID, productID int64) error
	ListWishlist(ctx context.Context, userID int64) ([]models.WishlistItem, error)
}

type RentalStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	CreateRentalRequest(ctx context.Context, r *models.RentalRequest) error
	GetRentalByID(ctx context.Context, id int64) (*models.RentalRequest, error)
	ListRentals(ctx context.Context, f store.RentalFilter) ([]models.RentalRequest, error)
	AcceptRental(ctx context.Context, id int64) (*models.RentalRequest, error)
	CloseRental(ctx context.Context, id int64, from []string, to, reason string) (*models.RentalRequest, []models.Payment, error)
}

type PaymentStore interface {
	GetRentalByID(ctx context.Context, id int64) (*models.RentalRequest, error)
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	OpenCheckout(ctx context.Context, rentalID int64, attemptID string, ttl time.Duration) (*store.Checkout, error)
	CreateOfflinePayment(ctx context.Context, rentalID int64, method string) (*models.Payment, error)
	GetPaymentByID(ctx context.Context, id int64) (*models.Payment, error)
	GetPaymentByProviderRef(ctx context.Context, ref string) (*models.Payment, error)
	GetPaymentByAttempt(ctx context.Context, attemptID string) (*models.Payment, error)
	ListPaymentsForRental(ctx context.Context, rentalID int64) ([]models.Payment, error)
	SetPaymentProvider(ctx context.Context, paymentID int64, ref, checkoutURL string) error
	CompletePayment(ctx context.Context, paymentID int64, providerRef string, build store.InvoiceBuilder) (*store.CompletedPayment, error)
	FailPayment(ctx context.Context, paymentID int64, reason string) (*models.Payment, error)
	ExpireAttempts(ctx context.Context) (int64, []models.Payment, error)
}

type InvoiceStore interface {
	GetInvoiceByID(ctx context.Context, id int64) (*models.Invoice, error)
	ListInvoices(ctx context.Context, userID int64) ([]models.Invoice, error)
}

type ReturnStore interface {
	GetRentalByID(ctx context.Context, id int64) (*models.RentalRequest, error)
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	RecordReturn(ctx context.Context, ret *models.ProductReturn) (*models.RentalRequest, error)
}

type NotificationStore interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetInvoiceByID(ctx context.Context, id int64) (*models.Invoice, error)
	StoreEventNotifications(ctx context.Context, eventID, eventType string, ns []*models.Notification) (bool, error)
	ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID int64) error
	MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, error)
	CountUnreadNotifications(ctx context.Context, userID int64) (int, error)
}

type DashboardStore interface {
	CountOwnerProducts(ctx context.Context, ownerID int64) (int, error)
	CountRentals(ctx context.Context, f store.RentalFilter, statuses []string) (int, error)
	SumOwnerEarnings(ctx context.Context, ownerID int64) (int64, error)
	SumRenterSpent(ctx context.Context, renterID int64) (int64, error)
	CountWishlist(ctx context.Context, userID int64) (int, error)
}

// EventPublisher publishes domain events to the broker
type EventPublisher interface {
	PublishRentalEvent(ctx context.Context, event *models.RentalEvent) error
	PublishPaymentEvent(ctx context.Context, event *models.PaymentEvent) error
	PublishInvoiceIssued(ctx context.Context, event *models.InvoiceIssuedEvent) error
}

type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, name, token string) error
}

type IdempotencyStore interface {
	BeginIdempotent(ctx context.Context, key string, ttl time.Duration) ([]byte, bool, error)
	FinishIdempotent(ctx context.Context, key string, response []byte, ttl time.Duration) error
	AbortIdempotent(ctx context.Context, key string) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Pusher sends a stored notification to the user's open streams
type Pusher interface {
	Push(ctx context.Context, n *models.Notification) error
}
