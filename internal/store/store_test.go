package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"rental-marketplace/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFoundWrapsNoRows(t *testing.T) {
	err := notFound(sql.ErrNoRows, "product", 7)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "product 7")

	other := errors.New("boom")
	assert.Equal(t, other, notFound(other, "product", 7))
	assert.NoError(t, notFound(nil, "product", 7))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("plain")))
	assert.False(t, isUniqueViolation(nil))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, "tent", escapeLike("tent"))
	assert.Equal(t, `100\%`, escapeLike("100%"))
	assert.Equal(t, `a\_b`, escapeLike("a_b"))
	assert.Equal(t, `c:\\dir`, escapeLike(`c:\dir`))
}

// testStore connects to TEST_DATABASE_URL and applies the schema.
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires database")
	}

	store, err := NewStore(url)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func seedUser(t *testing.T, s *Store) *models.User {
	t.Helper()
	u := &models.User{
		Email:        uuid.NewString() + "@example.com",
		PasswordHash: "hash",
		FullName:     "Test User",
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func seedProduct(t *testing.T, s *Store, ownerID int64) *models.Product {
	t.Helper()
	p := &models.Product{
		OwnerID:    ownerID,
		Title:      "Camping tent",
		Category:   "outdoor",
		DailyPrice: 2500,
		Deposit:    5000,
		ImageURLs:  pq.StringArray{},
		Status:     models.ProductStatusAvailable,
	}
	require.NoError(t, s.CreateProduct(context.Background(), p))
	return p
}

func day(d int) time.Time {
	return time.Date(2030, time.June, d, 0, 0, 0, 0, time.UTC)
}

func newRequest(p *models.Product, renterID int64, start, end int) *models.RentalRequest {
	days := end - start + 1
	return &models.RentalRequest{
		ProductID:   p.ID,
		RenterID:    renterID,
		OwnerID:     p.OwnerID,
		StartDate:   day(start),
		EndDate:     day(end),
		Days:        days,
		DailyPrice:  p.DailyPrice,
		Deposit:     p.Deposit,
		Status:      models.RentalStatusPending,
		TotalAmount: int64(days) * p.DailyPrice,
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u := seedUser(t, s)
	dup := &models.User{Email: u.Email, PasswordHash: "x", FullName: "Dup"}
	assert.ErrorIs(t, s.CreateUser(ctx, dup), ErrDuplicate)
}

func TestRentalLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	owner := seedUser(t, s)
	renter := seedUser(t, s)
	rival := seedUser(t, s)
	product := seedProduct(t, s, owner.ID)

	mine := newRequest(product, renter.ID, 1, 3)
	require.NoError(t, s.CreateRentalRequest(ctx, mine))
	theirs := newRequest(product, rival.ID, 3, 5)
	require.NoError(t, s.CreateRentalRequest(ctx, theirs))

	// same renter, overlapping open request
	assert.ErrorIs(t, s.CreateRentalRequest(ctx, newRequest(product, renter.ID, 2, 2)), ErrDuplicate)

	_, err := s.AcceptRental(ctx, mine.ID)
	require.NoError(t, err)
	_, err = s.AcceptRental(ctx, mine.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	checkout, err := s.OpenCheckout(ctx, mine.ID, uuid.NewString(), 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, checkout.Reused)
	assert.Equal(t, mine.TotalAmount, checkout.Payment.Amount)

	again, err := s.OpenCheckout(ctx, mine.ID, uuid.NewString(), 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, again.Reused)
	assert.Equal(t, checkout.Attempt.ID, again.Attempt.ID)

	ranges, err := s.BookedRanges(ctx, product.ID, day(1), day(30))
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.Equal(t, "checkout", ranges[0].Source)

	done, err := s.CompletePayment(ctx, checkout.Payment.ID, "ch_123", func(r *models.RentalRequest, p *models.Product, pay *models.Payment) *models.Invoice {
		return &models.Invoice{
			InvoiceNumber:   "INV-TEST-" + uuid.NewString(),
			RentalRequestID: r.ID,
			PaymentID:       pay.ID,
			RenterID:        r.RenterID,
			OwnerID:         r.OwnerID,
			Currency:        "USD",
			Subtotal:        r.TotalAmount,
			Total:           r.TotalAmount,
			Items: []models.InvoiceItem{
				{Description: p.Title, Quantity: r.Days, UnitAmount: p.DailyPrice, Amount: r.TotalAmount},
			},
		}
	})
	require.NoError(t, err)
	assert.Equal(t, models.RentalStatusPaid, done.Rental.Status)
	assert.Equal(t, models.PaymentStatusSucceeded, done.Payment.Status)
	require.Len(t, done.AutoRejected, 1)
	assert.Equal(t, theirs.ID, done.AutoRejected[0].ID)
	require.Len(t, done.Invoice.Items, 1)

	replay, err := s.CompletePayment(ctx, checkout.Payment.ID, "ch_123", nil)
	require.NoError(t, err)
	assert.True(t, replay.AlreadyCompleted)
	assert.Equal(t, done.Invoice.ID, replay.Invoice.ID)

	assert.ErrorIs(t, s.CreateRentalRequest(ctx, newRequest(product, rival.ID, 2, 4)), ErrDateConflict)

	_, err = s.RecordReturn(ctx, &models.ProductReturn{
		RentalRequestID: mine.ID,
		ReturnedBy:      renter.ID,
		Condition:       models.ConditionGood,
	})
	require.NoError(t, err)

	_, err = s.RecordReturn(ctx, &models.ProductReturn{
		RentalRequestID: mine.ID,
		ReturnedBy:      owner.ID,
		Condition:       models.ConditionGood,
	})
	assert.ErrorIs(t, err, ErrInvalidState)

	got, err := s.GetProductByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProductStatusAvailable, got.Status)
}

func TestCloseRentalFailsPendingPayments(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	owner := seedUser(t, s)
	renter := seedUser(t, s)
	product := seedProduct(t, s, owner.ID)

	r := newRequest(product, renter.ID, 10, 12)
	require.NoError(t, s.CreateRentalRequest(ctx, r))
	_, err := s.AcceptRental(ctx, r.ID)
	require.NoError(t, err)
	checkout, err := s.OpenCheckout(ctx, r.ID, uuid.NewString(), 5*time.Minute)
	require.NoError(t, err)

	byAttempt, err := s.GetPaymentByAttempt(ctx, checkout.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, checkout.Payment.ID, byAttempt.ID)

	closed, failed, err := s.CloseRental(ctx, r.ID,
		[]string{models.RentalStatusPending, models.RentalStatusAccepted}, models.RentalStatusCancelled, "")
	require.NoError(t, err)
	assert.Equal(t, models.RentalStatusCancelled, closed.Status)
	require.Len(t, failed, 1)
	assert.Equal(t, checkout.Payment.ID, failed[0].ID)
	assert.Equal(t, models.PaymentStatusFailed, failed[0].Status)

	attempt, err := s.GetAttempt(ctx, checkout.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStatusCancelled, attempt.Status)
}

func TestOfflineCompletionHeldByCheckout(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	owner := seedUser(t, s)
	renter := seedUser(t, s)
	rival := seedUser(t, s)
	product := seedProduct(t, s, owner.ID)

	cash := newRequest(product, renter.ID, 10, 12)
	require.NoError(t, s.CreateRentalRequest(ctx, cash))
	card := newRequest(product, rival.ID, 12, 14)
	require.NoError(t, s.CreateRentalRequest(ctx, card))
	for _, r := range []*models.RentalRequest{cash, card} {
		_, err := s.AcceptRental(ctx, r.ID)
		require.NoError(t, err)
	}

	offline, err := s.CreateOfflinePayment(ctx, cash.ID, models.PaymentMethodCash)
	require.NoError(t, err)
	_, err = s.OpenCheckout(ctx, card.ID, uuid.NewString(), 5*time.Minute)
	require.NoError(t, err)

	_, err = s.CompletePayment(ctx, offline.ID, "", nil)
	assert.ErrorIs(t, err, ErrCheckoutHeld)
	assert.ErrorIs(t, err, ErrDateConflict)

	still, err := s.GetPaymentByID(ctx, offline.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, still.Status)
}

func TestSetProductStatusKeepsRented(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	owner := seedUser(t, s)
	p := seedProduct(t, s, owner.ID)

	status, err := s.SetProductStatus(ctx, p.ID, owner.ID, models.ProductStatusUnavailable)
	require.NoError(t, err)
	assert.Equal(t, models.ProductStatusUnavailable, status)

	_, err = s.db.ExecContext(ctx, "UPDATE products SET status = 'rented' WHERE id = $1", p.ID)
	require.NoError(t, err)

	p.Title = "Renamed tent"
	require.NoError(t, s.UpdateProduct(ctx, p))
	assert.Equal(t, models.ProductStatusRented, p.Status)

	status, err = s.SetProductStatus(ctx, p.ID, owner.ID, models.ProductStatusAvailable)
	require.NoError(t, err)
	assert.Equal(t, models.ProductStatusRented, status)

	_, err = s.SetProductStatus(ctx, p.ID, owner.ID+1000, models.ProductStatusAvailable)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchMatchesWildcardsLiterally(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	owner := seedUser(t, s)

	p := seedProduct(t, s, owner.ID)
	p.Title = "100% waterproof tent " + uuid.NewString()
	require.NoError(t, s.UpdateProduct(ctx, p))
	seedProduct(t, s, owner.ID)

	got, err := s.ListProducts(ctx, models.ProductFilter{Search: "100%"})
	require.NoError(t, err)
	for _, item := range got {
		assert.Contains(t, item.Title+item.Description, "100%")
	}

	got, err = s.ListProducts(ctx, models.ProductFilter{Search: "%"})
	require.NoError(t, err)
	for _, item := range got {
		assert.Contains(t, item.Title+item.Description, "%")
	}
}

func TestStoreEventNotificationsOnce(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := seedUser(t, s)

	eventID := uuid.NewString()
	notify := func() []*models.Notification {
		return []*models.Notification{{UserID: u.ID, Type: models.EventTypeRentalRequested, Title: "New rental request"}}
	}

	first := notify()
	stored, err := s.StoreEventNotifications(ctx, eventID, models.EventTypeRentalRequested, first)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.NotZero(t, first[0].ID)

	stored, err = s.StoreEventNotifications(ctx, eventID, models.EventTypeRentalRequested, notify())
	require.NoError(t, err)
	assert.False(t, stored)

	list, err := s.ListNotifications(ctx, u.ID, false, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStoreEventNotificationsRollsBack(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := seedUser(t, s)

	eventID := uuid.NewString()
	_, err := s.StoreEventNotifications(ctx, eventID, models.EventTypeRentalReturned, []*models.Notification{
		{UserID: u.ID, Type: models.EventTypeRentalReturned, Title: "Rental returned"},
		{UserID: -1, Type: models.EventTypeRentalReturned, Title: "Rental returned"},
	})
	require.Error(t, err)

	list, err := s.ListNotifications(ctx, u.ID, false, 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	stored, err := s.StoreEventNotifications(ctx, eventID, models.EventTypeRentalReturned, []*models.Notification{
		{UserID: u.ID, Type: models.EventTypeRentalReturned, Title: "Rental returned"},
	})
	require.NoError(t, err)
	assert.True(t, stored, "a failed attempt does not mark the event processed")
}
