package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"rental-marketplace/internal/email"
	"rental-marketplace/internal/gateway"
	"rental-marketplace/internal/models"
	"rental-marketplace/internal/store"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var (
	_ UserStore         = (*memStore)(nil)
	_ ProductStore      = (*memStore)(nil)
	_ WishlistStore     = (*memStore)(nil)
	_ RentalStore       = (*memStore)(nil)
	_ PaymentStore      = (*memStore)(nil)
	_ InvoiceStore      = (*memStore)(nil)
	_ ReturnStore       = (*memStore)(nil)
	_ NotificationStore = (*memStore)(nil)
	_ DashboardStore    = (*memStore)(nil)
)

// observedLogger captures log entries at info and above
func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return zap.New(core), logs
}

// memStore mirrors the postgres store's rules closely enough for service tests.
type memStore struct {
	mu sync.Mutex

	nextID        int64
	users         map[int64]*models.User
	products      map[int64]*models.Product
	productReads  int
	wishlist      map[[2]int64]time.Time
	rentals       map[int64]*models.RentalRequest
	attempts      map[string]*models.PaymentAttempt
	payments      map[int64]*models.Payment
	invoices      map[int64]*models.Invoice
	returns       map[int64]*models.ProductReturn
	notifications []*models.Notification
	processed     map[string]bool

	afterProductRead func(p *models.Product)

	failNotifications    error
	failNotificationsFor int64
	failDashboard        error
}

func newMemStore() *memStore {
	return &memStore{
		users:     map[int64]*models.User{},
		products:  map[int64]*models.Product{},
		wishlist:  map[[2]int64]time.Time{},
		rentals:   map[int64]*models.RentalRequest{},
		attempts:  map[string]*models.PaymentAttempt{},
		payments:  map[int64]*models.Payment{},
		invoices:  map[int64]*models.Invoice{},
		returns:   map[int64]*models.ProductReturn{},
		processed: map[string]bool{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !bStart.After(aEnd)
}

// test helpers

func (m *memStore) addUser(email string) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &models.User{ID: m.id(), Email: email, FullName: email}
	m.users[u.ID] = u
	return u
}

func (m *memStore) addProduct(ownerID, dailyPrice, deposit int64) *models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &models.Product{ID: m.id(), OwnerID: ownerID, Title: "Camera", Category: "photo",
		DailyPrice: dailyPrice, Deposit: deposit, Status: models.ProductStatusAvailable}
	m.products[p.ID] = p
	cp := *p
	return &cp
}

func (m *memStore) rental(id int64) models.RentalRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rentals[id]
}

func (m *memStore) payment(id int64) models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.payments[id]
}

func (m *memStore) productStatus(id int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Status
}

func (m *memStore) expireAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		a.ExpiresAt = time.Now().Add(-time.Second)
	}
}

// users

func (m *memStore) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return fmt.Errorf("email %s: %w", user.Email, store.ErrDuplicate)
		}
	}
	user.ID = m.id()
	user.CreatedAt = time.Now()
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memStore) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, store.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, store.ErrNotFound)
}

func (m *memStore) UpdateUserProfile(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

// products

func (m *memStore) CreateProduct(_ context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id()
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *memStore) SetProductStatus(_ context.Context, productID, ownerID int64, status string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok || p.OwnerID != ownerID || p.Status == models.ProductStatusArchived {
		return "", store.ErrNotFound
	}
	if !(p.Status == models.ProductStatusRented && status == models.ProductStatusAvailable) {
		p.Status = status
	}
	return p.Status, nil
}

func (m *memStore) UpdateProduct(_ context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.products[p.ID]
	if !ok || cur.OwnerID != p.OwnerID || cur.Status == models.ProductStatusArchived {
		return store.ErrNotFound
	}
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *memStore) ArchiveProduct(_ context.Context, productID, ownerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok || p.OwnerID != ownerID {
		return store.ErrNotFound
	}
	p.Status = models.ProductStatusArchived
	return nil
}

func (m *memStore) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.productReads++
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, store.ErrNotFound)
	}
	cp := *p
	if m.afterProductRead != nil {
		m.afterProductRead(p)
	}
	return &cp, nil
}

func (m *memStore) ListProducts(_ context.Context, f models.ProductFilter) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Product{}
	for _, p := range m.products {
		if p.Status == models.ProductStatusArchived {
			continue
		}
		if f.OwnerID > 0 && p.OwnerID != f.OwnerID {
			continue
		}
		if f.Category != "" && p.Category != f.Category {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) BookedRanges(_ context.Context, productID int64, from, to time.Time) ([]models.DateRange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.DateRange{}
	for _, r := range m.rentals {
		if r.ProductID == productID && r.Status == models.RentalStatusPaid && overlaps(r.StartDate, r.EndDate, from, to) {
			out = append(out, models.DateRange{StartDate: r.StartDate, EndDate: r.EndDate, Source: "rental"})
		}
	}
	for _, a := range m.attempts {
		if a.ProductID == productID && m.activeAttempt(a) && overlaps(a.StartDate, a.EndDate, from, to) {
			out = append(out, models.DateRange{StartDate: a.StartDate, EndDate: a.EndDate, Source: "checkout"})
		}
	}
	return out, nil
}

// wishlist

func (m *memStore) AddWishlistItem(_ context.Context, userID, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{userID, productID}
	if _, ok := m.wishlist[key]; !ok {
		m.wishlist[key] = time.Now()
	}
	return nil
}

func (m *memStore) RemoveWishlistItem(_ context.Context, userID, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.wishlist, [2]int64{userID, productID})
	return nil
}

func (m *memStore) ListWishlist(_ context.Context, userID int64) ([]models.WishlistItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.WishlistItem{}
	for key, at := range m.wishlist {
		if key[0] == userID {
			out = append(out, models.WishlistItem{UserID: userID, ProductID: key[1], CreatedAt: at, Product: *m.products[key[1]]})
		}
	}
	return out, nil
}

// rentals

func (m *memStore) activeAttempt(a *models.PaymentAttempt) bool {
	return a.Status == models.AttemptStatusActive && a.ExpiresAt.After(time.Now())
}

func (m *memStore) checkDates(productID int64, start, end time.Time, exclude int64, includeAttempts bool) error {
	for _, r := range m.rentals {
		if r.ID != exclude && r.ProductID == productID && r.Status == models.RentalStatusPaid &&
			overlaps(r.StartDate, r.EndDate, start, end) {
			return fmt.Errorf("product %d rented: %w", productID, store.ErrDateConflict)
		}
	}
	if !includeAttempts {
		return nil
	}
	for _, a := range m.attempts {
		if a.RentalRequestID != exclude && a.ProductID == productID && m.activeAttempt(a) &&
			overlaps(a.StartDate, a.EndDate, start, end) {
			return fmt.Errorf("product %d in checkout: %w", productID, store.ErrCheckoutHeld)
		}
	}
	return nil
}

func (m *memStore) CreateRentalRequest(_ context.Context, r *models.RentalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[r.ProductID]; !ok {
		return store.ErrNotFound
	}
	if err := m.checkDates(r.ProductID, r.StartDate, r.EndDate, 0, true); err != nil {
		return err
	}
	for _, o := range m.rentals {
		if o.ProductID == r.ProductID && o.RenterID == r.RenterID &&
			(o.Status == models.RentalStatusPending || o.Status == models.RentalStatusAccepted) &&
			overlaps(o.StartDate, o.EndDate, r.StartDate, r.EndDate) {
			return store.ErrDuplicate
		}
	}
	r.ID = m.id()
	r.CreatedAt = time.Now()
	cp := *r
	m.rentals[r.ID] = &cp
	return nil
}

func (m *memStore) GetRentalByID(_ context.Context, id int64) (*models.RentalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rentals[id]
	if !ok {
		return nil, fmt.Errorf("rental %d: %w", id, store.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ListRentals(_ context.Context, f store.RentalFilter) ([]models.RentalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.RentalRequest{}
	for _, r := range m.rentals {
		if (f.RenterID == 0 || r.RenterID == f.RenterID) && (f.OwnerID == 0 || r.OwnerID == f.OwnerID) &&
			(f.Status == "" || r.Status == f.Status) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) AcceptRental(_ context.Context, id int64) (*models.RentalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rentals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if r.Status != models.RentalStatusPending {
		return nil, store.ErrInvalidState
	}
	if err := m.checkDates(r.ProductID, r.StartDate, r.EndDate, r.ID, false); err != nil {
		return nil, err
	}
	now := time.Now()
	r.Status = models.RentalStatusAccepted
	r.AcceptedAt = &now
	cp := *r
	return &cp, nil
}

func (m *memStore) CloseRental(_ context.Context, id int64, from []string, to, reason string) (*models.RentalRequest, []models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rentals[id]
	if !ok {
		return nil, nil, store.ErrInvalidState
	}
	allowed := false
	for _, s := range from {
		allowed = allowed || r.Status == s
	}
	if !allowed {
		return nil, nil, store.ErrInvalidState
	}
	r.Status = to
	r.RejectionReason = reason
	failed := m.abandonCheckout(id, "rental request "+to)
	cp := *r
	return &cp, failed, nil
}

func (m *memStore) abandonCheckout(rentalID int64, reason string) []models.Payment {
	for _, a := range m.attempts {
		if a.RentalRequestID == rentalID && a.Status == models.AttemptStatusActive {
			a.Status = models.AttemptStatusCancelled
		}
	}
	failed := []models.Payment{}
	for _, p := range m.payments {
		if p.RentalRequestID == rentalID && p.Status == models.PaymentStatusPending {
			p.Status = models.PaymentStatusFailed
			p.FailureReason = reason
			failed = append(failed, *p)
		}
	}
	return failed
}

// payments

func (m *memStore) OpenCheckout(_ context.Context, rentalID int64, attemptID string, ttl time.Duration) (*store.Checkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rentals[rentalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if r.Status != models.RentalStatusAccepted {
		return nil, store.ErrInvalidState
	}
	for _, a := range m.attempts {
		if a.RentalRequestID == rentalID && m.activeAttempt(a) {
			for _, p := range m.payments {
				if p.AttemptID != nil && *p.AttemptID == a.ID {
					ac, pc := *a, *p
					return &store.Checkout{Attempt: &ac, Payment: &pc, Reused: true}, nil
				}
			}
		}
	}
	if err := m.checkDates(r.ProductID, r.StartDate, r.EndDate, r.ID, true); err != nil {
		return nil, err
	}

	a := &models.PaymentAttempt{ID: attemptID, RentalRequestID: r.ID, ProductID: r.ProductID, RenterID: r.RenterID,
		StartDate: r.StartDate, EndDate: r.EndDate, Status: models.AttemptStatusActive, ExpiresAt: time.Now().Add(ttl)}
	m.attempts[a.ID] = a
	id := a.ID
	p := &models.Payment{ID: m.id(), RentalRequestID: r.ID, AttemptID: &id, Method: models.PaymentMethodCard,
		Status: models.PaymentStatusPending, Amount: r.TotalAmount}
	m.payments[p.ID] = p
	ac, pc := *a, *p
	return &store.Checkout{Attempt: &ac, Payment: &pc}, nil
}

func (m *memStore) CreateOfflinePayment(_ context.Context, rentalID int64, method string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rentals[rentalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if r.Status != models.RentalStatusAccepted {
		return nil, store.ErrInvalidState
	}
	for _, p := range m.payments {
		if p.RentalRequestID == rentalID && p.AttemptID == nil && p.Status == models.PaymentStatusPending {
			return nil, store.ErrDuplicate
		}
	}
	p := &models.Payment{ID: m.id(), RentalRequestID: rentalID, Method: method,
		Status: models.PaymentStatusPending, Amount: r.TotalAmount}
	m.payments[p.ID] = p
	cp := *p
	return &cp, nil
}

func (m *memStore) GetPaymentByID(_ context.Context, id int64) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetPaymentByProviderRef(_ context.Context, ref string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ProviderRef == ref {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) GetPaymentByAttempt(_ context.Context, attemptID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *models.Payment
	for _, p := range m.payments {
		if p.AttemptID != nil && *p.AttemptID == attemptID && (found == nil || p.ID > found.ID) {
			found = p
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (m *memStore) ListPaymentsForRental(_ context.Context, rentalID int64) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Payment{}
	for _, p := range m.payments {
		if p.RentalRequestID == rentalID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) SetPaymentProvider(_ context.Context, paymentID int64, ref, checkoutURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return store.ErrNotFound
	}
	p.ProviderRef, p.CheckoutURL = ref, checkoutURL
	return nil
}

func (m *memStore) CompletePayment(_ context.Context, paymentID int64, providerRef string, build store.InvoiceBuilder) (*store.CompletedPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	r := m.rentals[p.RentalRequestID]

	switch p.Status {
	case models.PaymentStatusSucceeded:
		pc, rc := *p, *r
		out := &store.CompletedPayment{Payment: &pc, Rental: &rc, AlreadyCompleted: true}
		for _, inv := range m.invoices {
			if inv.RentalRequestID == r.ID {
				ic := *inv
				out.Invoice = &ic
			}
		}
		return out, nil
	case models.PaymentStatusFailed:
		return nil, store.ErrInvalidState
	}
	if r.Status != models.RentalStatusAccepted {
		return nil, store.ErrInvalidState
	}
	if err := m.checkDates(r.ProductID, r.StartDate, r.EndDate, r.ID, p.AttemptID == nil); err != nil {
		return nil, err
	}

	now := time.Now()
	p.Status = models.PaymentStatusSucceeded
	if providerRef != "" {
		p.ProviderRef = providerRef
	}
	p.PaidAt = &now
	r.Status = models.RentalStatusPaid
	r.PaidAt = &now
	if p.AttemptID != nil {
		m.attempts[*p.AttemptID].Status = models.AttemptStatusCompleted
	}
	product := m.products[r.ProductID]
	if product.Status == models.ProductStatusAvailable {
		product.Status = models.ProductStatusRented
	}

	out := &store.CompletedPayment{}
	for _, o := range m.rentals {
		if o.ID != r.ID && o.ProductID == r.ProductID &&
			(o.Status == models.RentalStatusPending || o.Status == models.RentalStatusAccepted) &&
			overlaps(o.StartDate, o.EndDate, r.StartDate, r.EndDate) {
			o.Status = models.RentalStatusRejected
			o.RejectionReason = "dates no longer available"
			out.FailedPayments = append(out.FailedPayments, m.abandonCheckout(o.ID, "dates no longer available")...)
			out.AutoRejected = append(out.AutoRejected, *o)
		}
	}

	pc, rc, prc := *p, *r, *product
	inv := build(&rc, &prc, &pc)
	inv.ID = m.id()
	inv.IssuedAt = now
	m.invoices[inv.ID] = inv
	ic := *inv
	out.Payment, out.Rental, out.Product, out.Invoice = &pc, &rc, &prc, &ic
	return out, nil
}

func (m *memStore) FailPayment(_ context.Context, paymentID int64, reason string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok || p.Status != models.PaymentStatusPending {
		return nil, store.ErrInvalidState
	}
	p.Status = models.PaymentStatusFailed
	p.FailureReason = reason
	if p.AttemptID != nil {
		if a := m.attempts[*p.AttemptID]; a.Status == models.AttemptStatusActive {
			a.Status = models.AttemptStatusCancelled
		}
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) ExpireAttempts(_ context.Context) (int64, []models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	failed := []models.Payment{}
	for _, a := range m.attempts {
		if a.Status != models.AttemptStatusActive || a.ExpiresAt.After(time.Now()) {
			continue
		}
		a.Status = models.AttemptStatusExpired
		n++
		for _, p := range m.payments {
			if p.AttemptID != nil && *p.AttemptID == a.ID && p.Status == models.PaymentStatusPending {
				p.Status = models.PaymentStatusFailed
				p.FailureReason = "checkout expired"
				failed = append(failed, *p)
			}
		}
	}
	return n, failed, nil
}

// invoices

func (m *memStore) GetInvoiceByID(_ context.Context, id int64) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *memStore) ListInvoices(_ context.Context, userID int64) ([]models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Invoice{}
	for _, inv := range m.invoices {
		if inv.RenterID == userID || inv.OwnerID == userID {
			out = append(out, *inv)
		}
	}
	return out, nil
}

// returns

func (m *memStore) RecordReturn(_ context.Context, ret *models.ProductReturn) (*models.RentalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rentals[ret.RentalRequestID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, done := m.returns[r.ID]; done {
		return nil, store.ErrDuplicate
	}
	if r.Status != models.RentalStatusPaid {
		return nil, store.ErrInvalidState
	}
	now := time.Now()
	ret.ID = m.id()
	ret.ProductID = r.ProductID
	ret.ReturnedAt = now
	cp := *ret
	m.returns[r.ID] = &cp

	r.Status = models.RentalStatusReturned
	r.ReturnedAt = &now
	stillOut := false
	for _, o := range m.rentals {
		stillOut = stillOut || (o.ProductID == r.ProductID && o.Status == models.RentalStatusPaid)
	}
	if p := m.products[r.ProductID]; !stillOut && p.Status == models.ProductStatusRented {
		p.Status = models.ProductStatusAvailable
	}
	rc := *r
	return &rc, nil
}

// notifications

func (m *memStore) StoreEventNotifications(_ context.Context, eventID, _ string, ns []*models.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed[eventID] {
		return false, nil
	}
	if m.failNotifications != nil {
		return false, m.failNotifications
	}
	for _, n := range ns {
		if n.UserID == m.failNotificationsFor {
			return false, fmt.Errorf("notification for user %d: %w", n.UserID, errBoom)
		}
	}
	for _, n := range ns {
		n.ID = m.id()
		n.CreatedAt = time.Now()
		cp := *n
		m.notifications = append(m.notifications, &cp)
	}
	m.processed[eventID] = true
	return true, nil
}

func (m *memStore) ListNotifications(_ context.Context, userID int64, unreadOnly bool, limit int) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Notification{}
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if n.UserID != userID || (unreadOnly && n.ReadAt != nil) {
			continue
		}
		out = append(out, *n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) MarkNotificationRead(_ context.Context, id, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		if n.ID == id && n.UserID == userID {
			now := time.Now()
			n.ReadAt = &now
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) MarkAllNotificationsRead(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.notifications {
		if n.UserID == userID && n.ReadAt == nil {
			now := time.Now()
			n.ReadAt = &now
			count++
		}
	}
	return count, nil
}

func (m *memStore) CountUnreadNotifications(_ context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.notifications {
		if n.UserID == userID && n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (m *memStore) notificationsFor(userID int64) []models.Notification {
	list, _ := m.ListNotifications(context.Background(), userID, false, 0)
	return list
}

// dashboard

func (m *memStore) CountOwnerProducts(_ context.Context, ownerID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDashboard != nil {
		return 0, m.failDashboard
	}
	count := 0
	for _, p := range m.products {
		if p.OwnerID == ownerID && p.Status != models.ProductStatusArchived {
			count++
		}
	}
	return count, nil
}

func (m *memStore) CountRentals(_ context.Context, f store.RentalFilter, statuses []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, r := range m.rentals {
		if (f.RenterID != 0 && r.RenterID != f.RenterID) || (f.OwnerID != 0 && r.OwnerID != f.OwnerID) {
			continue
		}
		for _, s := range statuses {
			if r.Status == s {
				count++
			}
		}
	}
	return count, nil
}

func (m *memStore) SumOwnerEarnings(_ context.Context, ownerID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, inv := range m.invoices {
		if inv.OwnerID == ownerID {
			sum += inv.Subtotal
		}
	}
	return sum, nil
}

func (m *memStore) SumRenterSpent(_ context.Context, renterID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, inv := range m.invoices {
		if inv.RenterID == renterID {
			sum += inv.Total
		}
	}
	return sum, nil
}

func (m *memStore) CountWishlist(_ context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for key := range m.wishlist {
		if key[0] == userID {
			count++
		}
	}
	return count, nil
}

// recordingEvents captures published events
type recordingEvents struct {
	mu       sync.Mutex
	rentals  []*models.RentalEvent
	payments []*models.PaymentEvent
	invoices []*models.InvoiceIssuedEvent
	err      error
}

func (e *recordingEvents) PublishRentalEvent(_ context.Context, ev *models.RentalEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rentals = append(e.rentals, ev)
	return e.err
}

func (e *recordingEvents) PublishPaymentEvent(_ context.Context, ev *models.PaymentEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payments = append(e.payments, ev)
	return e.err
}

func (e *recordingEvents) PublishInvoiceIssued(_ context.Context, ev *models.InvoiceIssuedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invoices = append(e.invoices, ev)
	return e.err
}

func (e *recordingEvents) paymentEvents(eventType string, paymentID int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.payments {
		if ev.EventType == eventType && ev.PaymentID == paymentID {
			n++
		}
	}
	return n
}

func (e *recordingEvents) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, ev := range e.rentals {
		out = append(out, ev.EventType)
	}
	for _, ev := range e.payments {
		out = append(out, ev.EventType)
	}
	for _, ev := range e.invoices {
		out = append(out, ev.EventType)
	}
	return out
}

// memCache is a JSON cache without expiry
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}}
}

func (c *memCache) GetJSON(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *memCache) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = raw
	return nil
}

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

// memLocker hands out one token per lock name
type memLocker struct {
	mu    sync.Mutex
	held  map[string]string
	count int
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[string]string{}}
}

func (l *memLocker) AcquireLock(_ context.Context, name string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[name]; taken {
		return "", false, nil
	}
	l.count++
	token := fmt.Sprintf("t%d", l.count)
	l.held[name] = token
	return token, true, nil
}

func (l *memLocker) ReleaseLock(_ context.Context, name, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] == token {
		delete(l.held, name)
	}
	return nil
}

// memIdempotency follows the redis pending-marker protocol
type memIdempotency struct {
	mu   sync.Mutex
	keys map[string][]byte
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{keys: map[string][]byte{}}
}

func (i *memIdempotency) BeginIdempotent(_ context.Context, key string, _ time.Duration) ([]byte, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	v, ok := i.keys[key]
	if !ok {
		i.keys[key] = nil
		return nil, false, nil
	}
	if v == nil {
		return nil, true, nil
	}
	return v, false, nil
}

func (i *memIdempotency) FinishIdempotent(_ context.Context, key string, response []byte, _ time.Duration) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.keys[key] = response
	return nil
}

func (i *memIdempotency) AbortIdempotent(_ context.Context, key string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.keys, key)
	return nil
}

// countingLimiter allows the first limit hits per key
type countingLimiter struct {
	mu   sync.Mutex
	hits map[string]int
	err  error
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hits == nil {
		l.hits = map[string]int{}
	}
	l.hits[key]++
	return l.hits[key] <= limit, nil
}

// stubGateway answers every charge with a fixed status
type stubGateway struct {
	mu     sync.Mutex
	status string
	reason string
	err    error
	calls  []gateway.ChargeRequest
}

func (g *stubGateway) CreateCharge(_ context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return nil, g.err
	}
	res := &gateway.ChargeResult{
		ProviderRef:   fmt.Sprintf("ch_%d", len(g.calls)),
		Status:        g.status,
		FailureReason: g.reason,
	}
	if g.status == gateway.StatusPending {
		res.CheckoutURL = "https://pay.example.com/" + res.ProviderRef
	}
	return res, nil
}

// hookedGateway runs during before the wrapped gateway answers
type hookedGateway struct {
	*stubGateway
	during func(req gateway.ChargeRequest)
}

func (g *hookedGateway) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	if g.during != nil {
		g.during(req)
	}
	return g.stubGateway.CreateCharge(ctx, req)
}

// recordingMailer and recordingPusher capture deliveries
type recordingMailer struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg email.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type recordingPusher struct {
	mu     sync.Mutex
	pushed []models.Notification
}

func (p *recordingPusher) Push(_ context.Context, n *models.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = append(p.pushed, *n)
	return nil
}

var errBoom = errors.New("boom")
