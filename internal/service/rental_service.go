package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"rental-marketplace/internal/apperrors"
	"rental-marketplace/internal/broker"
	"rental-marketplace/internal/models"
	"rental-marketplace/internal/store"
	"rental-marketplace/internal/util"

	"go.uber.org/zap"
)

const idempotencyTTL = 24 * time.Hour

// RentalService handles the rental request lifecycle up to payment
type RentalService struct {
	store   RentalStore
	events  EventPublisher
	idem    IdempotencyStore
	pricing Pricing
	maxDays int
	now     func() time.Time
	logger  *zap.Logger
}

// NewRentalService creates a rental service. idem may be nil, in which case
// Idempotency-Key headers are ignored.
func NewRentalService(store RentalStore, events EventPublisher, idem IdempotencyStore, pricing Pricing, maxDays int) *RentalService {
	return &RentalService{
		store:   store,
		events:  events,
		idem:    idem,
		pricing: pricing,
		maxDays: maxDays,
		now:     time.Now,
		logger:  util.GetLogger(),
	}
}

type CreateRentalRequest struct {
	ProductID int64  `json:"product_id" binding:"required,gt=0"`
	StartDate string `json:"start_date" binding:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" binding:"required,datetime=2006-01-02"`
	Message   string `json:"message" binding:"max=1000"`
}

type ReasonRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// RentalQuote is the price of a prospective rental
type RentalQuote struct {
	ProductID int64  `json:"product_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Quote
}

// validateDates checks an inclusive range and returns its length in days
func (s *RentalService) validateDates(start, end time.Time) (int, error) {
	today := truncateDay(s.now())
	if start.Before(today) {
		return 0, apperrors.Validation("start_date cannot be in the past")
	}
	if end.Before(start) {
		return 0, apperrors.Validation("end_date must not be before start_date")
	}
	days := RentalDays(start, end)
	if s.maxDays > 0 && days > s.maxDays {
		return 0, apperrors.Validation(fmt.Sprintf("Rentals are limited to %d days", s.maxDays))
	}
	return days, nil
}

func parseRange(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := ParseDate(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, apperrors.Validation("start_date must be YYYY-MM-DD")
	}
	end, err := ParseDate(endStr)
	if err != nil {
		return time.Time{}, time.Time{}, apperrors.Validation("end_date must be YYYY-MM-DD")
	}
	return start, end, nil
}

func rentable(p *models.Product) error {
	if p.Status == models.ProductStatusArchived {
		return apperrors.NotFound("product")
	}
	if !p.Rentable() {
		return apperrors.Conflict("The product is not available for rent")
	}
	return nil
}

// Quote prices a prospective rental without creating it
func (s *RentalService) Quote(ctx context.Context, productID int64, startStr, endStr string) (*RentalQuote, error) {
	start, end, err := parseRange(startStr, endStr)
	if err != nil {
		return nil, err
	}
	days, err := s.validateDates(start, end)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		return nil, storeError(err, "product")
	}
	if err := rentable(p); err != nil {
		return nil, err
	}
	return &RentalQuote{
		ProductID: productID,
		StartDate: start.Format(dateLayout),
		EndDate:   end.Format(dateLayout),
		Quote:     s.pricing.Quote(p.DailyPrice, p.Deposit, days),
	}, nil
}

// Create submits a rental request. With an idempotency key, a repeated call
// returns the request created by the first one and replayed is true.
func (s *RentalService) Create(ctx context.Context, renterID int64, req *CreateRentalRequest, idempotencyKey string) (r *models.RentalRequest, replayed bool, err error) {
	ctx, span := util.StartSpan(ctx, "RentalService.Create")
	defer span.End()

	idemKey := ""
	if s.idem != nil && idempotencyKey != "" {
		idemKey = fmt.Sprintf("rental:%d:%s", renterID, idempotencyKey)
		stored, inFlight, beginErr := s.idem.BeginIdempotent(ctx, idemKey, idempotencyTTL)
		if beginErr != nil {
			return nil, false, apperrors.Unavailable("idempotency store", beginErr)
		}
		if inFlight {
			return nil, false, apperrors.Conflict("A request with this Idempotency-Key is still being processed")
		}
		if stored != nil {
			var prev models.RentalRequest
			if decodeErr := json.Unmarshal(stored, &prev); decodeErr != nil {
				return nil, false, apperrors.Internal("Failed to decode stored response", decodeErr)
			}
			s.logger.Info("Duplicate rental request detected",
				zap.String("idempotency_key", idempotencyKey),
				zap.Int64("rental_id", prev.ID))
			return &prev, true, nil
		}
		defer func() {
			if err != nil {
				if abortErr := s.idem.AbortIdempotent(context.Background(), idemKey); abortErr != nil {
					s.logger.Warn("Failed to release idempotency key", zap.Error(abortErr))
				}
			}
		}()
	}

	r, err = s.create(ctx, renterID, req)
	if err != nil {
		util.RecordError(span, err)
		return nil, false, err
	}

	if idemKey != "" {
		raw, encodeErr := encodeResponse(r)
		if encodeErr != nil {
			s.logger.Error("Failed to encode idempotent response", zap.Int64("rental_id", r.ID), zap.Error(encodeErr))
			if abortErr := s.idem.AbortIdempotent(context.Background(), idemKey); abortErr != nil {
				s.logger.Warn("Failed to release idempotency key", zap.Error(abortErr))
			}
		} else if finishErr := s.idem.FinishIdempotent(ctx, idemKey, raw, idempotencyTTL); finishErr != nil {
			s.logger.Warn("Failed to store idempotent response", zap.Error(finishErr))
		}
	}
	return r, false, nil
}

var encodeResponse = json.Marshal

func (s *RentalService) create(ctx context.Context, renterID int64, req *CreateRentalRequest) (*models.RentalRequest, error) {
	start, end, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	days, err := s.validateDates(start, end)
	if err != nil {
		return nil, err
	}

	p, err := s.store.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return nil, storeError(err, "product")
	}
	if err := rentable(p); err != nil {
		return nil, err
	}
	if p.OwnerID == renterID {
		return nil, apperrors.Validation("You cannot rent your own product")
	}

	quote := s.pricing.Quote(p.DailyPrice, p.Deposit, days)
	r := &models.RentalRequest{
		ProductID:   p.ID,
		RenterID:    renterID,
		OwnerID:     p.OwnerID,
		StartDate:   start,
		EndDate:     end,
		Days:        days,
		DailyPrice:  p.DailyPrice,
		Deposit:     p.Deposit,
		Message:     strings.TrimSpace(req.Message),
		Status:      models.RentalStatusPending,
		TotalAmount: quote.Total,

		ServiceFeeBps: s.pricing.ServiceFeeBps,
		TaxBps:        s.pricing.TaxBps,
	}

	if err := s.store.CreateRentalRequest(ctx, r); err != nil {
		switch {
		case errors.Is(err, store.ErrDateConflict):
			util.RentalConflictsTotal.WithLabelValues("request").Inc()
		case errors.Is(err, store.ErrDuplicate):
			return nil, apperrors.Conflict("You already have an open request for these dates")
		}
		return nil, storeError(err, "product")
	}

	util.RentalRequestsCreatedTotal.Inc()
	s.logger.Info("Rental requested",
		zap.Int64("rental_id", r.ID),
		zap.Int64("product_id", p.ID),
		zap.Int64("renter_id", renterID))

	s.publish(ctx, models.EventTypeRentalRequested, r, p.Title, "")
	return r, nil
}

// Get returns a rental visible to its renter or owner
func (s *RentalService) Get(ctx context.Context, userID, rentalID int64) (*models.RentalRequest, error) {
	r, err := s.store.GetRentalByID(ctx, rentalID)
	if err != nil {
		return nil, storeError(err, "rental request")
	}
	if !r.IsRenterOrOwner(userID) {
		return nil, apperrors.NotFound("rental request")
	}
	return r, nil
}

// List returns the user's rentals as renter (default) or owner
func (s *RentalService) List(ctx context.Context, userID int64, role, status string) ([]models.RentalRequest, error) {
	f := store.RentalFilter{Status: status}
	switch role {
	case "", "renter":
		f.RenterID = userID
	case "owner":
		f.OwnerID = userID
	default:
		return nil, apperrors.Validation("role must be renter or owner")
	}
	if status != "" && !validRentalStatus(status) {
		return nil, apperrors.Validation("Unknown status " + status)
	}

	rentals, err := s.store.ListRentals(ctx, f)
	if err != nil {
		return nil, apperrors.Internal("Failed to list rentals", err)
	}
	return rentals, nil
}

func validRentalStatus(status string) bool {
	switch status {
	case models.RentalStatusPending, models.RentalStatusAccepted, models.RentalStatusRejected,
		models.RentalStatusCancelled, models.RentalStatusPaid, models.RentalStatusReturned:
		return true
	}
	return false
}

// loadAs fetches a rental and checks the caller's role on it
func (s *RentalService) loadAs(ctx context.Context, userID, rentalID int64, owner bool) (*models.RentalRequest, error) {
	r, err := s.Get(ctx, userID, rentalID)
	if err != nil {
		return nil, err
	}
	if owner && r.OwnerID != userID {
		return nil, apperrors.Forbidden("Only the product owner can do this")
	}
	if !owner && r.RenterID != userID {
		return nil, apperrors.Forbidden("Only the renter can do this")
	}
	return r, nil
}

// Accept approves a pending request. Other pending requests for the same
// dates stay open; whoever pays first gets the product.
func (s *RentalService) Accept(ctx context.Context, ownerID, rentalID int64) (*models.RentalRequest, error) {
	ctx, span := util.StartSpan(ctx, "RentalService.Accept")
	defer span.End()

	if _, err := s.loadAs(ctx, ownerID, rentalID, true); err != nil {
		return nil, err
	}

	r, err := s.store.AcceptRental(ctx, rentalID)
	if err != nil {
		if errors.Is(err, store.ErrDateConflict) {
			util.RentalConflictsTotal.WithLabelValues("accept").Inc()
		}
		return nil, storeError(err, "rental request")
	}

	util.RentalTransitionsTotal.WithLabelValues(r.Status).Inc()
	s.logger.Info("Rental accepted", zap.Int64("rental_id", r.ID))
	s.publish(ctx, models.EventTypeRentalAccepted, r, s.productTitle(ctx, r.ProductID), "")
	return r, nil
}

// Reject declines a pending or accepted request
func (s *RentalService) Reject(ctx context.Context, ownerID, rentalID int64, reason string) (*models.RentalRequest, error) {
	return s.close(ctx, ownerID, rentalID, true, models.RentalStatusRejected, reason)
}

// Cancel withdraws the renter's pending or accepted request
func (s *RentalService) Cancel(ctx context.Context, renterID, rentalID int64, reason string) (*models.RentalRequest, error) {
	return s.close(ctx, renterID, rentalID, false, models.RentalStatusCancelled, reason)
}

func (s *RentalService) close(ctx context.Context, userID, rentalID int64, owner bool, to, reason string) (*models.RentalRequest, error) {
	ctx, span := util.StartSpan(ctx, "RentalService.close")
	defer span.End()

	current, err := s.loadAs(ctx, userID, rentalID, owner)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(current.Status, to) {
		return nil, apperrors.Conflict(fmt.Sprintf("A %s request cannot be %s", current.Status, to))
	}

	r, failed, err := s.store.CloseRental(ctx, rentalID,
		[]string{models.RentalStatusPending, models.RentalStatusAccepted}, to, strings.TrimSpace(reason))
	if err != nil {
		return nil, storeError(err, "rental request")
	}

	util.RentalTransitionsTotal.WithLabelValues(r.Status).Inc()
	s.logger.Info("Rental closed", zap.Int64("rental_id", r.ID), zap.String("status", r.Status))

	eventType := models.EventTypeRentalRejected
	if to == models.RentalStatusCancelled {
		eventType = models.EventTypeRentalCancelled
	}
	s.publish(ctx, eventType, r, s.productTitle(ctx, r.ProductID), r.RejectionReason)
	for i := range failed {
		util.PaymentsTotal.WithLabelValues(failed[i].Method, failed[i].Status).Inc()
		publishPaymentFailed(ctx, s.events, s.logger, r, &failed[i])
	}
	return r, nil
}

func (s *RentalService) productTitle(ctx context.Context, productID int64) string {
	p, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		return ""
	}
	return p.Title
}

func (s *RentalService) publish(ctx context.Context, eventType string, r *models.RentalRequest, title, reason string) {
	publishRental(ctx, s.events, s.logger, eventType, r, title, reason, "")
}

// publishRental emits a rental event. Failures are logged, not returned:
// the transition has already been committed.
func publishRental(ctx context.Context, events EventPublisher, logger *zap.Logger, eventType string, r *models.RentalRequest, title, reason, condition string) {
	if events == nil {
		return
	}
	event := &models.RentalEvent{
		BaseEvent:    broker.NewBaseEvent(eventType),
		RentalID:     r.ID,
		ProductID:    r.ProductID,
		ProductTitle: title,
		RenterID:     r.RenterID,
		OwnerID:      r.OwnerID,
		Status:       r.Status,
		StartDate:    r.StartDate,
		EndDate:      r.EndDate,
		Reason:       reason,
		Condition:    condition,
	}
	if err := events.PublishRentalEvent(ctx, event); err != nil {
		logger.Error("Failed to publish rental event",
			zap.String("event_type", eventType),
			zap.Int64("rental_id", r.ID),
			zap.Error(err))
	}
}
