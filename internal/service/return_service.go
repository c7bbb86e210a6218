package service

import (
	"context"
	"errors"
	"strings"

	"rental-marketplace/internal/apperrors"
	"rental-marketplace/internal/models"
	"rental-marketplace/internal/store"
	"rental-marketplace/internal/util"

	"go.uber.org/zap"
)

// ReturnService records the end of a paid rental
type ReturnService struct {
	store  ReturnStore
	cache  Cache
	events EventPublisher
	logger *zap.Logger
}

// NewReturnService creates a return service. cache may be nil.
func NewReturnService(store ReturnStore, cache Cache, events EventPublisher) *ReturnService {
	return &ReturnService{
		store:  store,
		cache:  cache,
		events: events,
		logger: util.GetLogger(),
	}
}

type ReturnRequest struct {
	Condition string `json:"condition" binding:"required,rental_condition"`
	Notes     string `json:"notes" binding:"max=2000"`
}

// Return marks a paid rental returned. Either party may record it, once.
func (s *ReturnService) Return(ctx context.Context, userID, rentalID int64, req *ReturnRequest) (*models.ProductReturn, *models.RentalRequest, error) {
	ctx, span := util.StartSpan(ctx, "ReturnService.Return")
	defer span.End()

	r, err := s.store.GetRentalByID(ctx, rentalID)
	if err != nil {
		return nil, nil, storeError(err, "rental request")
	}
	if !r.IsRenterOrOwner(userID) {
		return nil, nil, apperrors.NotFound("rental request")
	}
	if r.Status == models.RentalStatusReturned {
		return nil, nil, apperrors.Conflict("The rental has already been returned")
	}
	if !models.CanTransition(r.Status, models.RentalStatusReturned) {
		return nil, nil, apperrors.Conflict("Only paid rentals can be returned")
	}

	ret := &models.ProductReturn{
		RentalRequestID: rentalID,
		ReturnedBy:      userID,
		Condition:       req.Condition,
		Notes:           strings.TrimSpace(req.Notes),
	}
	updated, err := s.store.RecordReturn(ctx, ret)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, nil, apperrors.Conflict("The rental has already been returned")
		}
		return nil, nil, storeError(err, "rental request")
	}

	util.ProductReturnsTotal.WithLabelValues(ret.Condition).Inc()
	util.RentalTransitionsTotal.WithLabelValues(updated.Status).Inc()
	s.logger.Info("Rental returned",
		zap.Int64("rental_id", rentalID),
		zap.Int64("returned_by", userID),
		zap.String("condition", ret.Condition))

	if s.cache != nil {
		if err := s.cache.Delete(ctx, productCacheKey(updated.ProductID)); err != nil {
			s.logger.Warn("Product cache invalidation failed", zap.Int64("product_id", updated.ProductID), zap.Error(err))
		}
	}

	title := ""
	if p, err := s.store.GetProductByID(ctx, updated.ProductID); err == nil {
		title = p.Title
	}
	publishRental(ctx, s.events, s.logger, models.EventTypeRentalReturned, updated, title, ret.Notes, ret.Condition)
	return ret, updated, nil
}
