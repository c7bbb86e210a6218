package service

import (
	"context"

	"rental-marketplace/internal/apperrors"
	"rental-marketplace/internal/models"
	"rental-marketplace/internal/store"
	"rental-marketplace/internal/util"

	"golang.org/x/sync/errgroup"
)

var openStatuses = []string{models.RentalStatusPending, models.RentalStatusAccepted}

// DashboardService aggregates per-user activity. The counts for one
// dashboard are queried concurrently.
type DashboardService struct {
	store DashboardStore
}

func NewDashboardService(store DashboardStore) *DashboardService {
	return &DashboardService{store: store}
}

// Owner summarises the user's listings and earnings
func (s *DashboardService) Owner(ctx context.Context, ownerID int64) (*models.OwnerDashboard, error) {
	ctx, span := util.StartSpan(ctx, "DashboardService.Owner")
	defer span.End()

	var d models.OwnerDashboard
	g, gctx := errgroup.WithContext(ctx)
	asOwner := store.RentalFilter{OwnerID: ownerID}

	g.Go(func() (err error) {
		d.Products, err = s.store.CountOwnerProducts(gctx, ownerID)
		return err
	})
	g.Go(func() (err error) {
		d.PendingRequests, err = s.store.CountRentals(gctx, asOwner, []string{models.RentalStatusPending})
		return err
	})
	g.Go(func() (err error) {
		d.ActiveRentals, err = s.store.CountRentals(gctx, asOwner, []string{models.RentalStatusPaid})
		return err
	})
	g.Go(func() (err error) {
		d.TotalEarnings, err = s.store.SumOwnerEarnings(gctx, ownerID)
		return err
	})

	if err := g.Wait(); err != nil {
		util.RecordError(span, err)
		return nil, apperrors.Internal("Failed to load dashboard", err)
	}
	return &d, nil
}

// Renter summarises the user's requests and spend
func (s *DashboardService) Renter(ctx context.Context, renterID int64) (*models.RenterDashboard, error) {
	ctx, span := util.StartSpan(ctx, "DashboardService.Renter")
	defer span.End()

	var d models.RenterDashboard
	g, gctx := errgroup.WithContext(ctx)
	asRenter := store.RentalFilter{RenterID: renterID}

	g.Go(func() (err error) {
		d.OpenRequests, err = s.store.CountRentals(gctx, asRenter, openStatuses)
		return err
	})
	g.Go(func() (err error) {
		d.ActiveRentals, err = s.store.CountRentals(gctx, asRenter, []string{models.RentalStatusPaid})
		return err
	})
	g.Go(func() (err error) {
		d.TotalSpent, err = s.store.SumRenterSpent(gctx, renterID)
		return err
	})
	g.Go(func() (err error) {
		d.WishlistItems, err = s.store.CountWishlist(gctx, renterID)
		return err
	})

	if err := g.Wait(); err != nil {
		util.RecordError(span, err)
		return nil, apperrors.Internal("Failed to load dashboard", err)
	}
	return &d, nil
}
