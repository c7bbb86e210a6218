package store

import (
	"context"

	"github.com/lib/pq"
)

// CountOwnerProducts counts an owner's non-archived listings
func (s *Store) CountOwnerProducts(ctx context.Context, ownerID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM products WHERE owner_id = $1 AND status <> 'archived'", ownerID)
	return n, err
}

// CountRentals counts rentals for a renter or owner in any of the statuses
func (s *Store) CountRentals(ctx context.Context, f RentalFilter, statuses []string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM rental_requests
		WHERE ($1::bigint = 0 OR renter_id = $1)
		  AND ($2::bigint = 0 OR owner_id = $2)
		  AND status = ANY($3)`, f.RenterID, f.OwnerID, pq.Array(statuses))
	return n, err
}

// SumOwnerEarnings totals rental income from issued invoices, excluding
// deposits and the service fee.
func (s *Store) SumOwnerEarnings(ctx context.Context, ownerID int64) (int64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total,
		"SELECT COALESCE(SUM(subtotal), 0) FROM invoices WHERE owner_id = $1", ownerID)
	return total, err
}

// SumRenterSpent totals what a renter has been invoiced
func (s *Store) SumRenterSpent(ctx context.Context, renterID int64) (int64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total,
		"SELECT COALESCE(SUM(total), 0) FROM invoices WHERE renter_id = $1", renterID)
	return total, err
}

// CountWishlist counts a user's saved products
func (s *Store) CountWishlist(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM wishlist_items WHERE user_id = $1", userID)
	return n, err
}
