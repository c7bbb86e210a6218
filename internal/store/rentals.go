package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rental-marketplace/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// RentalFilter selects rental requests by party and status
type RentalFilter struct {
	RenterID int64
	OwnerID  int64
	Status   string
}

const paidOverlapQuery = `
	SELECT EXISTS(
		SELECT 1 FROM rental_requests
		WHERE product_id = $1 AND status = 'paid' AND id <> $4
		  AND start_date <= $3 AND end_date >= $2)`

const attemptOverlapQuery = `
	SELECT EXISTS(
		SELECT 1 FROM payment_attempts
		WHERE product_id = $1 AND status = 'active' AND expires_at > NOW()
		  AND rental_request_id <> $4
		  AND start_date <= $3 AND end_date >= $2)`

// lockProduct takes a row lock on the product so that concurrent date checks
// for the same product are serialized.
func lockProduct(ctx context.Context, tx *sqlx.Tx, productID int64) error {
	var id int64
	err := tx.GetContext(ctx, &id, "SELECT id FROM products WHERE id = $1 FOR UPDATE", productID)
	return notFound(err, "product", productID)
}

// checkDates returns ErrDateConflict if the range overlaps a paid rental, or,
// when includeAttempts is set, an active payment attempt of another request.
func checkDates(ctx context.Context, tx *sqlx.Tx, productID int64, start, end time.Time, excludeRentalID int64, includeAttempts bool) error {
	var taken bool
	if err := tx.GetContext(ctx, &taken, paidOverlapQuery, productID, start, end, excludeRentalID); err != nil {
		return fmt.Errorf("failed to check paid overlap: %w", err)
	}
	if taken {
		return fmt.Errorf("product %d is already rented for these dates: %w", productID, ErrDateConflict)
	}

	if !includeAttempts {
		return nil
	}

	if err := tx.GetContext(ctx, &taken, attemptOverlapQuery, productID, start, end, excludeRentalID); err != nil {
		return fmt.Errorf("failed to check checkout overlap: %w", err)
	}
	if taken {
		return fmt.Errorf("product %d is being checked out for these dates: %w", productID, ErrCheckoutHeld)
	}
	return nil
}

// CreateRentalRequest inserts a pending request after verifying the dates are
// free and the renter has no open overlapping request for the same product.
func (s *Store) CreateRentalRequest(ctx context.Context, r *models.RentalRequest) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockProduct(ctx, tx, r.ProductID); err != nil {
			return err
		}

		if err := checkDates(ctx, tx, r.ProductID, r.StartDate, r.EndDate, 0, true); err != nil {
			return err
		}

		var own bool
		err := tx.GetContext(ctx, &own, `
			SELECT EXISTS(
				SELECT 1 FROM rental_requests
				WHERE product_id = $1 AND renter_id = $2 AND status IN ('pending', 'accepted')
				  AND start_date <= $4 AND end_date >= $3)`,
			r.ProductID, r.RenterID, r.StartDate, r.EndDate)
		if err != nil {
			return err
		}
		if own {
			return fmt.Errorf("open request for product %d: %w", r.ProductID, ErrDuplicate)
		}

		query := `
			INSERT INTO rental_requests (product_id, renter_id, owner_id, start_date, end_date, days,
			                             daily_price, deposit, message, status, total_amount,
			                             service_fee_bps, tax_bps)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING *`

		return tx.GetContext(ctx, r, query,
			r.ProductID, r.RenterID, r.OwnerID, r.StartDate, r.EndDate, r.Days,
			r.DailyPrice, r.Deposit, r.Message, r.Status, r.TotalAmount,
			r.ServiceFeeBps, r.TaxBps)
	})
}

// GetRentalByID retrieves a rental request by ID
func (s *Store) GetRentalByID(ctx context.Context, id int64) (*models.RentalRequest, error) {
	var r models.RentalRequest
	if err := s.db.GetContext(ctx, &r, "SELECT * FROM rental_requests WHERE id = $1", id); err != nil {
		return nil, notFound(err, "rental request", id)
	}
	return &r, nil
}

// ListRentals lists rental requests for a renter or owner, newest first
func (s *Store) ListRentals(ctx context.Context, f RentalFilter) ([]models.RentalRequest, error) {
	query := `
		SELECT * FROM rental_requests
		WHERE ($1::bigint = 0 OR renter_id = $1)
		  AND ($2::bigint = 0 OR owner_id = $2)
		  AND ($3::text = '' OR status = $3)
		ORDER BY created_at DESC, id DESC`

	rentals := []models.RentalRequest{}
	err := s.db.SelectContext(ctx, &rentals, query, f.RenterID, f.OwnerID, f.Status)
	return rentals, err
}

// AcceptRental moves a pending request to accepted unless a paid rental
// already holds overlapping dates.
func (s *Store) AcceptRental(ctx context.Context, id int64) (*models.RentalRequest, error) {
	var r models.RentalRequest
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &r, "SELECT * FROM rental_requests WHERE id = $1 FOR UPDATE", id); err != nil {
			return notFound(err, "rental request", id)
		}
		if r.Status != models.RentalStatusPending {
			return fmt.Errorf("rental %d is %s: %w", id, r.Status, ErrInvalidState)
		}

		if err := lockProduct(ctx, tx, r.ProductID); err != nil {
			return err
		}
		if err := checkDates(ctx, tx, r.ProductID, r.StartDate, r.EndDate, r.ID, false); err != nil {
			return err
		}

		return tx.GetContext(ctx, &r, `
			UPDATE rental_requests
			SET status = 'accepted', accepted_at = NOW(), updated_at = NOW()
			WHERE id = $1
			RETURNING *`, id)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CloseRental moves a request to rejected or cancelled from one of the given
// statuses. Its open checkout is cancelled and any pending payment failed; the
// failed payments are returned.
func (s *Store) CloseRental(ctx context.Context, id int64, from []string, to, reason string) (*models.RentalRequest, []models.Payment, error) {
	var (
		r      models.RentalRequest
		failed []models.Payment
	)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &r, `
			UPDATE rental_requests
			SET status = $1::text,
			    rejection_reason = $2,
			    cancelled_at = CASE WHEN $1 = 'cancelled' THEN NOW() ELSE cancelled_at END,
			    updated_at = NOW()
			WHERE id = $3 AND status = ANY($4)
			RETURNING *`, to, reason, id, pq.Array(from))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("rental %d cannot move to %s: %w", id, to, ErrInvalidState)
			}
			return err
		}

		failed, err = abandonCheckout(ctx, tx, id, "rental request "+to)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &r, failed, nil
}
