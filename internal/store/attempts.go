package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rental-marketplace/internal/models"

	"github.com/jmoiron/sqlx"
)

// Checkout is the attempt and pending card payment backing a checkout.
type Checkout struct {
	Attempt *models.PaymentAttempt
	Payment *models.Payment
	Reused  bool
}

// OpenCheckout reserves the rental's dates with a payment attempt valid for ttl
// and creates the pending card payment for it. If the rental already has an
// unexpired attempt, that attempt and its payment are returned instead.
func (s *Store) OpenCheckout(ctx context.Context, rentalID int64, attemptID string, ttl time.Duration) (*Checkout, error) {
	var out Checkout
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var r models.RentalRequest
		if err := tx.GetContext(ctx, &r, "SELECT * FROM rental_requests WHERE id = $1 FOR UPDATE", rentalID); err != nil {
			return notFound(err, "rental request", rentalID)
		}
		if r.Status != models.RentalStatusAccepted {
			return fmt.Errorf("rental %d is %s: %w", rentalID, r.Status, ErrInvalidState)
		}

		if err := lockProduct(ctx, tx, r.ProductID); err != nil {
			return err
		}

		var existing models.PaymentAttempt
		err := tx.GetContext(ctx, &existing, `
			SELECT * FROM payment_attempts
			WHERE rental_request_id = $1 AND status = 'active' AND expires_at > NOW()
			ORDER BY created_at DESC LIMIT 1`, rentalID)
		switch {
		case err == nil:
			var p models.Payment
			if err := tx.GetContext(ctx, &p,
				"SELECT * FROM payments WHERE attempt_id = $1 ORDER BY id DESC LIMIT 1", existing.ID); err != nil {
				return notFound(err, "payment for attempt", existing.ID)
			}
			out = Checkout{Attempt: &existing, Payment: &p, Reused: true}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		if err := checkDates(ctx, tx, r.ProductID, r.StartDate, r.EndDate, r.ID, true); err != nil {
			return err
		}

		var attempt models.PaymentAttempt
		err = tx.GetContext(ctx, &attempt, `
			INSERT INTO payment_attempts (id, rental_request_id, product_id, renter_id, start_date, end_date, status, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, 'active', NOW() + ($7 * INTERVAL '1 second'))
			RETURNING *`,
			attemptID, r.ID, r.ProductID, r.RenterID, r.StartDate, r.EndDate, int64(ttl.Seconds()))
		if err != nil {
			return fmt.Errorf("failed to insert payment attempt: %w", err)
		}

		var p models.Payment
		err = tx.GetContext(ctx, &p, `
			INSERT INTO payments (rental_request_id, attempt_id, method, status, amount)
			VALUES ($1, $2, 'card', 'pending', $3)
			RETURNING *`, r.ID, attempt.ID, r.TotalAmount)
		if err != nil {
			return fmt.Errorf("failed to insert payment: %w", err)
		}

		out = Checkout{Attempt: &attempt, Payment: &p}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ExpireAttempts marks lapsed attempts expired and fails their pending card
// payments, returning the number of attempts and the failed payments.
func (s *Store) ExpireAttempts(ctx context.Context) (int64, []models.Payment, error) {
	var expired []string
	failed := []models.Payment{}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.SelectContext(ctx, &expired, `
			UPDATE payment_attempts SET status = 'expired'
			WHERE status = 'active' AND expires_at <= NOW()
			RETURNING id`)
		if err != nil || len(expired) == 0 {
			return err
		}

		query, args, err := sqlx.In(`
			UPDATE payments
			SET status = 'failed', failure_reason = 'checkout expired', updated_at = NOW()
			WHERE status = 'pending' AND attempt_id IN (?)
			RETURNING *`, expired)
		if err != nil {
			return err
		}
		return tx.SelectContext(ctx, &failed, tx.Rebind(query), args...)
	})
	if err != nil {
		return 0, nil, err
	}
	return int64(len(expired)), failed, nil
}

// GetAttempt retrieves a payment attempt by ID
func (s *Store) GetAttempt(ctx context.Context, id string) (*models.PaymentAttempt, error) {
	var a models.PaymentAttempt
	if err := s.db.GetContext(ctx, &a, "SELECT * FROM payment_attempts WHERE id = $1", id); err != nil {
		return nil, notFound(err, "payment attempt", id)
	}
	return &a, nil
}

// abandonCheckout cancels a rental's active attempt and fails its pending
// payments with reason, returning the failed payments.
func abandonCheckout(ctx context.Context, tx *sqlx.Tx, rentalID int64, reason string) ([]models.Payment, error) {
	if _, err := tx.ExecContext(ctx,
		"UPDATE payment_attempts SET status = 'cancelled' WHERE rental_request_id = $1 AND status = 'active'",
		rentalID); err != nil {
		return nil, fmt.Errorf("failed to cancel attempts of rental %d: %w", rentalID, err)
	}

	failed := []models.Payment{}
	if err := tx.SelectContext(ctx, &failed, `
		UPDATE payments SET status = 'failed', failure_reason = $1, updated_at = NOW()
		WHERE rental_request_id = $2 AND status = 'pending'
		RETURNING *`, reason, rentalID); err != nil {
		return nil, fmt.Errorf("failed to fail payments of rental %d: %w", rentalID, err)
	}
	return failed, nil
}
