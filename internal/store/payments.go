package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rental-marketplace/internal/models"

	"github.com/jmoiron/sqlx"
)

// InvoiceBuilder prices the invoice for a rental being paid.
type InvoiceBuilder func(r *models.RentalRequest, p *models.Product, payment *models.Payment) *models.Invoice

// CompletedPayment is the outcome of CompletePayment.
type CompletedPayment struct {
	Payment          *models.Payment
	Rental           *models.RentalRequest
	Product          *models.Product
	Invoice          *models.Invoice
	AutoRejected     []models.RentalRequest
	// FailedPayments are the pending payments of the auto-rejected requests.
	FailedPayments   []models.Payment
	AlreadyCompleted bool
}

const rejectedReason = "dates no longer available"

// CreateOfflinePayment records a pending cash or bank transfer payment for an
// accepted rental.
func (s *Store) CreateOfflinePayment(ctx context.Context, rentalID int64, method string) (*models.Payment, error) {
	var p models.Payment
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var r models.RentalRequest
		if err := tx.GetContext(ctx, &r, "SELECT * FROM rental_requests WHERE id = $1 FOR UPDATE", rentalID); err != nil {
			return notFound(err, "rental request", rentalID)
		}
		if r.Status != models.RentalStatusAccepted {
			return fmt.Errorf("rental %d is %s: %w", rentalID, r.Status, ErrInvalidState)
		}

		var pending bool
		if err := tx.GetContext(ctx, &pending,
			"SELECT EXISTS(SELECT 1 FROM payments WHERE rental_request_id = $1 AND status = 'pending' AND attempt_id IS NULL)",
			rentalID); err != nil {
			return err
		}
		if pending {
			return fmt.Errorf("offline payment for rental %d: %w", rentalID, ErrDuplicate)
		}

		return tx.GetContext(ctx, &p, `
			INSERT INTO payments (rental_request_id, method, status, amount)
			VALUES ($1, $2, 'pending', $3)
			RETURNING *`, rentalID, method, r.TotalAmount)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPaymentByID retrieves a payment by ID
func (s *Store) GetPaymentByID(ctx context.Context, id int64) (*models.Payment, error) {
	var p models.Payment
	if err := s.db.GetContext(ctx, &p, "SELECT * FROM payments WHERE id = $1", id); err != nil {
		return nil, notFound(err, "payment", id)
	}
	return &p, nil
}

// GetPaymentByProviderRef retrieves a payment by card processor reference
func (s *Store) GetPaymentByProviderRef(ctx context.Context, ref string) (*models.Payment, error) {
	var p models.Payment
	if err := s.db.GetContext(ctx, &p, "SELECT * FROM payments WHERE provider_ref = $1", ref); err != nil {
		return nil, notFound(err, "payment", ref)
	}
	return &p, nil
}

// GetPaymentByAttempt retrieves the card payment opened by a payment attempt
func (s *Store) GetPaymentByAttempt(ctx context.Context, attemptID string) (*models.Payment, error) {
	var p models.Payment
	if err := s.db.GetContext(ctx, &p,
		"SELECT * FROM payments WHERE attempt_id = $1 ORDER BY id DESC LIMIT 1", attemptID); err != nil {
		return nil, notFound(err, "payment for attempt", attemptID)
	}
	return &p, nil
}

// ListPaymentsForRental lists payments for a rental, newest first
func (s *Store) ListPaymentsForRental(ctx context.Context, rentalID int64) ([]models.Payment, error) {
	payments := []models.Payment{}
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM payments WHERE rental_request_id = $1 ORDER BY created_at DESC", rentalID)
	return payments, err
}

// SetPaymentProvider stores the processor reference and checkout URL
func (s *Store) SetPaymentProvider(ctx context.Context, paymentID int64, ref, checkoutURL string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE payments SET provider_ref = $1, checkout_url = $2, updated_at = NOW() WHERE id = $3",
		ref, checkoutURL, paymentID)
	return err
}

// FailPayment marks a pending payment failed and cancels its attempt
func (s *Store) FailPayment(ctx context.Context, paymentID int64, reason string) (*models.Payment, error) {
	var p models.Payment
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &p, `
			UPDATE payments SET status = 'failed', failure_reason = $1, updated_at = NOW()
			WHERE id = $2 AND status = 'pending'
			RETURNING *`, reason, paymentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("payment %d is not pending: %w", paymentID, ErrInvalidState)
			}
			return err
		}
		if p.AttemptID == nil {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE payment_attempts SET status = 'cancelled' WHERE id = $1 AND status = 'active'", *p.AttemptID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CompletePayment settles a pending payment in one transaction: the rental
// becomes paid, its attempt completed, the product rented, overlapping open
// requests of other renters rejected with their pending payments failed, and
// the invoice issued. An offline payment returns ErrCheckoutHeld while another
// request's active checkout overlaps. Completing an
// already succeeded payment returns its existing invoice.
func (s *Store) CompletePayment(ctx context.Context, paymentID int64, providerRef string, build InvoiceBuilder) (*CompletedPayment, error) {
	out := &CompletedPayment{}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var p models.Payment
		if err := tx.GetContext(ctx, &p, "SELECT * FROM payments WHERE id = $1 FOR UPDATE", paymentID); err != nil {
			return notFound(err, "payment", paymentID)
		}
		out.Payment = &p

		var r models.RentalRequest
		if err := tx.GetContext(ctx, &r, "SELECT * FROM rental_requests WHERE id = $1 FOR UPDATE", p.RentalRequestID); err != nil {
			return notFound(err, "rental request", p.RentalRequestID)
		}
		out.Rental = &r

		switch p.Status {
		case models.PaymentStatusSucceeded:
			inv, err := getInvoiceByRental(ctx, tx, r.ID)
			if err != nil {
				return err
			}
			out.Invoice = inv
			out.AlreadyCompleted = true
			return nil
		case models.PaymentStatusFailed:
			return fmt.Errorf("payment %d already failed: %w", paymentID, ErrInvalidState)
		}

		if r.Status != models.RentalStatusAccepted {
			return fmt.Errorf("rental %d is %s: %w", r.ID, r.Status, ErrInvalidState)
		}

		var product models.Product
		if err := tx.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1 FOR UPDATE", r.ProductID); err != nil {
			return notFound(err, "product", r.ProductID)
		}
		out.Product = &product

		// an offline confirmation waits for another renter's checkout; a
		// captured card charge does not
		if err := checkDates(ctx, tx, r.ProductID, r.StartDate, r.EndDate, r.ID, p.AttemptID == nil); err != nil {
			return err
		}

		if err := tx.GetContext(ctx, &p, `
			UPDATE payments
			SET status = 'succeeded', provider_ref = COALESCE(NULLIF($1, ''), provider_ref),
			    paid_at = NOW(), updated_at = NOW()
			WHERE id = $2
			RETURNING *`, providerRef, p.ID); err != nil {
			return fmt.Errorf("failed to mark payment succeeded: %w", err)
		}

		if err := tx.GetContext(ctx, &r, `
			UPDATE rental_requests SET status = 'paid', paid_at = NOW(), updated_at = NOW()
			WHERE id = $1
			RETURNING *`, r.ID); err != nil {
			return fmt.Errorf("failed to mark rental paid: %w", err)
		}

		if p.AttemptID != nil {
			if _, err := tx.ExecContext(ctx,
				"UPDATE payment_attempts SET status = 'completed' WHERE id = $1", *p.AttemptID); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE products SET status = 'rented', updated_at = NOW() WHERE id = $1 AND status = 'available'",
			r.ProductID); err != nil {
			return err
		}

		rejected := []models.RentalRequest{}
		if err := tx.SelectContext(ctx, &rejected, `
			UPDATE rental_requests
			SET status = 'rejected', rejection_reason = $5, updated_at = NOW()
			WHERE product_id = $1 AND id <> $2 AND status IN ('pending', 'accepted')
			  AND start_date <= $4 AND end_date >= $3
			RETURNING *`, r.ProductID, r.ID, r.StartDate, r.EndDate, rejectedReason); err != nil {
			return fmt.Errorf("failed to reject overlapping requests: %w", err)
		}
		out.AutoRejected = rejected

		for _, other := range rejected {
			failed, err := abandonCheckout(ctx, tx, other.ID, rejectedReason)
			if err != nil {
				return err
			}
			out.FailedPayments = append(out.FailedPayments, failed...)
		}

		inv := build(&r, &product, &p)
		if err := insertInvoice(ctx, tx, inv); err != nil {
			return err
		}
		out.Invoice = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
