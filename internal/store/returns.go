package store

import (
	"context"
	"fmt"

	"rental-marketplace/internal/models"

	"github.com/jmoiron/sqlx"
)

// RecordReturn closes a paid rental. The product goes back to available
// unless another paid rental of it is still out.
func (s *Store) RecordReturn(ctx context.Context, ret *models.ProductReturn) (*models.RentalRequest, error) {
	var r models.RentalRequest
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &r, "SELECT * FROM rental_requests WHERE id = $1 FOR UPDATE", ret.RentalRequestID); err != nil {
			return notFound(err, "rental request", ret.RentalRequestID)
		}
		if r.Status != models.RentalStatusPaid {
			return fmt.Errorf("rental %d is %s: %w", r.ID, r.Status, ErrInvalidState)
		}
		ret.ProductID = r.ProductID

		err := tx.QueryRowxContext(ctx, `
			INSERT INTO product_returns (rental_request_id, product_id, returned_by, condition, notes)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, returned_at`,
			ret.RentalRequestID, ret.ProductID, ret.ReturnedBy, ret.Condition, ret.Notes).
			Scan(&ret.ID, &ret.ReturnedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("return for rental %d: %w", r.ID, ErrDuplicate)
			}
			return fmt.Errorf("failed to insert return: %w", err)
		}

		if err := tx.GetContext(ctx, &r, `
			UPDATE rental_requests SET status = 'returned', returned_at = $2, updated_at = NOW()
			WHERE id = $1
			RETURNING *`, r.ID, ret.ReturnedAt); err != nil {
			return fmt.Errorf("failed to mark rental returned: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE products SET status = 'available', updated_at = NOW()
			WHERE id = $1 AND status = 'rented'
			  AND NOT EXISTS (
				SELECT 1 FROM rental_requests
				WHERE product_id = $1 AND status = 'paid' AND id <> $2)`,
			r.ProductID, r.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReturnByRental retrieves the return recorded for a rental
func (s *Store) GetReturnByRental(ctx context.Context, rentalID int64) (*models.ProductReturn, error) {
	var ret models.ProductReturn
	if err := s.db.GetContext(ctx, &ret, "SELECT * FROM product_returns WHERE rental_request_id = $1", rentalID); err != nil {
		return nil, notFound(err, "return for rental", rentalID)
	}
	return &ret, nil
}
