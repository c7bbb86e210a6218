package store

import (
	"context"
	"fmt"

	"rental-marketplace/internal/models"

	"github.com/jmoiron/sqlx"
)

func insertInvoice(ctx context.Context, tx *sqlx.Tx, inv *models.Invoice) error {
	query := `
		INSERT INTO invoices (invoice_number, rental_request_id, payment_id, renter_id, owner_id,
		                      currency, subtotal, service_fee, tax, deposit, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, issued_at`

	err := tx.QueryRowxContext(ctx, query,
		inv.InvoiceNumber, inv.RentalRequestID, inv.PaymentID, inv.RenterID, inv.OwnerID,
		inv.Currency, inv.Subtotal, inv.ServiceFee, inv.Tax, inv.Deposit, inv.Total).
		Scan(&inv.ID, &inv.IssuedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("invoice for rental %d: %w", inv.RentalRequestID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert invoice: %w", err)
	}

	for i := range inv.Items {
		item := &inv.Items[i]
		item.InvoiceID = inv.ID
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO invoice_items (invoice_id, description, quantity, unit_amount, amount)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			item.InvoiceID, item.Description, item.Quantity, item.UnitAmount, item.Amount).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("failed to insert invoice item: %w", err)
		}
	}
	return nil
}

func getInvoiceByRental(ctx context.Context, q sqlx.QueryerContext, rentalID int64) (*models.Invoice, error) {
	var inv models.Invoice
	if err := sqlx.GetContext(ctx, q, &inv, "SELECT * FROM invoices WHERE rental_request_id = $1", rentalID); err != nil {
		return nil, notFound(err, "invoice for rental", rentalID)
	}
	if err := loadInvoiceItems(ctx, q, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func loadInvoiceItems(ctx context.Context, q sqlx.QueryerContext, inv *models.Invoice) error {
	inv.Items = []models.InvoiceItem{}
	return sqlx.SelectContext(ctx, q, &inv.Items,
		"SELECT * FROM invoice_items WHERE invoice_id = $1 ORDER BY id", inv.ID)
}

// GetInvoiceByID retrieves an invoice with its line items
func (s *Store) GetInvoiceByID(ctx context.Context, id int64) (*models.Invoice, error) {
	var inv models.Invoice
	if err := s.db.GetContext(ctx, &inv, "SELECT * FROM invoices WHERE id = $1", id); err != nil {
		return nil, notFound(err, "invoice", id)
	}
	if err := loadInvoiceItems(ctx, s.db, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetInvoiceByRental retrieves the invoice issued for a rental
func (s *Store) GetInvoiceByRental(ctx context.Context, rentalID int64) (*models.Invoice, error) {
	return getInvoiceByRental(ctx, s.db, rentalID)
}

// ListInvoices lists invoices where the user is renter or owner, newest first.
// Line items are not loaded.
func (s *Store) ListInvoices(ctx context.Context, userID int64) ([]models.Invoice, error) {
	invoices := []models.Invoice{}
	err := s.db.SelectContext(ctx, &invoices, `
		SELECT * FROM invoices
		WHERE renter_id = $1 OR owner_id = $1
		ORDER BY issued_at DESC, id DESC`, userID)
	return invoices, err
}
