package service

import (
	"context"

	"rental-marketplace/internal/apperrors"
	"rental-marketplace/internal/models"
)

// InvoiceService reads invoices for their renter and owner
type InvoiceService struct {
	store InvoiceStore
}

func NewInvoiceService(store InvoiceStore) *InvoiceService {
	return &InvoiceService{store: store}
}

// Get returns an invoice with its line items
func (s *InvoiceService) Get(ctx context.Context, userID, invoiceID int64) (*models.Invoice, error) {
	inv, err := s.store.GetInvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, storeError(err, "invoice")
	}
	if inv.RenterID != userID && inv.OwnerID != userID {
		return nil, apperrors.NotFound("invoice")
	}
	return inv, nil
}

// List returns the user's invoices as renter or owner
func (s *InvoiceService) List(ctx context.Context, userID int64) ([]models.Invoice, error) {
	invoices, err := s.store.ListInvoices(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal("Failed to list invoices", err)
	}
	return invoices, nil
}
