package service

import (
	"context"

	"rental-marketplace/internal/apperrors"
	"rental-marketplace/internal/models"
)

// WishlistService manages saved products
type WishlistService struct {
	store WishlistStore
}

func NewWishlistService(store WishlistStore) *WishlistService {
	return &WishlistService{store: store}
}

// Add saves a product. Saving it again is a no-op.
func (s *WishlistService) Add(ctx context.Context, userID, productID int64) error {
	p, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		return storeError(err, "product")
	}
	if p.Status == models.ProductStatusArchived {
		return apperrors.NotFound("product")
	}
	if err := s.store.AddWishlistItem(ctx, userID, productID); err != nil {
		return apperrors.Internal("Failed to save product", err)
	}
	return nil
}

func (s *WishlistService) Remove(ctx context.Context, userID, productID int64) error {
	if err := s.store.RemoveWishlistItem(ctx, userID, productID); err != nil {
		return apperrors.Internal("Failed to remove product", err)
	}
	return nil
}

func (s *WishlistService) List(ctx context.Context, userID int64) ([]models.WishlistItem, error) {
	items, err := s.store.ListWishlist(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal("Failed to load wishlist", err)
	}
	return items, nil
}
