package store

import (
	"context"

	"rental-marketplace/internal/models"
)

// AddWishlistItem saves a product for a user. Adding twice is a no-op.
func (s *Store) AddWishlistItem(ctx context.Context, userID, productID int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO wishlist_items (user_id, product_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		userID, productID)
	return err
}

// RemoveWishlistItem removes a saved product
func (s *Store) RemoveWishlistItem(ctx context.Context, userID, productID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM wishlist_items WHERE user_id = $1 AND product_id = $2",
		userID, productID)
	return err
}

// ListWishlist lists a user's saved products, newest first
func (s *Store) ListWishlist(ctx context.Context, userID int64) ([]models.WishlistItem, error) {
	query := `
		SELECT w.user_id, w.product_id, w.created_at,
		       p.id AS "product.id", p.owner_id AS "product.owner_id", p.title AS "product.title",
		       p.description AS "product.description", p.category AS "product.category",
		       p.daily_price AS "product.daily_price", p.deposit AS "product.deposit",
		       p.location AS "product.location", p.image_urls AS "product.image_urls",
		       p.status AS "product.status", p.created_at AS "product.created_at",
		       p.updated_at AS "product.updated_at"
		FROM wishlist_items w
		JOIN products p ON p.id = w.product_id
		WHERE w.user_id = $1
		ORDER BY w.created_at DESC`

	items := []models.WishlistItem{}
	err := s.db.SelectContext(ctx, &items, query, userID)
	return items, err
}
