package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rental-marketplace/internal/models"
)

// CreateProduct creates a new product listing
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (owner_id, title, description, category, daily_price, deposit, location, image_urls, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		p.OwnerID, p.Title, p.Description, p.Category, p.DailyPrice, p.Deposit, p.Location, p.ImageURLs, p.Status).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// UpdateProduct updates an owner's listing. Archived products cannot be edited.
func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	query := `
		UPDATE products
		SET title = $1, description = $2, category = $3, daily_price = $4, deposit = $5,
		    location = $6, image_urls = $7, updated_at = NOW()
		WHERE id = $8 AND owner_id = $9 AND status <> 'archived'
		RETURNING status, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		p.Title, p.Description, p.Category, p.DailyPrice, p.Deposit,
		p.Location, p.ImageURLs, p.ID, p.OwnerID)
	return notFound(row.Scan(&p.Status, &p.UpdatedAt), "product", p.ID)
}

// SetProductStatus applies an owner's status change and returns the status
// the listing ends up with. A rented listing cannot be made available this way.
func (s *Store) SetProductStatus(ctx context.Context, productID, ownerID int64, status string) (string, error) {
	query := `
		UPDATE products
		SET status = CASE WHEN status = 'rented' AND $1::text = 'available' THEN status ELSE $1::text END,
		    updated_at = NOW()
		WHERE id = $2 AND owner_id = $3 AND status <> 'archived'
		RETURNING status`

	var cur string
	err := s.db.GetContext(ctx, &cur, query, status, productID, ownerID)
	return cur, notFound(err, "product", productID)
}

// ArchiveProduct soft-deletes a listing
func (s *Store) ArchiveProduct(ctx context.Context, productID, ownerID int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET status = 'archived', updated_at = NOW() WHERE id = $1 AND owner_id = $2",
		productID, ownerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	return nil
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	if err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id); err != nil {
		return nil, notFound(err, "product", id)
	}
	return &product, nil
}

// ListProducts lists non-archived products matching the filter, newest first
func (s *Store) ListProducts(ctx context.Context, f models.ProductFilter) ([]models.Product, error) {
	conds := []string{"status <> 'archived'"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Category != "" {
		conds = append(conds, "category = "+arg(f.Category))
	}
	if f.Search != "" {
		p := arg("%" + escapeLike(f.Search) + "%")
		conds = append(conds, fmt.Sprintf(`(title ILIKE %s ESCAPE '\' OR description ILIKE %s ESCAPE '\')`, p, p))
	}
	if f.MinPrice > 0 {
		conds = append(conds, "daily_price >= "+arg(f.MinPrice))
	}
	if f.MaxPrice > 0 {
		conds = append(conds, "daily_price <= "+arg(f.MaxPrice))
	}
	if f.OwnerID > 0 {
		conds = append(conds, "owner_id = "+arg(f.OwnerID))
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := fmt.Sprintf("SELECT * FROM products WHERE %s ORDER BY created_at DESC, id DESC LIMIT %s OFFSET %s",
		strings.Join(conds, " AND "), arg(limit), arg(f.Offset))

	products := []models.Product{}
	err := s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// BookedRanges returns the ranges of a product that are taken between from and to:
// paid rentals and unexpired payment attempts.
func (s *Store) BookedRanges(ctx context.Context, productID int64, from, to time.Time) ([]models.DateRange, error) {
	query := `
		SELECT start_date, end_date, 'rental' AS source
		FROM rental_requests
		WHERE product_id = $1 AND status = 'paid'
		  AND start_date <= $3 AND end_date >= $2
		UNION ALL
		SELECT start_date, end_date, 'checkout' AS source
		FROM payment_attempts
		WHERE product_id = $1 AND status = 'active' AND expires_at > NOW()
		  AND start_date <= $3 AND end_date >= $2
		ORDER BY start_date`

	ranges := []models.DateRange{}
	err := s.db.SelectContext(ctx, &ranges, query, productID, from, to)
	return ranges, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// escapeLike makes s match literally inside an ILIKE pattern
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
