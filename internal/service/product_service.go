package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"rental-marketplace/internal/apperrors"
	"rental-marketplace/internal/models"
	"rental-marketplace/internal/redisclient"
	"rental-marketplace/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	productCacheTTL     = 5 * time.Minute
	maxAvailabilityDays = 366
)

// ProductService manages listings. Single products are cached in redis;
// concurrent misses for the same product share one database read.
type ProductService struct {
	products ProductStore
	cache    Cache
	group    singleflight.Group
	logger   *zap.Logger
}

// NewProductService creates a product service. cache may be nil.
func NewProductService(products ProductStore, cache Cache) *ProductService {
	return &ProductService{
		products: products,
		cache:    cache,
		logger:   util.GetLogger(),
	}
}

type CreateProductRequest struct {
	Title       string   `json:"title" binding:"required,max=200"`
	Description string   `json:"description" binding:"max=5000"`
	Category    string   `json:"category" binding:"required,max=64"`
	DailyPrice  int64    `json:"daily_price" binding:"required,gt=0"`
	Deposit     int64    `json:"deposit" binding:"gte=0"`
	Location    string   `json:"location" binding:"max=200"`
	ImageURLs   []string `json:"image_urls" binding:"max=10,dive,url"`
}

// UpdateProductRequest changes only the fields that are set
type UpdateProductRequest struct {
	Title       *string  `json:"title" binding:"omitempty,min=1,max=200"`
	Description *string  `json:"description" binding:"omitempty,max=5000"`
	Category    *string  `json:"category" binding:"omitempty,min=1,max=64"`
	DailyPrice  *int64   `json:"daily_price" binding:"omitempty,gt=0"`
	Deposit     *int64   `json:"deposit" binding:"omitempty,gte=0"`
	Location    *string  `json:"location" binding:"omitempty,max=200"`
	ImageURLs   []string `json:"image_urls" binding:"omitempty,max=10,dive,url"`
	Status      *string  `json:"status" binding:"omitempty,oneof=available unavailable"`
}

// Availability lists the taken ranges of a product in a window
type Availability struct {
	ProductID int64              `json:"product_id"`
	From      string             `json:"from"`
	To        string             `json:"to"`
	Booked    []models.DateRange `json:"booked"`
}

// Create lists a new product owned by ownerID
func (s *ProductService) Create(ctx context.Context, ownerID int64, req *CreateProductRequest) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.Create")
	defer span.End()

	images := req.ImageURLs
	if images == nil {
		images = []string{}
	}
	p := &models.Product{
		OwnerID:     ownerID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Category:    strings.ToLower(strings.TrimSpace(req.Category)),
		DailyPrice:  req.DailyPrice,
		Deposit:     req.Deposit,
		Location:    req.Location,
		ImageURLs:   images,
		Status:      models.ProductStatusAvailable,
	}
	if err := s.products.CreateProduct(ctx, p); err != nil {
		util.RecordError(span, err)
		return nil, apperrors.Internal("Failed to create product", err)
	}

	s.logger.Info("Product created", zap.Int64("product_id", p.ID), zap.Int64("owner_id", ownerID))
	return p, nil
}

// Update edits an owner's listing. A rented product stays rented when the
// owner asks for available; it becomes available again on return.
func (s *ProductService) Update(ctx context.Context, ownerID, productID int64, req *UpdateProductRequest) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.Update")
	defer span.End()

	p, err := s.products.GetProductByID(ctx, productID)
	if err != nil {
		return nil, storeError(err, "product")
	}
	if p.Status == models.ProductStatusArchived {
		return nil, apperrors.NotFound("product")
	}
	if p.OwnerID != ownerID {
		return nil, apperrors.Forbidden("Only the owner can edit this product")
	}

	if req.Title != nil {
		p.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Category != nil {
		p.Category = strings.ToLower(strings.TrimSpace(*req.Category))
	}
	if req.DailyPrice != nil {
		p.DailyPrice = *req.DailyPrice
	}
	if req.Deposit != nil {
		p.Deposit = *req.Deposit
	}
	if req.Location != nil {
		p.Location = *req.Location
	}
	if req.ImageURLs != nil {
		p.ImageURLs = req.ImageURLs
	}

	if err := s.products.UpdateProduct(ctx, p); err != nil {
		return nil, storeError(err, "product")
	}
	if req.Status != nil {
		status, err := s.products.SetProductStatus(ctx, productID, ownerID, *req.Status)
		if err != nil {
			return nil, storeError(err, "product")
		}
		p.Status = status
	}
	s.invalidate(ctx, productID)
	return p, nil
}

// Archive soft-deletes a listing
func (s *ProductService) Archive(ctx context.Context, ownerID, productID int64) error {
	ctx, span := util.StartSpan(ctx, "ProductService.Archive")
	defer span.End()

	p, err := s.products.GetProductByID(ctx, productID)
	if err != nil {
		return storeError(err, "product")
	}
	if p.OwnerID != ownerID {
		return apperrors.Forbidden("Only the owner can archive this product")
	}
	if err := s.products.ArchiveProduct(ctx, productID, ownerID); err != nil {
		return storeError(err, "product")
	}
	s.invalidate(ctx, productID)
	s.logger.Info("Product archived", zap.Int64("product_id", productID))
	return nil
}

// Get returns a non-archived product
func (s *ProductService) Get(ctx context.Context, productID int64) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.Get")
	defer span.End()

	key := productCacheKey(productID)

	if s.cache != nil {
		var cached models.Product
		found, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("Product cache read failed", zap.Int64("product_id", productID), zap.Error(err))
		}
		if found {
			util.ProductCacheTotal.WithLabelValues("hit").Inc()
			return visible(&cached)
		}
		util.ProductCacheTotal.WithLabelValues("miss").Inc()
	}

	v, err, _ := s.group.Do(strconv.FormatInt(productID, 10), func() (interface{}, error) {
		p, err := s.products.GetProductByID(ctx, productID)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.SetJSON(ctx, key, p, productCacheTTL); err != nil {
				s.logger.Warn("Product cache write failed", zap.Int64("product_id", productID), zap.Error(err))
			}
		}
		return p, nil
	})
	if err != nil {
		return nil, storeError(err, "product")
	}

	p := *v.(*models.Product)
	return visible(&p)
}

func productCacheKey(productID int64) string {
	return redisclient.ProductKey(productID)
}

func visible(p *models.Product) (*models.Product, error) {
	if p.Status == models.ProductStatusArchived {
		return nil, apperrors.NotFound("product")
	}
	return p, nil
}

func (s *ProductService) invalidate(ctx context.Context, productID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, productCacheKey(productID)); err != nil {
		s.logger.Warn("Product cache invalidation failed", zap.Int64("product_id", productID), zap.Error(err))
	}
}

// List searches non-archived products
func (s *ProductService) List(ctx context.Context, f models.ProductFilter) ([]models.Product, error) {
	if f.MinPrice > 0 && f.MaxPrice > 0 && f.MinPrice > f.MaxPrice {
		return nil, apperrors.Validation("min_price cannot exceed max_price")
	}
	f.Category = strings.ToLower(strings.TrimSpace(f.Category))
	products, err := s.products.ListProducts(ctx, f)
	if err != nil {
		return nil, apperrors.Internal("Failed to list products", err)
	}
	return products, nil
}

// ListMine lists the caller's own products
func (s *ProductService) ListMine(ctx context.Context, ownerID int64, limit, offset int) ([]models.Product, error) {
	return s.List(ctx, models.ProductFilter{OwnerID: ownerID, Limit: limit, Offset: offset})
}

// Availability returns the booked ranges of a product between from and to
func (s *ProductService) Availability(ctx context.Context, productID int64, from, to time.Time) (*Availability, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.Availability")
	defer span.End()

	if to.Before(from) {
		return nil, apperrors.Validation("to must not be before from")
	}
	if RentalDays(from, to) > maxAvailabilityDays {
		return nil, apperrors.Validation("Availability window is limited to 366 days")
	}

	if _, err := s.Get(ctx, productID); err != nil {
		return nil, err
	}

	booked, err := s.products.BookedRanges(ctx, productID, from, to)
	if err != nil {
		return nil, apperrors.Internal("Failed to load availability", err)
	}
	return &Availability{
		ProductID: productID,
		From:      from.Format(dateLayout),
		To:        to.Format(dateLayout),
		Booked:    booked,
	}, nil
}
