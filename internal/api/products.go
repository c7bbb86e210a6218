package api

import (
	"net/http"

	"rental-marketplace/internal/apperrors"
	"rental-marketplace/internal/models"
	"rental-marketplace/internal/service"

	"github.com/gin-gonic/gin"
)

type listProductsQuery struct {
	Category string `form:"category" binding:"max=64"`
	Search   string `form:"q" binding:"max=200"`
	MinPrice int64  `form:"min_price" binding:"gte=0"`
	MaxPrice int64  `form:"max_price" binding:"gte=0"`
	Limit    int    `form:"limit" binding:"gte=0,lte=100"`
	Offset   int    `form:"offset" binding:"gte=0"`
}

type dateRangeQuery struct {
	From string `form:"from" binding:"required,datetime=2006-01-02"`
	To   string `form:"to" binding:"required,datetime=2006-01-02"`
}

type quoteQuery struct {
	StartDate string `form:"start_date" binding:"required"`
	EndDate   string `form:"end_date" binding:"required"`
}

func (h *Handler) listProducts(c *gin.Context) {
	var q listProductsQuery
	if !bindQuery(c, &q) {
		return
	}

	products, err := h.svc.Products.List(c.Request.Context(), models.ProductFilter{
		Category: q.Category,
		Search:   q.Search,
		MinPrice: q.MinPrice,
		MaxPrice: q.MaxPrice,
		Limit:    q.Limit,
		Offset:   q.Offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) listMyProducts(c *gin.Context) {
	var q listProductsQuery
	if !bindQuery(c, &q) {
		return
	}

	products, err := h.svc.Products.ListMine(c.Request.Context(), currentUser(c), q.Limit, q.Offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	product, err := h.svc.Products.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) createProduct(c *gin.Context) {
	var req service.CreateProductRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.svc.Products.Create(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *Handler) updateProduct(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req service.UpdateProductRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.svc.Products.Update(c.Request.Context(), currentUser(c), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) archiveProduct(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.svc.Products.Archive(c.Request.Context(), currentUser(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) productAvailability(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var q dateRangeQuery
	if !bindQuery(c, &q) {
		return
	}

	from, err := service.ParseDate(q.From)
	if err != nil {
		respondError(c, apperrors.Validation("from must be YYYY-MM-DD"))
		return
	}
	to, err := service.ParseDate(q.To)
	if err != nil {
		respondError(c, apperrors.Validation("to must be YYYY-MM-DD"))
		return
	}

	availability, err := h.svc.Products.Availability(c.Request.Context(), id, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, availability)
}

func (h *Handler) quoteRental(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var q quoteQuery
	if !bindQuery(c, &q) {
		return
	}

	quote, err := h.svc.Rentals.Quote(c.Request.Context(), id, q.StartDate, q.EndDate)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (h *Handler) listWishlist(c *gin.Context) {
	items, err := h.svc.Wishlist.List(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) addWishlist(c *gin.Context) {
	id, ok := paramID(c, "product_id")
	if !ok {
		return
	}

	if err := h.svc.Wishlist.Add(c.Request.Context(), currentUser(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) removeWishlist(c *gin.Context) {
	id, ok := paramID(c, "product_id")
	if !ok {
		return
	}

	if err := h.svc.Wishlist.Remove(c.Request.Context(), currentUser(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
