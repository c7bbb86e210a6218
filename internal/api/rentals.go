package api

import (
	"context"
	"net/http"
	"strings"

	"rental-marketplace/internal/apperrors"
	"rental-marketplace/internal/models"
	"rental-marketplace/internal/service"

	"github.com/gin-gonic/gin"
)

const idempotencyHeader = "Idempotency-Key"

type listRentalsQuery struct {
	Role   string `form:"role" binding:"omitempty,oneof=renter owner"`
	Status string `form:"status"`
}

func (h *Handler) createRental(c *gin.Context) {
	var req service.CreateRentalRequest
	if !bindJSON(c, &req) {
		return
	}

	key := strings.TrimSpace(c.GetHeader(idempotencyHeader))
	if len(key) > 128 {
		respondError(c, apperrors.Validation(idempotencyHeader+" must be at most 128 characters"))
		return
	}

	rental, replayed, err := h.svc.Rentals.Create(c.Request.Context(), currentUser(c), &req, key)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if replayed {
		c.Header("Idempotent-Replayed", "true")
		status = http.StatusOK
	}
	c.JSON(status, rental)
}

func (h *Handler) listRentals(c *gin.Context) {
	var q listRentalsQuery
	if !bindQuery(c, &q) {
		return
	}

	rentals, err := h.svc.Rentals.List(c.Request.Context(), currentUser(c), q.Role, q.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rentals": rentals})
}

func (h *Handler) getRental(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	rental, err := h.svc.Rentals.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rental)
}

func (h *Handler) acceptRental(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	rental, err := h.svc.Rentals.Accept(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rental)
}

func (h *Handler) rejectRental(c *gin.Context) {
	h.closeRental(c, h.svc.Rentals.Reject)
}

func (h *Handler) cancelRental(c *gin.Context) {
	h.closeRental(c, h.svc.Rentals.Cancel)
}

func (h *Handler) closeRental(c *gin.Context, transition func(ctx context.Context, userID, rentalID int64, reason string) (*models.RentalRequest, error)) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	// The body is optional.
	var req service.ReasonRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	rental, err := transition(c.Request.Context(), currentUser(c), id, strings.TrimSpace(req.Reason))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rental)
}

func (h *Handler) returnRental(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req service.ReturnRequest
	if !bindJSON(c, &req) {
		return
	}

	ret, rental, err := h.svc.Returns.Return(c.Request.Context(), currentUser(c), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"return": ret, "rental": rental})
}
