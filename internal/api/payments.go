package api

import (
	"errors"
	"io"
	"net/http"

	"rental-marketplace/internal/apperrors"
	"rental-marketplace/internal/gateway"
	"rental-marketplace/internal/service"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

func (h *Handler) checkout(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req service.CheckoutRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.svc.Payments.Checkout(c.Request.Context(), currentUser(c), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if resp.Invoice == nil {
		status = http.StatusAccepted
	}
	c.JSON(status, resp)
}

func (h *Handler) confirmPayment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	resp, err := h.svc.Payments.ConfirmOffline(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) listRentalPayments(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	payments, err := h.svc.Payments.ListForRental(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

// paymentWebhook verifies the signature over the raw body, so the body is
// read as bytes rather than bound.
func (h *Handler) paymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, apperrors.BadRequest("Webhook body too large"))
			return
		}
		respondError(c, apperrors.BadRequest("Failed to read webhook body"))
		return
	}

	result, err := h.svc.Payments.HandleWebhook(c.Request.Context(), body, c.GetHeader(gateway.SignatureHeader))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) listInvoices(c *gin.Context) {
	invoices, err := h.svc.Invoices.List(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

func (h *Handler) getInvoice(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	invoice, err := h.svc.Invoices.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}
