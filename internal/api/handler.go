package api

import (
	"context"
	"net/http"
	"time"

	"rental-marketplace/internal/auth"
	"rental-marketplace/internal/realtime"
	"rental-marketplace/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is a dependency checked by /ready
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles the service layer the handlers call
type Services struct {
	Auth          *service.AuthService
	Products      *service.ProductService
	Wishlist      *service.WishlistService
	Rentals       *service.RentalService
	Payments      *service.PaymentService
	Invoices      *service.InvoiceService
	Returns       *service.ReturnService
	Notifications *service.NotificationService
	Dashboard     *service.DashboardService
}

// Handler contains HTTP handlers
type Handler struct {
	svc    Services
	tokens *auth.Tokens
	hub    *realtime.Hub
	checks map[string]Pinger

	heartbeat time.Duration
}

// NewHandler creates a new HTTP handler. checks are pinged by /ready.
func NewHandler(svc Services, tokens *auth.Tokens, hub *realtime.Hub, checks map[string]Pinger) *Handler {
	return &Handler{
		svc:       svc,
		tokens:    tokens,
		hub:       hub,
		checks:    checks,
		heartbeat: 25 * time.Second,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/register", h.register)
		v1.POST("/auth/login", h.login)

		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.GET("/products/:id/availability", h.productAvailability)
		v1.GET("/products/:id/quote", h.quoteRental)

		v1.POST("/payments/webhook", h.paymentWebhook)
	}

	authed := v1.Group("", h.authRequired())
	{
		authed.GET("/me", h.getProfile)
		authed.PUT("/me", h.updateProfile)
		authed.GET("/me/products", h.listMyProducts)

		authed.POST("/products", h.createProduct)
		authed.PUT("/products/:id", h.updateProduct)
		authed.DELETE("/products/:id", h.archiveProduct)

		authed.GET("/wishlist", h.listWishlist)
		authed.POST("/wishlist/:product_id", h.addWishlist)
		authed.DELETE("/wishlist/:product_id", h.removeWishlist)

		authed.POST("/rentals", h.createRental)
		authed.GET("/rentals", h.listRentals)
		authed.GET("/rentals/:id", h.getRental)
		authed.POST("/rentals/:id/accept", h.acceptRental)
		authed.POST("/rentals/:id/reject", h.rejectRental)
		authed.POST("/rentals/:id/cancel", h.cancelRental)
		authed.POST("/rentals/:id/checkout", h.checkout)
		authed.POST("/rentals/:id/return", h.returnRental)
		authed.GET("/rentals/:id/payments", h.listRentalPayments)

		authed.POST("/payments/:id/confirm", h.confirmPayment)

		authed.GET("/invoices", h.listInvoices)
		authed.GET("/invoices/:id", h.getInvoice)

		authed.GET("/notifications", h.listNotifications)
		authed.GET("/notifications/unread-count", h.unreadCount)
		authed.POST("/notifications/:id/read", h.markNotificationRead)
		authed.POST("/notifications/read-all", h.markAllNotificationsRead)
		authed.GET("/notifications/stream", h.streamNotifications)

		authed.GET("/dashboard/owner", h.ownerDashboard)
		authed.GET("/dashboard/renter", h.renterDashboard)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}
