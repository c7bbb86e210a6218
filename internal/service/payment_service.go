package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rental-marketplace/internal/apperrors"
	"rental-marketplace/internal/broker"
	"rental-marketplace/internal/gateway"
	"rental-marketplace/internal/models"
	"rental-marketplace/internal/store"
	"rental-marketplace/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentConfig holds checkout timing and webhook settings
type PaymentConfig struct {
	AttemptTTL    time.Duration
	CheckoutLock  time.Duration
	WebhookSecret string
}

// PaymentService runs checkout, payment completion and attempt expiry
type PaymentService struct {
	store   PaymentStore
	gateway gateway.Gateway
	locker  Locker
	events  EventPublisher
	pricing Pricing
	cfg     PaymentConfig
	now     func() time.Time
	logger  *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	store PaymentStore,
	gw gateway.Gateway,
	locker Locker,
	events EventPublisher,
	pricing Pricing,
	cfg PaymentConfig,
) *PaymentService {
	return &PaymentService{
		store:   store,
		gateway: gw,
		locker:  locker,
		events:  events,
		pricing: pricing,
		cfg:     cfg,
		now:     time.Now,
		logger:  util.GetLogger(),
	}
}

type CheckoutRequest struct {
	Method string `json:"method" binding:"required,payment_method"`
}

// CheckoutResponse describes the payment after checkout. CheckoutURL is set
// when the renter must finish on the card processor's page; Invoice is set
// once the payment has completed.
type CheckoutResponse struct {
	Rental      *models.RentalRequest  `json:"rental"`
	Payment     *models.Payment        `json:"payment"`
	Attempt     *models.PaymentAttempt `json:"attempt,omitempty"`
	Invoice     *models.Invoice        `json:"invoice,omitempty"`
	CheckoutURL string                 `json:"checkout_url,omitempty"`
}

// WebhookResult reports what a webhook did
type WebhookResult struct {
	PaymentID int64  `json:"payment_id"`
	Status    string `json:"status"`
}

// Checkout starts paying for an accepted rental. Card payments reserve the
// dates with a payment attempt and go to the card processor; cash and bank
// transfer create a pending payment the owner confirms later.
func (s *PaymentService) Checkout(ctx context.Context, renterID, rentalID int64, req *CheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Checkout")
	defer span.End()

	r, err := s.store.GetRentalByID(ctx, rentalID)
	if err != nil {
		return nil, storeError(err, "rental request")
	}
	if !r.IsRenterOrOwner(renterID) {
		return nil, apperrors.NotFound("rental request")
	}
	if r.RenterID != renterID {
		return nil, apperrors.Forbidden("Only the renter can pay for this rental")
	}
	if r.Status != models.RentalStatusAccepted {
		return nil, apperrors.Conflict(fmt.Sprintf("A %s rental cannot be paid", r.Status))
	}

	if models.IsOffline(req.Method) {
		p, err := s.store.CreateOfflinePayment(ctx, rentalID, req.Method)
		if err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return nil, apperrors.Conflict("An offline payment is already awaiting confirmation")
			}
			return nil, storeError(err, "rental request")
		}
		util.PaymentsTotal.WithLabelValues(p.Method, p.Status).Inc()
		s.logger.Info("Offline payment pending",
			zap.Int64("rental_id", rentalID),
			zap.Int64("payment_id", p.ID),
			zap.String("method", p.Method))
		return &CheckoutResponse{Rental: r, Payment: p}, nil
	}

	return s.cardCheckout(ctx, r)
}

func (s *PaymentService) cardCheckout(ctx context.Context, r *models.RentalRequest) (*CheckoutResponse, error) {
	lockName := fmt.Sprintf("checkout:%d", r.ID)
	token, ok, err := s.locker.AcquireLock(ctx, lockName, s.cfg.CheckoutLock)
	if err != nil {
		return nil, apperrors.Unavailable("checkout lock", err)
	}
	if !ok {
		return nil, apperrors.Conflict("Checkout is already in progress for this rental")
	}
	defer func() {
		if err := s.locker.ReleaseLock(context.Background(), lockName, token); err != nil {
			s.logger.Warn("Failed to release checkout lock", zap.Int64("rental_id", r.ID), zap.Error(err))
		}
	}()

	co, err := s.store.OpenCheckout(ctx, r.ID, uuid.NewString(), s.cfg.AttemptTTL)
	if err != nil {
		if errors.Is(err, store.ErrDateConflict) {
			util.RentalConflictsTotal.WithLabelValues("checkout").Inc()
		}
		return nil, storeError(err, "rental request")
	}

	resp := &CheckoutResponse{Rental: r, Payment: co.Payment, Attempt: co.Attempt}
	if co.Reused && co.Payment.ProviderRef != "" {
		resp.CheckoutURL = co.Payment.CheckoutURL
		return resp, nil
	}
	if !co.Reused {
		util.PaymentAttemptsTotal.Inc()
	}

	s.logger.Info("Payment attempt opened",
		zap.Int64("rental_id", r.ID),
		zap.String("attempt_id", co.Attempt.ID),
		zap.Time("expires_at", co.Attempt.ExpiresAt))

	chargeReq := gateway.ChargeRequest{
		Reference:   co.Attempt.ID,
		Amount:      co.Payment.Amount,
		Currency:    s.pricing.Currency,
		Description: fmt.Sprintf("Rental #%d", r.ID),
		ExpiresAt:   co.Attempt.ExpiresAt,
	}
	if renter, err := s.store.GetUserByID(ctx, r.RenterID); err == nil {
		chargeReq.Email = renter.Email
	}

	start := time.Now()
	charge, err := s.gateway.CreateCharge(ctx, chargeReq)
	util.PaymentGatewayLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Error("Card processor call failed", zap.Int64("payment_id", co.Payment.ID), zap.Error(err))
		if _, failErr := s.fail(ctx, co.Payment.ID, "card processor unavailable"); failErr != nil {
			s.logger.Error("Failed to mark payment failed", zap.Int64("payment_id", co.Payment.ID), zap.Error(failErr))
		}
		return nil, apperrors.Unavailable("card processor", err)
	}

	if err := s.store.SetPaymentProvider(ctx, co.Payment.ID, charge.ProviderRef, charge.CheckoutURL); err != nil {
		return nil, apperrors.Internal("Failed to record charge", err)
	}
	co.Payment.ProviderRef = charge.ProviderRef
	co.Payment.CheckoutURL = charge.CheckoutURL
	resp.CheckoutURL = charge.CheckoutURL

	switch charge.Status {
	case gateway.StatusSucceeded:
		done, err := s.complete(ctx, co.Payment.ID, charge.ProviderRef)
		if err != nil {
			if apperrors.IsCode(err, apperrors.CodeConflict) {
				s.refundRequired(co.Payment.ID, charge.ProviderRef, err)
				e := apperrors.Conflict("This rental can no longer be paid; the card charge will be refunded")
				e.Err = err
				return nil, e
			}
			return nil, err
		}
		resp.Rental, resp.Payment, resp.Invoice = done.Rental, done.Payment, done.Invoice
		resp.CheckoutURL = ""
	case gateway.StatusFailed:
		reason := charge.FailureReason
		if reason == "" {
			reason = "card declined"
		}
		if _, err := s.fail(ctx, co.Payment.ID, reason); err != nil {
			return nil, err
		}
		return nil, apperrors.PaymentFailed("The card payment was declined: " + reason)
	}
	return resp, nil
}

// HandleWebhook applies a signed card processor notification. Notifications
// for payments that are no longer pending are acknowledged without changes.
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleWebhook")
	defer span.End()

	ev, err := gateway.ParseWebhook(s.cfg.WebhookSecret, body, signature)
	if err != nil {
		if errors.Is(err, gateway.ErrBadSignature) {
			return nil, apperrors.Unauthorized("Invalid webhook signature")
		}
		return nil, apperrors.BadRequest(err.Error())
	}

	p, err := s.webhookPayment(ctx, ev)
	if err != nil {
		return nil, storeError(err, "payment")
	}

	switch ev.Status {
	case gateway.StatusSucceeded:
		done, err := s.complete(ctx, p.ID, ev.ProviderRef)
		if err != nil {
			if apperrors.IsCode(err, apperrors.CodeConflict) {
				s.refundRequired(p.ID, ev.ProviderRef, err)
				return &WebhookResult{PaymentID: p.ID, Status: models.PaymentStatusFailed}, nil
			}
			return nil, err
		}
		return &WebhookResult{PaymentID: p.ID, Status: done.Payment.Status}, nil

	default:
		reason := ev.FailureReason
		if reason == "" {
			reason = "card declined"
		}
		failed, err := s.fail(ctx, p.ID, reason)
		if err != nil {
			if apperrors.IsCode(err, apperrors.CodeConflict) {
				return &WebhookResult{PaymentID: p.ID, Status: p.Status}, nil
			}
			return nil, err
		}
		return &WebhookResult{PaymentID: p.ID, Status: failed.Status}, nil
	}
}

// webhookPayment finds the payment a notification is about. The notification
// can arrive before the charge reference is recorded, so the attempt ID it
// carries as reference is tried next.
func (s *PaymentService) webhookPayment(ctx context.Context, ev *gateway.WebhookEvent) (*models.Payment, error) {
	p, err := s.store.GetPaymentByProviderRef(ctx, ev.ProviderRef)
	if err == nil || !errors.Is(err, store.ErrNotFound) || ev.Reference == "" {
		return p, err
	}

	p, err = s.store.GetPaymentByAttempt(ctx, ev.Reference)
	if err != nil {
		return nil, err
	}
	if p.ProviderRef != "" && p.ProviderRef != ev.ProviderRef {
		return nil, fmt.Errorf("attempt %s is charged as %s, not %s: %w", ev.Reference, p.ProviderRef, ev.ProviderRef, store.ErrNotFound)
	}
	s.logger.Info("Webhook matched by attempt",
		zap.Int64("payment_id", p.ID),
		zap.String("attempt_id", ev.Reference),
		zap.String("provider_ref", ev.ProviderRef))
	return p, nil
}

// refundRequired records a captured charge that could not settle its payment
func (s *PaymentService) refundRequired(paymentID int64, providerRef string, err error) {
	s.logger.Error("Charge succeeded for a payment that can no longer complete; refund required",
		zap.Int64("payment_id", paymentID),
		zap.String("provider_ref", providerRef),
		zap.Bool("refund_required", true),
		zap.Error(err))
}

// ConfirmOffline is called by the owner once a cash or bank transfer
// payment has been received.
func (s *PaymentService) ConfirmOffline(ctx context.Context, ownerID, paymentID int64) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ConfirmOffline")
	defer span.End()

	p, err := s.store.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, storeError(err, "payment")
	}
	r, err := s.store.GetRentalByID(ctx, p.RentalRequestID)
	if err != nil {
		return nil, storeError(err, "rental request")
	}
	if !r.IsRenterOrOwner(ownerID) {
		return nil, apperrors.NotFound("payment")
	}
	if r.OwnerID != ownerID {
		return nil, apperrors.Forbidden("Only the product owner can confirm payment")
	}
	if !models.IsOffline(p.Method) {
		return nil, apperrors.Validation("Card payments are confirmed by the card processor")
	}

	done, err := s.complete(ctx, p.ID, "")
	if err != nil {
		return nil, err
	}
	return &CheckoutResponse{Rental: done.Rental, Payment: done.Payment, Invoice: done.Invoice}, nil
}

// ListForRental lists the payments of a rental for its renter or owner
func (s *PaymentService) ListForRental(ctx context.Context, userID, rentalID int64) ([]models.Payment, error) {
	r, err := s.store.GetRentalByID(ctx, rentalID)
	if err != nil {
		return nil, storeError(err, "rental request")
	}
	if !r.IsRenterOrOwner(userID) {
		return nil, apperrors.NotFound("rental request")
	}
	payments, err := s.store.ListPaymentsForRental(ctx, rentalID)
	if err != nil {
		return nil, apperrors.Internal("Failed to list payments", err)
	}
	return payments, nil
}

// complete settles a payment and publishes the resulting events. A payment
// whose rental lost its dates to another renter, or was closed meanwhile, is
// marked failed.
func (s *PaymentService) complete(ctx context.Context, paymentID int64, providerRef string) (*store.CompletedPayment, error) {
	build := func(r *models.RentalRequest, p *models.Product, pay *models.Payment) *models.Invoice {
		return s.pricing.Invoice(r, p, pay, s.now())
	}

	done, err := s.store.CompletePayment(ctx, paymentID, providerRef, build)
	if err != nil {
		reason := ""
		switch {
		case errors.Is(err, store.ErrCheckoutHeld):
			e := apperrors.Conflict("Another renter is checking out these dates; confirm again once their checkout ends")
			e.Err = err
			return nil, e
		case errors.Is(err, store.ErrDateConflict):
			util.RentalConflictsTotal.WithLabelValues("payment").Inc()
			reason = "dates no longer available"
		case errors.Is(err, store.ErrInvalidState):
			reason = "rental can no longer be paid"
		}
		if reason != "" {
			// a payment that already failed stays as it is
			if _, failErr := s.fail(ctx, paymentID, reason); failErr != nil && !apperrors.IsCode(failErr, apperrors.CodeConflict) {
				s.logger.Error("Failed to mark payment failed", zap.Int64("payment_id", paymentID), zap.Error(failErr))
			}
		}
		return nil, storeError(err, "payment")
	}
	if done.AlreadyCompleted {
		return done, nil
	}

	r, p, inv := done.Rental, done.Payment, done.Invoice
	util.PaymentsTotal.WithLabelValues(p.Method, p.Status).Inc()
	util.RentalTransitionsTotal.WithLabelValues(r.Status).Inc()
	util.InvoicesIssuedTotal.Inc()

	s.logger.Info("Payment completed",
		zap.Int64("payment_id", p.ID),
		zap.Int64("rental_id", r.ID),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.Int("auto_rejected", len(done.AutoRejected)))

	if s.events == nil {
		return done, nil
	}

	if err := s.events.PublishPaymentEvent(ctx, &models.PaymentEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypePaymentSucceeded),
		RentalID:  r.ID,
		PaymentID: p.ID,
		RenterID:  r.RenterID,
		OwnerID:   r.OwnerID,
		Method:    p.Method,
		Amount:    p.Amount,
	}); err != nil {
		s.logger.Error("Failed to publish PaymentSucceeded event", zap.Error(err))
	}

	if err := s.events.PublishInvoiceIssued(ctx, &models.InvoiceIssuedEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypeInvoiceIssued),
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		RentalID:      r.ID,
		RenterID:      r.RenterID,
		OwnerID:       r.OwnerID,
		Currency:      inv.Currency,
		Total:         inv.Total,
	}); err != nil {
		s.logger.Error("Failed to publish InvoiceIssued event", zap.Error(err))
	}

	title := ""
	if done.Product != nil {
		title = done.Product.Title
	}
	for i := range done.AutoRejected {
		rejected := &done.AutoRejected[i]
		util.RentalTransitionsTotal.WithLabelValues(rejected.Status).Inc()
		publishRental(ctx, s.events, s.logger, models.EventTypeRentalRejected, rejected, title, rejected.RejectionReason, "")
	}
	for i := range done.FailedPayments {
		failed := &done.FailedPayments[i]
		util.PaymentsTotal.WithLabelValues(failed.Method, failed.Status).Inc()
		for j := range done.AutoRejected {
			if done.AutoRejected[j].ID == failed.RentalRequestID {
				publishPaymentFailed(ctx, s.events, s.logger, &done.AutoRejected[j], failed)
			}
		}
	}
	return done, nil
}

// fail marks a pending payment failed and publishes PaymentFailed
func (s *PaymentService) fail(ctx context.Context, paymentID int64, reason string) (*models.Payment, error) {
	p, err := s.store.FailPayment(ctx, paymentID, reason)
	if err != nil {
		return nil, storeError(err, "payment")
	}
	util.PaymentsTotal.WithLabelValues(p.Method, p.Status).Inc()
	s.logger.Warn("Payment failed", zap.Int64("payment_id", p.ID), zap.String("reason", reason))
	s.publishFailed(ctx, p)
	return p, nil
}

func (s *PaymentService) publishFailed(ctx context.Context, p *models.Payment) {
	if s.events == nil {
		return
	}
	r, err := s.store.GetRentalByID(ctx, p.RentalRequestID)
	if err != nil {
		s.logger.Error("Failed to load rental for PaymentFailed event", zap.Int64("payment_id", p.ID), zap.Error(err))
		return
	}
	publishPaymentFailed(ctx, s.events, s.logger, r, p)
}

// publishPaymentFailed emits PAYMENT_FAILED for a payment of r
func publishPaymentFailed(ctx context.Context, events EventPublisher, logger *zap.Logger, r *models.RentalRequest, p *models.Payment) {
	if events == nil {
		return
	}
	if err := events.PublishPaymentEvent(ctx, &models.PaymentEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypePaymentFailed),
		RentalID:  r.ID,
		PaymentID: p.ID,
		RenterID:  r.RenterID,
		OwnerID:   r.OwnerID,
		Method:    p.Method,
		Amount:    p.Amount,
		Reason:    p.FailureReason,
	}); err != nil {
		logger.Error("Failed to publish PaymentFailed event", zap.Int64("payment_id", p.ID), zap.Error(err))
	}
}

// ExpireAttempts marks lapsed payment attempts expired and fails their
// pending card payments. Availability never depends on this running: an
// attempt stops holding its dates as soon as it is past expires_at.
func (s *PaymentService) ExpireAttempts(ctx context.Context) (int64, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ExpireAttempts")
	defer span.End()

	n, failed, err := s.store.ExpireAttempts(ctx)
	if err != nil {
		util.RecordError(span, err)
		return 0, err
	}
	if n > 0 {
		util.PaymentAttemptsExpiredTotal.Add(float64(n))
		s.logger.Info("Expired payment attempts", zap.Int64("count", n))
	}
	for i := range failed {
		util.PaymentsTotal.WithLabelValues(failed[i].Method, failed[i].Status).Inc()
		s.publishFailed(ctx, &failed[i])
	}
	return n, nil
}
