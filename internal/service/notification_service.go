package service

import (
	"context"
	"fmt"

	"rental-marketplace/internal/apperrors"
	"rental-marketplace/internal/email"
	"rental-marketplace/internal/models"
	"rental-marketplace/internal/util"

	"go.uber.org/zap"
)

// NotificationService turns domain events into in-app notifications, emails
// and realtime pushes, and serves the notification inbox.
type NotificationService struct {
	store  NotificationStore
	mailer email.Sender
	pusher Pusher
	logger *zap.Logger
}

// NewNotificationService creates a notification service. mailer and pusher
// may be nil.
func NewNotificationService(store NotificationStore, mailer email.Sender, pusher Pusher) *NotificationService {
	return &NotificationService{
		store:  store,
		mailer: mailer,
		pusher: pusher,
		logger: util.GetLogger(),
	}
}

// outgoing is one notification to deliver
type outgoing struct {
	userID   int64
	title    string
	body     string
	template string
	invoice  *models.Invoice
	product  string
	dates    string
}

func describe(title string, start, end string) string {
	if title == "" {
		title = "your rental"
	}
	return fmt.Sprintf("%s (%s to %s)", title, start, end)
}

func withReason(body, reason string) string {
	if reason == "" {
		return body
	}
	return body + " Reason: " + reason
}

// HandleRentalEvent notifies the party that did not cause the transition
func (s *NotificationService) HandleRentalEvent(ctx context.Context, ev *models.RentalEvent) error {
	what := describe(ev.ProductTitle, ev.StartDate.Format(dateLayout), ev.EndDate.Format(dateLayout))

	var out []outgoing
	switch ev.EventType {
	case models.EventTypeRentalRequested:
		out = append(out, outgoing{userID: ev.OwnerID, title: "New rental request",
			body: "You have a new request for " + what + "."})
	case models.EventTypeRentalAccepted:
		out = append(out, outgoing{userID: ev.RenterID, title: "Rental request accepted",
			body: "Your request for " + what + " was accepted. Complete payment to secure the dates."})
	case models.EventTypeRentalRejected:
		out = append(out, outgoing{userID: ev.RenterID, title: "Rental request declined",
			body: withReason("Your request for "+what+" was declined.", ev.Reason)})
	case models.EventTypeRentalCancelled:
		out = append(out, outgoing{userID: ev.OwnerID, title: "Rental request cancelled",
			body: withReason("The request for "+what+" was cancelled by the renter.", ev.Reason)})
	case models.EventTypeRentalReturned:
		body := fmt.Sprintf("The rental of %s was marked returned in %s condition.", what, ev.Condition)
		out = append(out,
			outgoing{userID: ev.RenterID, title: "Rental returned", body: body},
			outgoing{userID: ev.OwnerID, title: "Rental returned", body: body})
	}
	for i := range out {
		out[i].product = ev.ProductTitle
		out[i].dates = ev.StartDate.Format(dateLayout) + " to " + ev.EndDate.Format(dateLayout)
	}
	return s.process(ctx, ev.BaseEvent, ev.RentalID, out)
}

// HandlePaymentEvent notifies about completed and failed payments
func (s *NotificationService) HandlePaymentEvent(ctx context.Context, ev *models.PaymentEvent) error {
	var out []outgoing
	switch ev.EventType {
	case models.EventTypePaymentSucceeded:
		out = append(out,
			outgoing{userID: ev.RenterID, title: "Payment confirmed",
				body: fmt.Sprintf("Your payment for rental #%d was received. The dates are yours.", ev.RentalID)},
			outgoing{userID: ev.OwnerID, title: "Payment received",
				body: fmt.Sprintf("Rental #%d has been paid.", ev.RentalID)})
	case models.EventTypePaymentFailed:
		out = append(out, outgoing{userID: ev.RenterID, title: "Payment failed",
			body: withReason(fmt.Sprintf("Your payment for rental #%d did not go through.", ev.RentalID), ev.Reason)})
	}
	return s.process(ctx, ev.BaseEvent, ev.RentalID, out)
}

// HandleInvoiceIssued sends the renter their invoice
func (s *NotificationService) HandleInvoiceIssued(ctx context.Context, ev *models.InvoiceIssuedEvent) error {
	o := outgoing{
		userID:   ev.RenterID,
		title:    "Invoice " + ev.InvoiceNumber,
		body:     fmt.Sprintf("Your invoice for rental #%d is ready. Total %s.", ev.RentalID, email.FormatMoney(ev.Total, ev.Currency)),
		template: email.TemplateInvoice,
	}
	if inv, err := s.store.GetInvoiceByID(ctx, ev.InvoiceID); err == nil {
		o.invoice = inv
	} else {
		s.logger.Warn("Invoice not found for email, sending plain notification", zap.Int64("invoice_id", ev.InvoiceID))
		o.template = ""
	}
	return s.process(ctx, ev.BaseEvent, ev.RentalID, []outgoing{o})
}

// process stores out once per event ID, then pushes and emails it. A retried
// event never stores its notifications twice.
func (s *NotificationService) process(ctx context.Context, base models.BaseEvent, rentalID int64, out []outgoing) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.process")
	defer span.End()

	logger := s.logger.With(zap.String("event_id", base.EventID), zap.String("event_type", base.EventType))

	var (
		sends []outgoing
		ns    []*models.Notification
	)
	for _, o := range out {
		if o.userID == 0 {
			continue
		}
		n := &models.Notification{
			UserID: o.userID,
			Type:   base.EventType,
			Title:  o.title,
			Body:   o.body,
		}
		if rentalID > 0 {
			n.RentalRequestID = &rentalID
		}
		sends = append(sends, o)
		ns = append(ns, n)
	}

	stored, err := s.store.StoreEventNotifications(ctx, base.EventID, base.EventType, ns)
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to store notifications: %w", err)
	}
	if !stored {
		logger.Info("Event already processed, skipping")
		return nil
	}

	for i, n := range ns {
		util.NotificationsSentTotal.WithLabelValues("in_app").Inc()
		s.deliver(ctx, n, sends[i])
	}
	return nil
}

// deliver pushes and emails a stored notification
func (s *NotificationService) deliver(ctx context.Context, n *models.Notification, o outgoing) {
	if s.pusher != nil {
		if err := s.pusher.Push(ctx, n); err != nil {
			s.logger.Warn("Realtime push failed", zap.Int64("user_id", o.userID), zap.Error(err))
		} else {
			util.NotificationsSentTotal.WithLabelValues("realtime").Inc()
		}
	}

	if s.mailer != nil {
		s.sendEmail(ctx, o)
	}
}

// sendEmail is best effort; the in-app notification is the record.
func (s *NotificationService) sendEmail(ctx context.Context, o outgoing) {
	user, err := s.store.GetUserByID(ctx, o.userID)
	if err != nil {
		s.logger.Warn("Cannot email unknown user", zap.Int64("user_id", o.userID), zap.Error(err))
		return
	}

	tmpl := o.template
	if tmpl == "" {
		tmpl = email.TemplateNotification
	}
	msg, err := email.Render(tmpl, user.Email, email.Data{
		RecipientName: user.FullName,
		Title:         o.title,
		Body:          o.body,
		ProductTitle:  o.product,
		Dates:         o.dates,
		Invoice:       o.invoice,
	})
	if err != nil {
		s.logger.Error("Failed to render email", zap.String("template", tmpl), zap.Error(err))
		return
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Warn("Failed to send email", zap.Int64("user_id", o.userID), zap.Error(err))
		return
	}
	util.NotificationsSentTotal.WithLabelValues("email").Inc()
}

// List returns the user's notifications, newest first
func (s *NotificationService) List(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]models.Notification, error) {
	list, err := s.store.ListNotifications(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, apperrors.Internal("Failed to list notifications", err)
	}
	return list, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID int64) (int, error) {
	n, err := s.store.CountUnreadNotifications(ctx, userID)
	if err != nil {
		return 0, apperrors.Internal("Failed to count notifications", err)
	}
	return n, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID int64) error {
	return storeError(s.store.MarkNotificationRead(ctx, notificationID, userID), "notification")
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	n, err := s.store.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, apperrors.Internal("Failed to update notifications", err)
	}
	return n, nil
}
