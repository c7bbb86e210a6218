package worker

import (
	"context"
	"time"

	"rental-marketplace/internal/broker"
	"rental-marketplace/internal/models"
	"rental-marketplace/internal/util"

	"go.uber.org/zap"
)

// Notifier reacts to domain events. *service.NotificationService implements it.
type Notifier interface {
	HandleRentalEvent(ctx context.Context, ev *models.RentalEvent) error
	HandlePaymentEvent(ctx context.Context, ev *models.PaymentEvent) error
	HandleInvoiceIssued(ctx context.Context, ev *models.InvoiceIssuedEvent) error
}

// NotificationWorker consumes rental events and turns them into notifications
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, notifier Notifier) *NotificationWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnRentalEvent(notifier.HandleRentalEvent)
	eventHandler.OnPaymentEvent(notifier.HandlePaymentEvent)
	eventHandler.OnInvoiceIssued(notifier.HandleInvoiceIssued)

	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start consumes until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	util.GetLogger().Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop closes the consumer
func (w *NotificationWorker) Stop() error {
	util.GetLogger().Info("Stopping notification worker")
	return w.consumer.Close()
}

// Expirer expires lapsed payment attempts. *service.PaymentService implements it.
type Expirer interface {
	ExpireAttempts(ctx context.Context) (int64, error)
}

// AttemptSweeper periodically expires payment attempts. Availability checks
// already ignore lapsed attempts; the sweep settles their status and fails
// the pending payments behind them.
type AttemptSweeper struct {
	expirer  Expirer
	interval time.Duration
	logger   *zap.Logger
}

func NewAttemptSweeper(expirer Expirer, interval time.Duration) *AttemptSweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &AttemptSweeper{
		expirer:  expirer,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled
func (s *AttemptSweeper) Run(ctx context.Context) {
	s.logger.Info("Starting payment attempt sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Sweep(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping payment attempt sweeper")
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs a single pass
func (s *AttemptSweeper) Sweep(ctx context.Context) int64 {
	n, err := s.expirer.ExpireAttempts(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Payment attempt sweep failed", zap.Error(err))
		}
		return 0
	}
	return n
}
