package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rental-marketplace/config"
	"rental-marketplace/internal/api"
	"rental-marketplace/internal/auth"
	"rental-marketplace/internal/broker"
	"rental-marketplace/internal/email"
	"rental-marketplace/internal/gateway"
	"rental-marketplace/internal/realtime"
	"rental-marketplace/internal/redisclient"
	"rental-marketplace/internal/service"
	"rental-marketplace/internal/store"
	"rental-marketplace/internal/util"
	"rental-marketplace/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting rental marketplace")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint, cfg.Observ.TraceSampleRatio)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
		logger.Info("Schema applied")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicRental)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicRental))

	eventPublisher := broker.NewEventPublisher(producer)

	var gw gateway.Gateway = gateway.Mock{}
	if cfg.Payment.ProviderURL != "" {
		gw = gateway.NewHTTP(cfg.Payment.ProviderURL, cfg.Payment.APIKey, 10*time.Second)
	} else {
		logger.Warn("PAYMENT_PROVIDER_URL not set, card charges are approved by the mock gateway")
	}

	var mailer email.Sender = email.LogSender{}
	if cfg.Email.Enabled {
		mailer = email.NewSMTPSender(cfg.Email.SMTPHost, cfg.Email.SMTPPort,
			cfg.Email.Username, cfg.Email.Password, cfg.Email.From)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	hub := realtime.NewHub(redisClient)
	pubsub := redisClient.PSubscribe(workerCtx, realtime.ChannelPattern)
	defer pubsub.Close()
	go hub.Listen(workerCtx, pubsub.Channel())

	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	pricing := service.Pricing{
		Currency:      cfg.Billing.Currency,
		TaxBps:        cfg.Billing.TaxBps,
		ServiceFeeBps: cfg.Billing.ServiceFeeBps,
	}

	paymentService := service.NewPaymentService(db, gw, redisClient, eventPublisher, pricing, service.PaymentConfig{
		AttemptTTL:    cfg.Payment.AttemptTTL,
		CheckoutLock:  cfg.Payment.CheckoutLock,
		WebhookSecret: cfg.Payment.WebhookSecret,
	})
	notificationService := service.NewNotificationService(db, mailer, hub)

	services := api.Services{
		Auth:          service.NewAuthService(db, tokens, redisClient),
		Products:      service.NewProductService(db, redisClient),
		Wishlist:      service.NewWishlistService(db),
		Rentals:       service.NewRentalService(db, eventPublisher, redisClient, pricing, cfg.Billing.MaxRentalDays),
		Payments:      paymentService,
		Invoices:      service.NewInvoiceService(db),
		Returns:       service.NewReturnService(db, redisClient, eventPublisher),
		Notifications: notificationService,
		Dashboard:     service.NewDashboardService(db),
	}

	notificationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicRental, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(notificationConsumer, notificationService)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	sweeper := worker.NewAttemptSweeper(paymentService, cfg.Workers.AttemptSweepInterval)
	go sweeper.Run(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := api.RegisterValidators(); err != nil {
		logger.Fatal("Failed to register validators", zap.Error(err))
	}

	router := gin.New()
	handler := api.NewHandler(services, tokens, hub, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Streams never finish on their own; end them so Shutdown can drain.
	srv.RegisterOnShutdown(hub.Close)

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Warn("Failed to close notification consumer", zap.Error(err))
	}

	logger.Info("Server exited")
}
