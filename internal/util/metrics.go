package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RentalRequestsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rental_requests_created_total",
		Help: "Total number of rental requests created",
	})

	RentalTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rental_transitions_total",
		Help: "Total number of rental request status transitions",
	}, []string{"status"})

	RentalConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rental_date_conflicts_total",
		Help: "Total number of requests refused because of overlapping dates",
	}, []string{"stage"})

	PaymentAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment attempts opened",
	})

	PaymentAttemptsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_attempts_expired_total",
		Help: "Total number of payment attempts expired by the sweeper",
	})

	PaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_total",
		Help: "Total number of payments by method and outcome",
	}, []string{"method", "status"})

	PaymentGatewayLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_gateway_latency_seconds",
		Help:    "Latency of card processor calls",
		Buckets: prometheus.DefBuckets,
	})

	InvoicesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invoices_issued_total",
		Help: "Total number of invoices issued",
	})

	ProductReturnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "product_returns_total",
		Help: "Total number of product returns by condition",
	}, []string{"condition"})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of notifications delivered by channel",
	}, []string{"channel"})

	ProductCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "product_cache_lookups_total",
		Help: "Product cache lookups by result",
	}, []string{"result"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_events_published_total",
		Help: "Domain events written to kafka by type and result",
	}, []string{"event_type", "result"})

	EventsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_events_consumed_total",
		Help: "Kafka messages handled by result",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
