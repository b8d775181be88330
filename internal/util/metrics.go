package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of rejected order creations",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	OrderStatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Accepted order status transitions",
	}, []string{"from", "to"})

	OrderStatusRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_rejected_total",
		Help: "Rejected order status updates",
	}, []string{"reason"})

	CouponRedemptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coupon_redemptions_total",
		Help: "Total number of coupon usages recorded",
	})

	CouponRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_rejections_total",
		Help: "Coupon applications rejected, by rule",
	}, []string{"reason"})

	StockDecrementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_decrement_latency_seconds",
		Help:    "Latency of stock decrements for one order",
		Buckets: prometheus.DefBuckets,
	})

	StockUnitsRestoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_units_restored_total",
		Help: "Units returned to stock by cancellations",
	})

	NotificationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Notifications abandoned after all retries",
	}, []string{"kind"})

	NotificationsDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_delivered_total",
		Help: "Notifications handed to the mailer by the worker",
	}, []string{"event_type"})

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
