package worker

import (
	"context"
	"fmt"

	"order-fulfillment/internal/broker"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventLedger remembers which events have already been handled
type EventLedger interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Mailer delivers a customer-facing message
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes messages to the log instead of delivering them
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer creates a logging mailer
func NewLogMailer() *LogMailer {
	return &LogMailer{logger: util.GetLogger()}
}

// Send logs the message
func (m *LogMailer) Send(_ context.Context, to, subject, body string) error {
	m.logger.Info("Notification",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body))
	return nil
}

// MessageSource supplies messages to a handler until ctx is done
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// NotificationWorker turns order events into customer notifications
type NotificationWorker struct {
	source       MessageSource
	eventHandler *broker.EventHandler
	ledger       EventLedger
	mailer       Mailer
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(source MessageSource, ledger EventLedger, mailer Mailer) *NotificationWorker {
	w := &NotificationWorker{
		source:       source,
		eventHandler: broker.NewEventHandler(),
		ledger:       ledger,
		mailer:       mailer,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnOrderConfirmed(w.handleOrderConfirmed)
	w.eventHandler.OnOrderStatusChanged(w.handleStatusChanged)
	w.eventHandler.OnOrderCancelled(w.handleOrderCancelled)
	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.source.StartConsuming(ctx, w.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.source.Close()
}

// HandleMessage dispatches one Kafka message
func (w *NotificationWorker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	ctx, span := util.StartSpan(ctx, "NotificationWorker.HandleMessage")
	defer span.End()
	return w.eventHandler.HandleMessage(ctx, msg)
}

func (w *NotificationWorker) handleOrderConfirmed(ctx context.Context, e *models.OrderConfirmedEvent) error {
	body := fmt.Sprintf("Your order #%d has been confirmed. Total %s, discount %s, payable %s.",
		e.OrderID, e.TotalPrice.StringFixed(2), e.DiscountAmount.StringFixed(2), e.FinalAmount.StringFixed(2))
	if e.CouponCode != "" {
		body += " Coupon " + e.CouponCode + " applied."
	}
	return w.deliver(ctx, e.BaseEvent, e.UserRef, fmt.Sprintf("Order #%d confirmed", e.OrderID), body)
}

func (w *NotificationWorker) handleStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	// cancellations get their own message
	if e.To == models.OrderStatusCancelled {
		return w.skip(ctx, e.BaseEvent)
	}
	body := fmt.Sprintf("Your order #%d is now %s.", e.OrderID, e.To)
	if e.Note != "" {
		body += " " + e.Note
	}
	return w.deliver(ctx, e.BaseEvent, e.UserRef, fmt.Sprintf("Order #%d %s", e.OrderID, e.To), body)
}

func (w *NotificationWorker) handleOrderCancelled(ctx context.Context, e *models.OrderCancelledEvent) error {
	body := fmt.Sprintf("Your order #%d has been cancelled.", e.OrderID)
	if e.Reason != "" {
		body += " Reason: " + e.Reason
	}
	return w.deliver(ctx, e.BaseEvent, e.UserRef, fmt.Sprintf("Order #%d cancelled", e.OrderID), body)
}

func (w *NotificationWorker) deliver(ctx context.Context, base models.BaseEvent, to, subject, body string) error {
	processed, err := w.ledger.IsEventProcessed(ctx, base.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		w.logger.Info("Event already processed", zap.String("event_id", base.EventID))
		return nil
	}

	if err := w.mailer.Send(ctx, to, subject, body); err != nil {
		return fmt.Errorf("failed to send %s notification: %w", base.EventType, err)
	}
	util.NotificationsDeliveredTotal.WithLabelValues(base.EventType).Inc()

	if err := w.ledger.MarkEventProcessed(ctx, base.EventID, base.EventType); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

func (w *NotificationWorker) skip(ctx context.Context, base models.BaseEvent) error {
	return w.ledger.MarkEventProcessed(ctx, base.EventID, base.EventType)
}
