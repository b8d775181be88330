package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EventPublisher turns order notifications into Kafka events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// SendOrderConfirmation publishes ORDER_CONFIRMED
func (ep *EventPublisher) SendOrderConfirmation(ctx context.Context, order *models.Order, discount decimal.Decimal) error {
	event := &models.OrderConfirmedEvent{
		BaseEvent:      newBaseEvent(models.EventTypeOrderConfirmed),
		OrderID:        order.ID,
		UserRef:        order.UserRef,
		PaymentID:      order.PaymentInfo.ID,
		TotalPrice:     order.TotalPrice,
		DiscountAmount: discount,
		FinalAmount:    order.FinalAmount,
		PhoneNo:        order.ShippingInfo.PhoneNo,
		Items:          models.ItemData(order.Items),
	}
	if order.CouponCode != nil {
		event.CouponCode = *order.CouponCode
	}
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), event.EventType, event)
}

// SendStatusUpdate publishes ORDER_STATUS_CHANGED, followed by ORDER_CANCELLED
// when the order was cancelled.
func (ep *EventPublisher) SendStatusUpdate(ctx context.Context, order *models.Order, from models.OrderStatus) error {
	var last models.StatusHistoryEntry
	if n := len(order.StatusHistory); n > 0 {
		last = order.StatusHistory[n-1]
	}

	changed := &models.OrderStatusChangedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:   order.ID,
		UserRef:   order.UserRef,
		From:      from,
		To:        order.Status,
		UpdatedBy: last.UpdatedBy,
		Note:      last.Note,
	}
	if err := ep.producer.PublishEvent(ctx, orderKey(order.ID), changed.EventType, changed); err != nil {
		return err
	}

	if order.Status != models.OrderStatusCancelled {
		return nil
	}
	cancelled := &models.OrderCancelledEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderCancelled),
		OrderID:   order.ID,
		UserRef:   order.UserRef,
		Items:     models.ItemData(order.Items),
	}
	if order.CancellationReason != nil {
		cancelled.Reason = *order.CancellationReason
	}
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), cancelled.EventType, cancelled)
}

// EventHandler handles incoming events
type EventHandler struct {
	onOrderConfirmed     func(context.Context, *models.OrderConfirmedEvent) error
	onOrderStatusChanged func(context.Context, *models.OrderStatusChangedEvent) error
	onOrderCancelled     func(context.Context, *models.OrderCancelledEvent) error
	logger               *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderConfirmed registers a handler for ORDER_CONFIRMED events
func (eh *EventHandler) OnOrderConfirmed(handler func(context.Context, *models.OrderConfirmedEvent) error) {
	eh.onOrderConfirmed = handler
}

// OnOrderStatusChanged registers a handler for ORDER_STATUS_CHANGED events
func (eh *EventHandler) OnOrderStatusChanged(handler func(context.Context, *models.OrderStatusChangedEvent) error) {
	eh.onOrderStatusChanged = handler
}

// OnOrderCancelled registers a handler for ORDER_CANCELLED events
func (eh *EventHandler) OnOrderCancelled(handler func(context.Context, *models.OrderCancelledEvent) error) {
	eh.onOrderCancelled = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderConfirmed:
		if eh.onOrderConfirmed != nil {
			var event models.OrderConfirmedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal %s event: %w", baseEvent.EventType, err)
			}
			return eh.onOrderConfirmed(ctx, &event)
		}

	case models.EventTypeOrderStatusChanged:
		if eh.onOrderStatusChanged != nil {
			var event models.OrderStatusChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal %s event: %w", baseEvent.EventType, err)
			}
			return eh.onOrderStatusChanged(ctx, &event)
		}

	case models.EventTypeOrderCancelled:
		if eh.onOrderCancelled != nil {
			var event models.OrderCancelledEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal %s event: %w", baseEvent.EventType, err)
			}
			return eh.onOrderCancelled(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
