package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderConfirmed     = "ORDER_CONFIRMED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeOrderCancelled     = "ORDER_CANCELLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderConfirmedEvent published when an order has been placed
type OrderConfirmedEvent struct {
	BaseEvent
	OrderID        int64           `json:"order_id"`
	UserRef        string          `json:"user_ref"`
	PaymentID      string          `json:"payment_id"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	CouponCode     string          `json:"coupon_code,omitempty"`
	PhoneNo        string          `json:"phone_no"`
	Items          []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published after every accepted status transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID   int64       `json:"order_id"`
	UserRef   string      `json:"user_ref"`
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	UpdatedBy string      `json:"updated_by"`
	Note      string      `json:"note,omitempty"`
}

// OrderCancelledEvent published when an order is cancelled and its stock restored
type OrderCancelledEvent struct {
	BaseEvent
	OrderID int64           `json:"order_id"`
	UserRef string          `json:"user_ref"`
	Reason  string          `json:"reason"`
	Items   []OrderItemData `json:"items"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// ItemData converts order lines into their event form
func ItemData(items []OrderItem) []OrderItemData {
	out := make([]OrderItemData, 0, len(items))
	for _, it := range items {
		out = append(out, OrderItemData{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return out
}
