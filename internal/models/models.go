package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SystemActor is recorded in status history for transitions nobody triggered by hand.
const SystemActor = "system"

// Product is the stock view of a catalog product
type Product struct {
	ID        int64           `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Stock     int             `db:"stock" json:"stock"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// ShippingInfo is stored as a JSON document on the order row
type ShippingInfo struct {
	Address string `json:"address" binding:"required"`
	City    string `json:"city" binding:"required"`
	State   string `json:"state"`
	Country string `json:"country" binding:"required"`
	PinCode string `json:"pinCode" binding:"required"`
	PhoneNo string `json:"phoneNo" binding:"required"`
}

// Value implements driver.Valuer
func (s ShippingInfo) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	// pq sends []byte as bytea, which jsonb rejects
	return string(b), nil
}

// Scan implements sql.Scanner
func (s *ShippingInfo) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	case nil:
		*s = ShippingInfo{}
		return nil
	default:
		return fmt.Errorf("unsupported shipping info type %T", src)
	}
}

// PaymentInfo is supplied by the upstream payment verification and trusted as-is
type PaymentInfo struct {
	ID     string `json:"id" binding:"required"`
	Status string `json:"status" binding:"required"`
}

// OrderItem is a priced line of an order
type OrderItem struct {
	ID        int64           `db:"id" json:"-"`
	OrderID   int64           `db:"order_id" json:"-"`
	ProductID int64           `db:"product_id" json:"productId"`
	Name      string          `db:"name" json:"name"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unitPrice"`
	Quantity  int             `db:"quantity" json:"quantity"`
}

// StatusHistoryEntry is one record of the append-only status audit log
type StatusHistoryEntry struct {
	Status    OrderStatus `db:"status" json:"status"`
	Timestamp time.Time   `db:"created_at" json:"timestamp"`
	UpdatedBy string      `db:"updated_by" json:"updatedBy"`
	Note      string      `db:"note" json:"note"`
}

// Order represents a customer order
type Order struct {
	ID                 int64                `json:"id"`
	UserRef            string               `json:"user"`
	Items              []OrderItem          `json:"orderItems"`
	ShippingInfo       ShippingInfo         `json:"shippingInfo"`
	PaymentInfo        PaymentInfo          `json:"paymentInfo"`
	TotalPrice         decimal.Decimal      `json:"totalPrice"`
	CouponID           *int64               `json:"couponId,omitempty"`
	CouponCode         *string              `json:"couponCode,omitempty"`
	DiscountAmount     decimal.Decimal      `json:"discountAmount"`
	FinalAmount        decimal.Decimal      `json:"finalAmount"`
	Status             OrderStatus          `json:"orderStatus"`
	StatusHistory      []StatusHistoryEntry `json:"statusHistory"`
	PaidAt             *time.Time           `json:"paidAt,omitempty"`
	PackedAt           *time.Time           `json:"packedAt,omitempty"`
	ShippedAt          *time.Time           `json:"shippedAt,omitempty"`
	DeliveredAt        *time.Time           `json:"deliveredAt,omitempty"`
	CancelledAt        *time.Time           `json:"cancelledAt,omitempty"`
	CancellationReason *string              `json:"cancellationReason,omitempty"`
	StockRestored      bool                 `json:"-"`
	CreatedAt          time.Time            `json:"createdAt"`
	UpdatedAt          time.Time            `json:"updatedAt"`
}

// Clone returns a deep copy of the order
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.StatusHistory = append([]StatusHistoryEntry(nil), o.StatusHistory...)
	c.CouponID = clonePtr(o.CouponID)
	c.CouponCode = clonePtr(o.CouponCode)
	c.PaidAt = clonePtr(o.PaidAt)
	c.PackedAt = clonePtr(o.PackedAt)
	c.ShippedAt = clonePtr(o.ShippedAt)
	c.DeliveredAt = clonePtr(o.DeliveredAt)
	c.CancelledAt = clonePtr(o.CancelledAt)
	c.CancellationReason = clonePtr(o.CancellationReason)
	return &c
}

// Discount types
const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

// Coupon is a promotional code with discount rules and a usage quota
type Coupon struct {
	ID                int64            `db:"id" json:"id"`
	Code              string           `db:"code" json:"code"`
	DiscountType      string           `db:"discount_type" json:"discountType"`
	DiscountValue     decimal.Decimal  `db:"discount_value" json:"discountValue"`
	MinPurchaseAmount decimal.Decimal  `db:"min_purchase_amount" json:"minPurchaseAmount"`
	MaxDiscountAmount *decimal.Decimal `db:"max_discount_amount" json:"maxDiscountAmount,omitempty"`
	UsageLimit        *int             `db:"usage_limit" json:"usageLimit,omitempty"`
	UsageCount        int              `db:"usage_count" json:"usageCount"`
	PerUserLimit      int              `db:"per_user_limit" json:"perUserLimit"`
	ExpiryDate        time.Time        `db:"expiry_date" json:"expiryDate"`
	IsActive          bool             `db:"is_active" json:"isActive"`
	UsedBy            []CouponUsage    `db:"-" json:"usedBy"`
	CreatedAt         time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updatedAt"`
}

// Clone returns a deep copy of the coupon
func (c *Coupon) Clone() *Coupon {
	cp := *c
	cp.MaxDiscountAmount = clonePtr(c.MaxDiscountAmount)
	cp.UsageLimit = clonePtr(c.UsageLimit)
	cp.UsedBy = append([]CouponUsage(nil), c.UsedBy...)
	return &cp
}

// CouponUsage records one redemption of a coupon
type CouponUsage struct {
	UserRef     string          `db:"user_ref" json:"user"`
	UsedAt      time.Time       `db:"used_at" json:"usedAt"`
	OrderAmount decimal.Decimal `db:"order_amount" json:"orderAmount"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
