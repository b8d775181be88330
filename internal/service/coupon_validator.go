package service

import (
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CouponValidator decides whether a coupon applies and what it is worth.
// It has no side effects; usage is recorded by the coupon store.
type CouponValidator struct{}

// NewCouponValidator creates a coupon validator
func NewCouponValidator() *CouponValidator {
	return &CouponValidator{}
}

// Validate checks the coupon's own state at time now
func (v *CouponValidator) Validate(c *models.Coupon, now time.Time) error {
	if !c.IsActive {
		return newRejectionError("coupon_inactive", "coupon is not active")
	}
	if now.After(c.ExpiryDate) {
		return newRejectionError("coupon_expired", "coupon has expired")
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return newRejectionError("coupon_usage_limit_reached", "coupon usage limit reached")
	}
	if c.DiscountType != models.DiscountPercentage && c.DiscountType != models.DiscountFixed {
		return newRejectionError("coupon_invalid", "coupon has an unknown discount type")
	}
	return nil
}

// CanUserUse checks the per-user limit against the coupon's usage records
func (v *CouponValidator) CanUserUse(c *models.Coupon, userRef string) error {
	used := 0
	for _, u := range c.UsedBy {
		if u.UserRef == userRef {
			used++
		}
	}
	if used >= c.PerUserLimit {
		return newRejectionError("coupon_per_user_limit_reached", "you have already used this coupon")
	}
	return nil
}

// MeetsMinimum checks the minimum purchase amount
func (v *CouponValidator) MeetsMinimum(c *models.Coupon, orderAmount decimal.Decimal) error {
	if orderAmount.LessThan(c.MinPurchaseAmount) {
		return newRejectionError("coupon_minimum_not_met",
			"minimum purchase amount is "+c.MinPurchaseAmount.StringFixed(2))
	}
	return nil
}

// CalculateDiscount returns the discount for orderAmount, never more than the
// amount itself, rounded to two decimal places.
func (v *CouponValidator) CalculateDiscount(c *models.Coupon, orderAmount decimal.Decimal) decimal.Decimal {
	if !orderAmount.IsPositive() {
		return decimal.Zero
	}

	var discount decimal.Decimal
	switch c.DiscountType {
	case models.DiscountPercentage:
		discount = orderAmount.Mul(c.DiscountValue).Div(hundred)
		if c.MaxDiscountAmount != nil && discount.GreaterThan(*c.MaxDiscountAmount) {
			discount = *c.MaxDiscountAmount
		}
	case models.DiscountFixed:
		discount = c.DiscountValue
	}

	if discount.GreaterThan(orderAmount) {
		discount = orderAmount
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	return discount.Round(2)
}

// Evaluate runs every rule in order and returns the discount. Both the preview
// path and order creation go through here.
func (v *CouponValidator) Evaluate(c *models.Coupon, userRef string, orderAmount decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	checks := []func() error{
		func() error { return v.Validate(c, now) },
		func() error { return v.CanUserUse(c, userRef) },
		func() error { return v.MeetsMinimum(c, orderAmount) },
	}
	for _, check := range checks {
		if err := check(); err != nil {
			util.CouponRejectionsTotal.WithLabelValues(AsOrderError(err).Code).Inc()
			return decimal.Zero, err
		}
	}
	return v.CalculateDiscount(c, orderAmount), nil
}
