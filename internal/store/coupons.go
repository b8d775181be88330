package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"order-fulfillment/internal/models"

	"github.com/jmoiron/sqlx"
)

const couponColumns = `id, code, discount_type, discount_value, min_purchase_amount, max_discount_amount,
	usage_limit, usage_count, per_user_limit, expiry_date, is_active, created_at, updated_at`

type couponRepo struct {
	q sqlx.ExtContext
}

// FindByCode loads a coupon and its usage records; codes compare case-insensitively
func (r *couponRepo) FindByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var c models.Coupon
	err := sqlx.GetContext(ctx, r.q, &c,
		"SELECT "+couponColumns+" FROM coupons WHERE code = $1", normalizeCode(code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("coupon %q: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	err = sqlx.SelectContext(ctx, r.q, &c.UsedBy,
		"SELECT user_ref, used_at, order_amount FROM coupon_usages WHERE coupon_id = $1 ORDER BY used_at, id", c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load coupon usage: %w", err)
	}
	return &c, nil
}

// ConditionalIncrementUsage locks the coupon row, re-checks both quotas against
// committed data and records the usage.
func (r *couponRepo) ConditionalIncrementUsage(ctx context.Context, couponID int64, usage models.CouponUsage) error {
	var quota struct {
		UsageLimit   *int `db:"usage_limit"`
		UsageCount   int  `db:"usage_count"`
		PerUserLimit int  `db:"per_user_limit"`
	}
	err := sqlx.GetContext(ctx, r.q, &quota,
		"SELECT usage_limit, usage_count, per_user_limit FROM coupons WHERE id = $1 FOR UPDATE", couponID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("coupon %d: %w", couponID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock coupon: %w", err)
	}

	if quota.UsageLimit != nil && quota.UsageCount >= *quota.UsageLimit {
		return ErrUsageLimitReached
	}

	var used int
	err = sqlx.GetContext(ctx, r.q, &used,
		"SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_ref = $2", couponID, usage.UserRef)
	if err != nil {
		return fmt.Errorf("failed to count coupon usage: %w", err)
	}
	if used >= quota.PerUserLimit {
		return ErrPerUserLimitReached
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE coupons SET usage_count = usage_count + 1, updated_at = NOW()
		WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`, couponID)
	if err != nil {
		return fmt.Errorf("failed to increment coupon usage: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrUsageLimitReached
	}

	_, err = r.q.ExecContext(ctx,
		"INSERT INTO coupon_usages (coupon_id, user_ref, order_amount, used_at) VALUES ($1, $2, $3, $4)",
		couponID, usage.UserRef, usage.OrderAmount, usage.UsedAt)
	if err != nil {
		return fmt.Errorf("failed to record coupon usage: %w", err)
	}
	return nil
}

// Create inserts a new coupon
func (r *couponRepo) Create(ctx context.Context, c *models.Coupon) error {
	c.Code = normalizeCode(c.Code)
	query := `
		INSERT INTO coupons (code, discount_type, discount_value, min_purchase_amount, max_discount_amount,
			usage_limit, usage_count, per_user_limit, expiry_date, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	err := sqlx.GetContext(ctx, r.q, c, query,
		c.Code, c.DiscountType, c.DiscountValue, c.MinPurchaseAmount, c.MaxDiscountAmount,
		c.UsageLimit, c.PerUserLimit, c.ExpiryDate, c.IsActive)
	if isUniqueViolation(err) {
		return fmt.Errorf("coupon %q: %w", c.Code, ErrDuplicateCoupon)
	}
	if err != nil {
		return err
	}
	c.UsageCount = 0
	c.UsedBy = []models.CouponUsage{}
	return nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
