package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"order-fulfillment/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryWithProduct(stock int) *MemoryStore {
	s := NewMemoryStore()
	s.PutProduct(models.Product{ID: 1, Name: "Widget", Price: decimal.NewFromInt(100), Stock: stock})
	return s
}

func memStock(t *testing.T, s *MemoryStore, id int64) int {
	t.Helper()
	var stock int
	err := s.WithinTx(context.Background(), func(r TxRepos) error {
		var err error
		stock, err = r.Products().GetStock(context.Background(), id)
		return err
	})
	require.NoError(t, err)
	return stock
}

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	s := newMemoryWithProduct(5)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(r TxRepos) error {
		require.NoError(t, r.Products().ConditionalDecrement(ctx, 1, 3))
		require.NoError(t, r.Orders().Create(ctx, testOrder("pay_1", 1, 3)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 5, memStock(t, s, 1))
	err = s.WithinTx(ctx, func(r TxRepos) error {
		exists, err := r.Orders().ExistsByPaymentID(ctx, "pay_1")
		assert.False(t, exists)
		return err
	})
	require.NoError(t, err)
}

func TestMemoryStoreConditionalDecrement(t *testing.T) {
	s := newMemoryWithProduct(2)
	ctx := context.Background()

	err := s.WithinTx(ctx, func(r TxRepos) error {
		return r.Products().ConditionalDecrement(ctx, 1, 3)
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	err = s.WithinTx(ctx, func(r TxRepos) error {
		return r.Products().ConditionalDecrement(ctx, 42, 1)
	})
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.WithinTx(ctx, func(r TxRepos) error {
		return r.Products().Decrement(ctx, 1, 3)
	})
	require.NoError(t, err)
	assert.Equal(t, -1, memStock(t, s, 1))
}

func TestMemoryStoreDuplicatePayment(t *testing.T) {
	s := newMemoryWithProduct(5)
	ctx := context.Background()

	create := func() error {
		return s.WithinTx(ctx, func(r TxRepos) error {
			return r.Orders().Create(ctx, testOrder("pay_dup", 1, 1))
		})
	}
	require.NoError(t, create())
	assert.ErrorIs(t, create(), ErrDuplicatePayment)
}

func TestMemoryStoreCouponLimits(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	limit := 2
	coupon := &models.Coupon{
		Code:          "welcome",
		DiscountType:  models.DiscountFixed,
		DiscountValue: decimal.NewFromInt(50),
		UsageLimit:    &limit,
		PerUserLimit:  1,
		ExpiryDate:    time.Now().Add(time.Hour),
		IsActive:      true,
	}
	require.NoError(t, s.WithinTx(ctx, func(r TxRepos) error { return r.Coupons().Create(ctx, coupon) }))
	assert.Equal(t, "WELCOME", coupon.Code)

	dup := &models.Coupon{Code: "Welcome", DiscountType: models.DiscountFixed}
	err := s.WithinTx(ctx, func(r TxRepos) error { return r.Coupons().Create(ctx, dup) })
	assert.ErrorIs(t, err, ErrDuplicateCoupon)

	use := func(user string) error {
		return s.WithinTx(ctx, func(r TxRepos) error {
			return r.Coupons().ConditionalIncrementUsage(ctx, coupon.ID, models.CouponUsage{UserRef: user, UsedAt: time.Now()})
		})
	}
	require.NoError(t, use("alice"))
	assert.ErrorIs(t, use("alice"), ErrPerUserLimitReached)
	require.NoError(t, use("bob"))
	assert.ErrorIs(t, use("carol"), ErrUsageLimitReached)

	var got *models.Coupon
	require.NoError(t, s.WithinTx(ctx, func(r TxRepos) error {
		var err error
		got, err = r.Coupons().FindByCode(ctx, "welcome")
		return err
	}))
	assert.Equal(t, 2, got.UsageCount)
	assert.Len(t, got.UsedBy, 2)
}

func TestMemoryStoreSaveStatusAppendsHistory(t *testing.T) {
	s := newMemoryWithProduct(5)
	ctx := context.Background()

	order := testOrder("pay_hist", 1, 1)
	require.NoError(t, s.WithinTx(ctx, func(r TxRepos) error { return r.Orders().Create(ctx, order) }))

	entry := models.StatusHistoryEntry{
		Status: models.OrderStatusShipped, Timestamp: time.Now().UTC(), UpdatedBy: "admin", Note: "on the way",
	}
	err := s.WithinTx(ctx, func(r TxRepos) error {
		o, err := r.Orders().GetByIDForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		o.Status = models.OrderStatusShipped
		return r.Orders().SaveStatus(ctx, o, entry)
	})
	require.NoError(t, err)

	var got *models.Order
	require.NoError(t, s.WithinTx(ctx, func(r TxRepos) error {
		var err error
		got, err = r.Orders().GetByID(ctx, order.ID)
		return err
	}))
	assert.Equal(t, models.OrderStatusShipped, got.Status)
	require.Len(t, got.StatusHistory, 2)
	assert.Equal(t, "on the way", got.StatusHistory[1].Note)
}
