package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"order-fulfillment/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore connects to TEST_DATABASE_URL or skips the test
func openTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires database (set TEST_DATABASE_URL)")
	}

	s, err := NewStore(url)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	_, err = s.GetDB().Exec(`TRUNCATE order_status_history, order_items, orders,
		coupon_usages, coupons, products, processed_events RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return s
}

func seedProduct(t *testing.T, s *Store, name string, stock int) int64 {
	t.Helper()
	var id int64
	err := s.GetDB().Get(&id,
		"INSERT INTO products (name, price, stock) VALUES ($1, $2, $3) RETURNING id",
		name, decimal.NewFromInt(100), stock)
	require.NoError(t, err)
	return id
}

func testOrder(paymentID string, productID int64, qty int) *models.Order {
	now := time.Now().UTC()
	return &models.Order{
		UserRef: "user-1",
		Items: []models.OrderItem{
			{ProductID: productID, Name: "Widget", UnitPrice: decimal.NewFromInt(100), Quantity: qty},
		},
		ShippingInfo: models.ShippingInfo{
			Address: "1 Main St", City: "Pune", Country: "IN", PinCode: "411001", PhoneNo: "9999999999",
		},
		PaymentInfo:    models.PaymentInfo{ID: paymentID, Status: "succeeded"},
		TotalPrice:     decimal.NewFromInt(int64(100 * qty)),
		DiscountAmount: decimal.Zero,
		FinalAmount:    decimal.NewFromInt(int64(100 * qty)),
		Status:         models.OrderStatusConfirmed,
		StatusHistory: []models.StatusHistoryEntry{
			{Status: models.OrderStatusConfirmed, Timestamp: now, UpdatedBy: models.SystemActor, Note: "Payment confirmed"},
		},
		PaidAt: &now,
	}
}

func TestPostgresCreateOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	productID := seedProduct(t, s, "Widget", 10)

	order := testOrder("pay_pg_1", productID, 2)
	err := s.WithinTx(ctx, func(r TxRepos) error {
		require.NoError(t, r.Products().ConditionalDecrement(ctx, productID, 2))
		return r.Orders().Create(ctx, order)
	})
	require.NoError(t, err)
	assert.NotZero(t, order.ID)

	var got *models.Order
	err = s.WithinTx(ctx, func(r TxRepos) error {
		var err error
		got, err = r.Orders().GetByID(ctx, order.ID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserRef)
	assert.Equal(t, "Pune", got.ShippingInfo.City)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Quantity)
	require.Len(t, got.StatusHistory, 1)
	assert.True(t, got.TotalPrice.Equal(decimal.NewFromInt(200)))

	err = s.WithinTx(ctx, func(r TxRepos) error {
		stock, err := r.Products().GetStock(ctx, productID)
		assert.Equal(t, 8, stock)
		return err
	})
	require.NoError(t, err)
}

func TestPostgresDuplicatePayment(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	productID := seedProduct(t, s, "Widget", 10)

	err := s.WithinTx(ctx, func(r TxRepos) error {
		return r.Orders().Create(ctx, testOrder("pay_dup", productID, 1))
	})
	require.NoError(t, err)

	err = s.WithinTx(ctx, func(r TxRepos) error {
		return r.Orders().Create(ctx, testOrder("pay_dup", productID, 1))
	})
	assert.True(t, errors.Is(err, ErrDuplicatePayment))
}

func TestPostgresRollbackRestoresStock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	productID := seedProduct(t, s, "Widget", 3)

	err := s.WithinTx(ctx, func(r TxRepos) error {
		if err := r.Products().ConditionalDecrement(ctx, productID, 2); err != nil {
			return err
		}
		return r.Products().ConditionalDecrement(ctx, productID, 2)
	})
	assert.True(t, errors.Is(err, ErrInsufficientStock))

	err = s.WithinTx(ctx, func(r TxRepos) error {
		stock, err := r.Products().GetStock(ctx, productID)
		assert.Equal(t, 3, stock)
		return err
	})
	require.NoError(t, err)
}

func TestPostgresCouponUsageLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	limit := 1
	coupon := &models.Coupon{
		Code:          " save10 ",
		DiscountType:  models.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		UsageLimit:    &limit,
		PerUserLimit:  1,
		ExpiryDate:    time.Now().Add(24 * time.Hour),
		IsActive:      true,
	}
	err := s.WithinTx(ctx, func(r TxRepos) error { return r.Coupons().Create(ctx, coupon) })
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", coupon.Code)

	use := func(user string) error {
		return s.WithinTx(ctx, func(r TxRepos) error {
			return r.Coupons().ConditionalIncrementUsage(ctx, coupon.ID, models.CouponUsage{
				UserRef: user, UsedAt: time.Now().UTC(), OrderAmount: decimal.NewFromInt(500),
			})
		})
	}
	require.NoError(t, use("a"))
	assert.True(t, errors.Is(use("b"), ErrUsageLimitReached))

	var got *models.Coupon
	err = s.WithinTx(ctx, func(r TxRepos) error {
		var err error
		got, err = r.Coupons().FindByCode(ctx, "save10")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsageCount)
	require.Len(t, got.UsedBy, 1)
	assert.Equal(t, "a", got.UsedBy[0].UserRef)
}

func TestPostgresProcessedEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	processed, err := s.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, s.MarkEventProcessed(ctx, "evt-1", models.EventTypeOrderConfirmed))
	require.NoError(t, s.MarkEventProcessed(ctx, "evt-1", models.EventTypeOrderConfirmed))

	processed, err = s.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, processed)
}
