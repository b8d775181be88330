package service

import (
	"context"
	"testing"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestValidateTransition(t *testing.T) {
	const (
		pending    = models.OrderStatusPending
		confirmed  = models.OrderStatusConfirmed
		processing = models.OrderStatusProcessing
		packed     = models.OrderStatusPacked
		shipped    = models.OrderStatusShipped
		delivered  = models.OrderStatusDelivered
		cancelled  = models.OrderStatusCancelled
	)

	tests := []struct {
		from, to models.OrderStatus
		code     string
	}{
		{pending, confirmed, ""},
		{confirmed, processing, ""},
		{confirmed, shipped, ""},
		{processing, processing, ""},
		{shipped, delivered, ""},
		{processing, cancelled, ""},
		{pending, cancelled, ""},
		{shipped, cancelled, ""},
		{delivered, processing, "order_terminal"},
		{delivered, cancelled, "order_terminal"},
		{cancelled, confirmed, "order_terminal"},
		{cancelled, cancelled, "order_terminal"},
		{shipped, packed, "illegal_transition"},
		{processing, pending, "illegal_transition"},
		{confirmed, "Returned", "invalid_status"},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			oe := AsOrderError(err)
			assert.Equal(t, tt.code, oe.Code)
			assert.Equal(t, 400, oe.Status)
		})
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" shipped ")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, st)

	st, err = ParseStatus("CANCELLED")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, st)

	_, err = ParseStatus("lost")
	assert.True(t, IsKind(err, KindValidation))
}

func TestApplyStampsMilestonesOnce(t *testing.T) {
	lc := NewOrderLifecycle(nil, zap.NewNop())
	t0 := testNow
	o := &models.Order{}
	lc.Start(o, t0)

	require.Equal(t, models.OrderStatusConfirmed, o.Status)
	require.Len(t, o.StatusHistory, 1)
	assert.Equal(t, models.SystemActor, o.StatusHistory[0].UpdatedBy)
	require.NotNil(t, o.PaidAt)
	assert.Equal(t, t0, *o.PaidAt)

	t1 := t0.Add(time.Hour)
	_, err := lc.Apply(o, models.OrderStatusShipped, "dispatched", "admin", "", t1)
	require.NoError(t, err)

	t2 := t1.Add(time.Hour)
	_, err = lc.Apply(o, models.OrderStatusShipped, "tracking updated", "admin", "", t2)
	require.NoError(t, err)

	require.NotNil(t, o.ShippedAt)
	assert.Equal(t, t1, *o.ShippedAt)
	assert.Equal(t, t0, *o.PaidAt)
	assert.Nil(t, o.PackedAt)
	assert.Len(t, o.StatusHistory, 3)
	assert.Equal(t, t2, o.UpdatedAt)
}

func TestApplyCancellation(t *testing.T) {
	lc := NewOrderLifecycle(nil, zap.NewNop())
	o := &models.Order{}
	lc.Start(o, testNow)

	tr, err := lc.Apply(o, models.OrderStatusCancelled, "customer request", "", "", testNow)
	require.NoError(t, err)
	assert.True(t, tr.StockRestore)
	assert.Equal(t, models.OrderStatusConfirmed, tr.From)
	assert.Equal(t, models.SystemActor, tr.Entry.UpdatedBy)
	require.NotNil(t, o.CancellationReason)
	assert.Equal(t, "customer request", *o.CancellationReason)
	require.NotNil(t, o.CancelledAt)

	_, err = lc.Apply(o, models.OrderStatusCancelled, "again", "admin", "", testNow)
	assert.Equal(t, "order_terminal", AsOrderError(err).Code)
	assert.Len(t, o.StatusHistory, 2)
}

func TestApplyCancellationSkipsRestoreWhenAlreadyRestored(t *testing.T) {
	lc := NewOrderLifecycle(nil, zap.NewNop())
	o := &models.Order{Status: models.OrderStatusProcessing, StockRestored: true}

	tr, err := lc.Apply(o, models.OrderStatusCancelled, "", "admin", "out of stock", testNow)
	require.NoError(t, err)
	assert.False(t, tr.StockRestore)
	assert.Equal(t, "out of stock", *o.CancellationReason)
}

func TestCompensateRestoresOnce(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.PutProduct(models.Product{ID: 1, Name: "A", Price: decimal.NewFromInt(10), Stock: 3})
	mem.PutProduct(models.Product{ID: 2, Name: "B", Price: decimal.NewFromInt(10), Stock: 0})

	ledger := NewInventoryLedger(mem, nil, false, time.Minute, zap.NewNop())
	lc := NewOrderLifecycle(ledger, zap.NewNop())
	o := &models.Order{ID: 7, Items: []models.OrderItem{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 1},
	}}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		err := mem.WithinTx(ctx, func(r store.TxRepos) error {
			return lc.Compensate(ctx, r.Products(), o)
		})
		require.NoError(t, err)
	}

	assert.True(t, o.StockRestored)
	stock, err := ledger.GetStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, stock)
	stock, err = ledger.GetStock(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, stock)
}
