package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"order-fulfillment/internal/broker"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/store"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, to, subject, body string) error {
	args := m.Called(ctx, to, subject, body)
	return args.Error(0)
}

type idleSource struct{ closed bool }

func (s *idleSource) StartConsuming(ctx context.Context, _ broker.MessageHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *idleSource) Close() error {
	s.closed = true
	return nil
}

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	b, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func base(id, eventType string) models.BaseEvent {
	return models.BaseEvent{EventID: id, EventType: eventType, Timestamp: time.Now().UTC()}
}

func TestOrderConfirmedIsDeliveredOnce(t *testing.T) {
	ledger := store.NewMemoryStore()
	mailer := new(mockMailer)
	mailer.On("Send", mock.Anything, "U1", "Order #7 confirmed",
		"Your order #7 has been confirmed. Total 5000.00, discount 200.00, payable 4800.00. Coupon SAVE10 applied.").
		Return(nil).Once()

	w := NewNotificationWorker(&idleSource{}, ledger, mailer)
	msg := message(t, models.OrderConfirmedEvent{
		BaseEvent:      base("evt-1", models.EventTypeOrderConfirmed),
		OrderID:        7,
		UserRef:        "U1",
		TotalPrice:     decimal.NewFromInt(5000),
		DiscountAmount: decimal.NewFromInt(200),
		FinalAmount:    decimal.NewFromInt(4800),
		CouponCode:     "SAVE10",
	})

	ctx := context.Background()
	require.NoError(t, w.HandleMessage(ctx, msg))
	require.NoError(t, w.HandleMessage(ctx, msg))

	mailer.AssertExpectations(t)
	processed, err := ledger.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestMailerFailureLeavesEventUnprocessed(t *testing.T) {
	ledger := store.NewMemoryStore()
	mailer := new(mockMailer)
	mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("smtp down")).Once()
	mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	w := NewNotificationWorker(&idleSource{}, ledger, mailer)
	msg := message(t, models.OrderStatusChangedEvent{
		BaseEvent: base("evt-2", models.EventTypeOrderStatusChanged),
		OrderID:   8,
		UserRef:   "U2",
		From:      models.OrderStatusConfirmed,
		To:        models.OrderStatusShipped,
	})

	ctx := context.Background()
	assert.Error(t, w.HandleMessage(ctx, msg))
	processed, _ := ledger.IsEventProcessed(ctx, "evt-2")
	assert.False(t, processed)

	require.NoError(t, w.HandleMessage(ctx, msg))
	processed, _ = ledger.IsEventProcessed(ctx, "evt-2")
	assert.True(t, processed)
	mailer.AssertNumberOfCalls(t, "Send", 2)
}

func TestCancellationSendsSingleMessage(t *testing.T) {
	ledger := store.NewMemoryStore()
	mailer := new(mockMailer)
	mailer.On("Send", mock.Anything, "U3", "Order #9 cancelled", "Your order #9 has been cancelled. Reason: out of stock").
		Return(nil).Once()

	w := NewNotificationWorker(&idleSource{}, ledger, mailer)
	ctx := context.Background()

	require.NoError(t, w.HandleMessage(ctx, message(t, models.OrderStatusChangedEvent{
		BaseEvent: base("evt-3", models.EventTypeOrderStatusChanged),
		OrderID:   9,
		UserRef:   "U3",
		From:      models.OrderStatusProcessing,
		To:        models.OrderStatusCancelled,
	})))
	require.NoError(t, w.HandleMessage(ctx, message(t, models.OrderCancelledEvent{
		BaseEvent: base("evt-4", models.EventTypeOrderCancelled),
		OrderID:   9,
		UserRef:   "U3",
		Reason:    "out of stock",
	})))

	mailer.AssertExpectations(t)
	processed, _ := ledger.IsEventProcessed(ctx, "evt-3")
	assert.True(t, processed)
}

func TestWorkerStartStop(t *testing.T) {
	src := &idleSource{}
	w := NewNotificationWorker(src, store.NewMemoryStore(), NewLogMailer())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	require.NoError(t, w.Stop())
	assert.True(t, src.closed)
}
