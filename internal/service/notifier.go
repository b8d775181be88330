package service

import (
	"context"
	"sync"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Notifier delivers order notifications to customers
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order *models.Order, discount decimal.Decimal) error
	SendStatusUpdate(ctx context.Context, order *models.Order, from models.OrderStatus) error
}

// AsyncNotifier sends through an inner Notifier in the background. Calls
// return immediately; failures are retried, then logged and dropped.
type AsyncNotifier struct {
	inner       Notifier
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	wg          sync.WaitGroup
	logger      *zap.Logger
}

// NewAsyncNotifier wraps inner. Each attempt is bounded by timeout.
func NewAsyncNotifier(inner Notifier, timeout time.Duration, maxAttempts int) *AsyncNotifier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &AsyncNotifier{
		inner:       inner,
		timeout:     timeout,
		maxAttempts: maxAttempts,
		backoff:     200 * time.Millisecond,
		logger:      util.GetLogger(),
	}
}

// SendOrderConfirmation schedules an order confirmation
func (n *AsyncNotifier) SendOrderConfirmation(ctx context.Context, order *models.Order, discount decimal.Decimal) error {
	o := order.Clone()
	n.dispatch(ctx, "order_confirmation", o.ID, func(ctx context.Context) error {
		return n.inner.SendOrderConfirmation(ctx, o, discount)
	})
	return nil
}

// SendStatusUpdate schedules a status update notification
func (n *AsyncNotifier) SendStatusUpdate(ctx context.Context, order *models.Order, from models.OrderStatus) error {
	o := order.Clone()
	n.dispatch(ctx, "status_update", o.ID, func(ctx context.Context) error {
		return n.inner.SendStatusUpdate(ctx, o, from)
	})
	return nil
}

// Wait blocks until every scheduled notification has finished
func (n *AsyncNotifier) Wait() {
	n.wg.Wait()
}

func (n *AsyncNotifier) dispatch(ctx context.Context, kind string, orderID int64, send func(context.Context) error) {
	// keep the trace, drop the request's cancellation
	base := trace.ContextWithSpanContext(context.Background(), trace.SpanContextFromContext(ctx))

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		var err error
		for attempt := 1; attempt <= n.maxAttempts; attempt++ {
			attemptCtx, cancel := context.WithTimeout(base, n.timeout)
			err = send(attemptCtx)
			cancel()
			if err == nil {
				return
			}

			n.logger.Warn("Notification attempt failed",
				zap.String("kind", kind),
				zap.Int64("order_id", orderID),
				zap.Int("attempt", attempt),
				zap.Error(err))

			if attempt < n.maxAttempts {
				time.Sleep(n.backoff * time.Duration(attempt))
			}
		}

		util.NotificationsFailedTotal.WithLabelValues(kind).Inc()
		n.logger.Error("Notification dropped",
			zap.String("kind", kind),
			zap.Int64("order_id", orderID),
			zap.Error(&OrderError{
				Kind:    KindExternalService,
				Code:    "notification_failed",
				Message: "notifier gave up after retries",
				Err:     err,
			}))
	}()
}
