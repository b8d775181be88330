package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/store"

	"go.uber.org/zap"
)

// statusRank orders the forward states. Cancelled has no rank.
var statusRank = map[models.OrderStatus]int{
	models.OrderStatusPending:    0,
	models.OrderStatusConfirmed:  1,
	models.OrderStatusProcessing: 2,
	models.OrderStatusPacked:     3,
	models.OrderStatusShipped:    4,
	models.OrderStatusDelivered:  5,
}

// InitialStatus is the status of a freshly placed order; payment has already
// been verified upstream.
const InitialStatus = models.OrderStatusConfirmed

// ParseStatus maps user input onto a recognized status, ignoring case
func ParseStatus(s string) (models.OrderStatus, error) {
	s = strings.TrimSpace(s)
	for _, st := range models.OrderStatuses {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", newValidationError("invalid_status", fmt.Sprintf("unknown order status %q", s))
}

// ValidateTransition is the single source of truth for legal status changes
func ValidateTransition(from, to models.OrderStatus) error {
	if from.IsTerminal() {
		return newRejectionError("order_terminal",
			fmt.Sprintf("order is already %s and cannot be changed", from))
	}
	if to == models.OrderStatusCancelled {
		return nil
	}

	toRank, ok := statusRank[to]
	if !ok {
		return newValidationError("invalid_status", fmt.Sprintf("unknown order status %q", to))
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return newInternalError(fmt.Sprintf("order has unknown status %q", from), nil)
	}
	if toRank < fromRank {
		return newRejectionError("illegal_transition",
			fmt.Sprintf("cannot move order from %s back to %s", from, to))
	}
	return nil
}

// Transition describes an accepted status change
type Transition struct {
	From         models.OrderStatus
	To           models.OrderStatus
	Entry        models.StatusHistoryEntry
	StockRestore bool
}

// OrderLifecycle drives the order status state machine and its compensation
type OrderLifecycle struct {
	ledger *InventoryLedger
	logger *zap.Logger
}

// NewOrderLifecycle creates an order lifecycle bound to the inventory ledger
func NewOrderLifecycle(ledger *InventoryLedger, logger *zap.Logger) *OrderLifecycle {
	return &OrderLifecycle{ledger: ledger, logger: logger}
}

// Start puts a new order into its initial status
func (l *OrderLifecycle) Start(o *models.Order, now time.Time) {
	o.Status = InitialStatus
	o.StatusHistory = []models.StatusHistoryEntry{{
		Status:    InitialStatus,
		Timestamp: now,
		UpdatedBy: models.SystemActor,
		Note:      "Payment confirmed",
	}}
	stampMilestone(o, InitialStatus, now)
}

// Apply validates and applies a transition to o in memory. It does not touch
// stock; see Compensate.
func (l *OrderLifecycle) Apply(o *models.Order, to models.OrderStatus, note, actor, reason string, now time.Time) (*Transition, error) {
	if err := ValidateTransition(o.Status, to); err != nil {
		return nil, err
	}
	if actor == "" {
		actor = models.SystemActor
	}

	t := &Transition{
		From: o.Status,
		To:   to,
		Entry: models.StatusHistoryEntry{
			Status:    to,
			Timestamp: now,
			UpdatedBy: actor,
			Note:      note,
		},
	}

	o.Status = to
	o.StatusHistory = append(o.StatusHistory, t.Entry)
	o.UpdatedAt = now
	stampMilestone(o, to, now)

	if to == models.OrderStatusCancelled {
		if reason == "" {
			reason = note
		}
		if reason != "" && o.CancellationReason == nil {
			o.CancellationReason = &reason
		}
		t.StockRestore = !o.StockRestored
	}
	return t, nil
}

// Compensate returns every line's quantity to stock once per order
func (l *OrderLifecycle) Compensate(ctx context.Context, products store.ProductRepository, o *models.Order) error {
	if o.StockRestored {
		return nil
	}
	for _, item := range o.Items {
		if err := l.ledger.Restore(ctx, products, item.ProductID, item.Quantity); err != nil {
			return fmt.Errorf("failed to restore stock for product %d: %w", item.ProductID, err)
		}
	}
	o.StockRestored = true

	l.logger.Info("Stock restored for cancelled order",
		zap.Int64("order_id", o.ID),
		zap.Int("lines", len(o.Items)))
	return nil
}

func stampMilestone(o *models.Order, status models.OrderStatus, now time.Time) {
	var field **time.Time
	switch status {
	case models.OrderStatusConfirmed:
		field = &o.PaidAt
	case models.OrderStatusPacked:
		field = &o.PackedAt
	case models.OrderStatusShipped:
		field = &o.ShippedAt
	case models.OrderStatusDelivered:
		field = &o.DeliveredAt
	case models.OrderStatusCancelled:
		field = &o.CancelledAt
	default:
		return
	}
	if *field == nil {
		ts := now
		*field = &ts
	}
}
