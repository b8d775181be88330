package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"order-fulfillment/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, user_ref, shipping_info, payment_id, payment_status, total_price, coupon_id,
	coupon_code, discount_amount, final_amount, order_status, paid_at, packed_at, shipped_at,
	delivered_at, cancelled_at, cancellation_reason, stock_restored, created_at, updated_at`

// orderRow is the flat shape of the orders table
type orderRow struct {
	ID                 int64               `db:"id"`
	UserRef            string              `db:"user_ref"`
	ShippingInfo       models.ShippingInfo `db:"shipping_info"`
	PaymentID          string              `db:"payment_id"`
	PaymentStatus      string              `db:"payment_status"`
	TotalPrice         decimal.Decimal     `db:"total_price"`
	CouponID           *int64              `db:"coupon_id"`
	CouponCode         *string             `db:"coupon_code"`
	DiscountAmount     decimal.Decimal     `db:"discount_amount"`
	FinalAmount        decimal.Decimal     `db:"final_amount"`
	Status             models.OrderStatus  `db:"order_status"`
	PaidAt             *time.Time          `db:"paid_at"`
	PackedAt           *time.Time          `db:"packed_at"`
	ShippedAt          *time.Time          `db:"shipped_at"`
	DeliveredAt        *time.Time          `db:"delivered_at"`
	CancelledAt        *time.Time          `db:"cancelled_at"`
	CancellationReason *string             `db:"cancellation_reason"`
	StockRestored      bool                `db:"stock_restored"`
	CreatedAt          time.Time           `db:"created_at"`
	UpdatedAt          time.Time           `db:"updated_at"`
}

func (row *orderRow) toModel() *models.Order {
	return &models.Order{
		ID:                 row.ID,
		UserRef:            row.UserRef,
		ShippingInfo:       row.ShippingInfo,
		PaymentInfo:        models.PaymentInfo{ID: row.PaymentID, Status: row.PaymentStatus},
		TotalPrice:         row.TotalPrice,
		CouponID:           row.CouponID,
		CouponCode:         row.CouponCode,
		DiscountAmount:     row.DiscountAmount,
		FinalAmount:        row.FinalAmount,
		Status:             row.Status,
		PaidAt:             row.PaidAt,
		PackedAt:           row.PackedAt,
		ShippedAt:          row.ShippedAt,
		DeliveredAt:        row.DeliveredAt,
		CancelledAt:        row.CancelledAt,
		CancellationReason: row.CancellationReason,
		StockRestored:      row.StockRestored,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
}

type orderRepo struct {
	q sqlx.ExtContext
}

// ExistsByPaymentID reports whether an order was already placed for the payment
func (r *orderRepo) ExistsByPaymentID(ctx context.Context, paymentID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, r.q, &exists,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE payment_id = $1)", paymentID)
	return exists, err
}

// Create creates a new order with its items and initial history
func (r *orderRepo) Create(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_ref, shipping_info, payment_id, payment_status, total_price, coupon_id,
			coupon_code, discount_amount, final_amount, order_status, paid_at, stock_restored)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`

	var created struct {
		ID        int64     `db:"id"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	err := sqlx.GetContext(ctx, r.q, &created, query,
		order.UserRef, order.ShippingInfo, order.PaymentInfo.ID, order.PaymentInfo.Status,
		order.TotalPrice, order.CouponID, order.CouponCode, order.DiscountAmount, order.FinalAmount,
		order.Status, order.PaidAt, order.StockRestored)
	if isUniqueViolation(err) {
		return fmt.Errorf("payment %s: %w", order.PaymentInfo.ID, ErrDuplicatePayment)
	}
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	order.ID = created.ID
	order.CreatedAt = created.CreatedAt
	order.UpdatedAt = created.UpdatedAt

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err := sqlx.GetContext(ctx, r.q, &item.ID, `
			INSERT INTO order_items (order_id, product_id, name, unit_price, quantity)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			item.OrderID, item.ProductID, item.Name, item.UnitPrice, item.Quantity)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	for _, entry := range order.StatusHistory {
		if err := r.appendHistory(ctx, order.ID, entry); err != nil {
			return err
		}
	}
	return nil
}

// GetByID retrieves an order by ID
func (r *orderRepo) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	return r.get(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

// GetByIDForUpdate retrieves an order and locks its row
func (r *orderRepo) GetByIDForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return r.get(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
}

func (r *orderRepo) get(ctx context.Context, query string, id int64) (*models.Order, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, r.q, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	order := row.toModel()

	order.Items = []models.OrderItem{}
	err = sqlx.SelectContext(ctx, r.q, &order.Items,
		"SELECT id, order_id, product_id, name, unit_price, quantity FROM order_items WHERE order_id = $1 ORDER BY id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	order.StatusHistory = []models.StatusHistoryEntry{}
	err = sqlx.SelectContext(ctx, r.q, &order.StatusHistory,
		"SELECT status, created_at, updated_by, note FROM order_status_history WHERE order_id = $1 ORDER BY id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load status history: %w", err)
	}
	return order, nil
}

// SaveStatus updates the status columns and appends the history entry
func (r *orderRepo) SaveStatus(ctx context.Context, order *models.Order, entry models.StatusHistoryEntry) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE orders SET order_status = $1, paid_at = $2, packed_at = $3, shipped_at = $4,
			delivered_at = $5, cancelled_at = $6, cancellation_reason = $7, stock_restored = $8,
			updated_at = $9
		WHERE id = $10`,
		order.Status, order.PaidAt, order.PackedAt, order.ShippedAt, order.DeliveredAt,
		order.CancelledAt, order.CancellationReason, order.StockRestored, order.UpdatedAt, order.ID)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("order %d: %w", order.ID, ErrNotFound)
	}
	return r.appendHistory(ctx, order.ID, entry)
}

func (r *orderRepo) appendHistory(ctx context.Context, orderID int64, entry models.StatusHistoryEntry) error {
	_, err := r.q.ExecContext(ctx,
		"INSERT INTO order_status_history (order_id, status, updated_by, note, created_at) VALUES ($1, $2, $3, $4, $5)",
		orderID, entry.Status, entry.UpdatedBy, entry.Note, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}
	return nil
}
