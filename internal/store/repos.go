package store

import (
	"context"
	"errors"

	"order-fulfillment/internal/models"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrUsageLimitReached   = errors.New("coupon usage limit reached")
	ErrPerUserLimitReached = errors.New("coupon per-user limit reached")
	ErrDuplicatePayment    = errors.New("order already exists for payment")
	ErrDuplicateCoupon     = errors.New("coupon code already exists")
)

// TxManager runs fn inside one transaction. Any error returned by fn rolls
// back every write fn made through r.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(r TxRepos) error) error
}

// TxRepos are the repositories bound to a single transaction
type TxRepos interface {
	Orders() OrderRepository
	Coupons() CouponRepository
	Products() ProductRepository
}

type OrderRepository interface {
	ExistsByPaymentID(ctx context.Context, paymentID string) (bool, error)
	// Create inserts the order with its items and history, filling ID and timestamps.
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id int64) (*models.Order, error)
	// GetByIDForUpdate locks the order row until the transaction ends.
	GetByIDForUpdate(ctx context.Context, id int64) (*models.Order, error)
	// SaveStatus persists status, milestones and the compensation flag and appends entry.
	SaveStatus(ctx context.Context, order *models.Order, entry models.StatusHistoryEntry) error
}

type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (*models.Coupon, error)
	// ConditionalIncrementUsage records usage only while both the global and the
	// per-user quota still hold at write time.
	ConditionalIncrementUsage(ctx context.Context, couponID int64, usage models.CouponUsage) error
	Create(ctx context.Context, coupon *models.Coupon) error
}

type ProductRepository interface {
	List(ctx context.Context) ([]models.Product, error)
	GetStock(ctx context.Context, productID int64) (int, error)
	// ConditionalDecrement fails with ErrInsufficientStock when stock < qty.
	ConditionalDecrement(ctx context.Context, productID int64, qty int) error
	// Decrement subtracts without a floor check (backorder mode).
	Decrement(ctx context.Context, productID int64, qty int) error
	Increment(ctx context.Context, productID int64, qty int) error
}
