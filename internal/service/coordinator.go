package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/store"
	"order-fulfillment/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Locker guards an external reference while a request is in flight
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// CreateOrderRequest represents a checkout whose payment has been verified
type CreateOrderRequest struct {
	ShippingInfo models.ShippingInfo `json:"shippingInfo" binding:"required"`
	OrderItems   []OrderItemRequest  `json:"orderItems" binding:"required,min=1,dive"`
	PaymentInfo  models.PaymentInfo  `json:"paymentInfo" binding:"required"`
	TotalPrice   decimal.Decimal     `json:"totalPrice"`
	CouponCode   string              `json:"couponCode,omitempty"`
}

// OrderItemRequest represents a line in a checkout
type OrderItemRequest struct {
	ProductID int64           `json:"productId" binding:"required"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// CreateCouponRequest represents an administrator creating a coupon
type CreateCouponRequest struct {
	Code              string           `json:"code" binding:"required"`
	DiscountType      string           `json:"discountType" binding:"required"`
	DiscountValue     decimal.Decimal  `json:"discountValue"`
	MinPurchaseAmount decimal.Decimal  `json:"minPurchaseAmount"`
	MaxDiscountAmount *decimal.Decimal `json:"maxDiscountAmount,omitempty"`
	UsageLimit        *int             `json:"usageLimit,omitempty"`
	PerUserLimit      int              `json:"perUserLimit"`
	ExpiryDate        time.Time        `json:"expiryDate" binding:"required"`
	IsActive          *bool            `json:"isActive,omitempty"`
}

// CouponPreview is what a coupon would be worth on a given amount
type CouponPreview struct {
	Code        string          `json:"code"`
	Discount    decimal.Decimal `json:"discount"`
	FinalAmount decimal.Decimal `json:"finalAmount"`
}

// Coordinator runs the fulfillment operations. Every mutation of one request
// happens inside a single store transaction.
type Coordinator struct {
	tx        store.TxManager
	locker    Locker
	validator *CouponValidator
	ledger    *InventoryLedger
	lifecycle *OrderLifecycle
	notifier  Notifier
	lockTTL   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewCoordinator creates a coordinator. locker may be nil, in which case the
// database alone guards duplicate payments.
func NewCoordinator(
	tx store.TxManager,
	locker Locker,
	ledger *InventoryLedger,
	notifier Notifier,
	lockTTL time.Duration,
) *Coordinator {
	logger := util.GetLogger()
	return &Coordinator{
		tx:        tx,
		locker:    locker,
		validator: NewCouponValidator(),
		ledger:    ledger,
		lifecycle: NewOrderLifecycle(ledger, logger),
		notifier:  notifier,
		lockTTL:   lockTTL,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// CreateOrder places an order, decrements stock and records coupon usage
// atomically. Nothing is written when it fails.
func (c *Coordinator) CreateOrder(ctx context.Context, userRef string, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Coordinator.CreateOrder")
	defer span.End()

	if err := validateCreateRequest(userRef, req); err != nil {
		util.OrdersFailedTotal.WithLabelValues(err.Code).Inc()
		return nil, err
	}
	paymentID := strings.TrimSpace(req.PaymentInfo.ID)

	release, err := c.lockPayment(ctx, paymentID)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(AsOrderError(err).Code).Inc()
		return nil, err
	}
	defer release()

	now := c.now()
	order := newOrder(userRef, paymentID, req)
	c.lifecycle.Start(order, now)

	discount := decimal.Zero
	err = c.tx.WithinTx(ctx, func(r store.TxRepos) error {
		exists, err := r.Orders().ExistsByPaymentID(ctx, paymentID)
		if err != nil {
			return newInternalError("failed to check payment", err)
		}
		if exists {
			return newConflictError("duplicate_payment",
				fmt.Sprintf("an order already exists for payment %s", paymentID), store.ErrDuplicatePayment)
		}

		var coupon *models.Coupon
		if code := strings.TrimSpace(req.CouponCode); code != "" {
			coupon, err = c.findCoupon(ctx, r.Coupons(), code)
			if err != nil {
				return err
			}
			discount, err = c.validator.Evaluate(coupon, userRef, order.TotalPrice, now)
			if err != nil {
				return err
			}
		}

		start := time.Now()
		for _, item := range order.Items {
			if err := c.ledger.Decrement(ctx, r.Products(), item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		util.StockDecrementLatency.Observe(time.Since(start).Seconds())

		if coupon != nil {
			usage := models.CouponUsage{UserRef: userRef, UsedAt: now, OrderAmount: order.TotalPrice}
			if err := r.Coupons().ConditionalIncrementUsage(ctx, coupon.ID, usage); err != nil {
				return mapCouponUsageError(err)
			}
			order.CouponID = &coupon.ID
			order.CouponCode = &coupon.Code
		}
		order.DiscountAmount = discount
		order.FinalAmount = order.TotalPrice.Sub(discount)

		if err := r.Orders().Create(ctx, order); err != nil {
			switch {
			case errors.Is(err, store.ErrDuplicatePayment):
				return newConflictError("duplicate_payment",
					fmt.Sprintf("an order already exists for payment %s", paymentID), err)
			case errors.Is(err, store.ErrNotFound):
				return newNotFoundError("product_not_found", "order references an unknown product", err)
			default:
				return newInternalError("failed to create order", err)
			}
		}
		return nil
	})
	if err != nil {
		oe := AsOrderError(err)
		util.OrdersFailedTotal.WithLabelValues(oe.Code).Inc()
		c.logger.Warn("Order creation rejected",
			zap.String("payment_id", paymentID),
			zap.String("user", userRef),
			zap.String("code", oe.Code),
			zap.Error(err))
		return nil, oe
	}

	util.OrdersCreatedTotal.Inc()
	if order.CouponID != nil {
		util.CouponRedemptionsTotal.Inc()
	}
	c.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("payment_id", paymentID),
		zap.String("final_amount", order.FinalAmount.StringFixed(2)))

	c.ledger.RefreshCache(ctx, productIDs(order.Items))
	if err := c.notifier.SendOrderConfirmation(ctx, order, discount); err != nil {
		c.logger.Warn("Order confirmation not sent", zap.Int64("order_id", order.ID), zap.Error(err))
	}
	return order, nil
}

// UpdateStatus moves an order to status. Cancelling returns the order's stock
// exactly once.
func (c *Coordinator) UpdateStatus(ctx context.Context, orderID int64, status, note, reason, actor string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Coordinator.UpdateStatus")
	defer span.End()

	to, err := ParseStatus(status)
	if err != nil {
		util.OrderStatusRejectedTotal.WithLabelValues(AsOrderError(err).Code).Inc()
		return nil, err
	}

	var (
		updated *models.Order
		applied *Transition
	)
	err = c.tx.WithinTx(ctx, func(r store.TxRepos) error {
		o, err := r.Orders().GetByIDForUpdate(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return newNotFoundError("order_not_found", fmt.Sprintf("order %d not found", orderID), err)
		}
		if err != nil {
			return newInternalError("failed to load order", err)
		}

		t, err := c.lifecycle.Apply(o, to, note, actor, reason, c.now())
		if err != nil {
			return err
		}
		if t.StockRestore {
			if err := c.lifecycle.Compensate(ctx, r.Products(), o); err != nil {
				return err
			}
		}
		if err := r.Orders().SaveStatus(ctx, o, t.Entry); err != nil {
			return newInternalError("failed to save order status", err)
		}

		updated, applied = o, t
		return nil
	})
	if err != nil {
		oe := AsOrderError(err)
		util.OrderStatusRejectedTotal.WithLabelValues(oe.Code).Inc()
		c.logger.Warn("Status update rejected",
			zap.Int64("order_id", orderID),
			zap.String("to", string(to)),
			zap.String("code", oe.Code),
			zap.Error(err))
		return nil, oe
	}

	util.OrderStatusTransitionsTotal.WithLabelValues(string(applied.From), string(applied.To)).Inc()
	c.logger.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", string(applied.From)),
		zap.String("to", string(applied.To)),
		zap.String("by", applied.Entry.UpdatedBy))

	if applied.To == models.OrderStatusCancelled {
		util.OrdersCancelledTotal.Inc()
		if applied.StockRestore {
			c.ledger.RefreshCache(ctx, productIDs(updated.Items))
		}
	}
	if err := c.notifier.SendStatusUpdate(ctx, updated, applied.From); err != nil {
		c.logger.Warn("Status update notification not sent", zap.Int64("order_id", orderID), zap.Error(err))
	}
	return updated, nil
}

// GetOrder retrieves an order by ID
func (c *Coordinator) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Coordinator.GetOrder")
	defer span.End()

	var order *models.Order
	err := c.tx.WithinTx(ctx, func(r store.TxRepos) error {
		var err error
		order, err = r.Orders().GetByID(ctx, orderID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, newNotFoundError("order_not_found", fmt.Sprintf("order %d not found", orderID), err)
	}
	if err != nil {
		return nil, newInternalError("failed to load order", err)
	}
	return order, nil
}

// PreviewCoupon evaluates a coupon against amount without recording usage
func (c *Coordinator) PreviewCoupon(ctx context.Context, userRef, code string, amount decimal.Decimal) (*CouponPreview, error) {
	ctx, span := util.StartSpan(ctx, "Coordinator.PreviewCoupon")
	defer span.End()

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, newValidationError("invalid_request", "coupon code is required")
	}
	if strings.TrimSpace(userRef) == "" {
		return nil, newValidationError("missing_user", "user identity is required")
	}
	if amount.IsNegative() {
		return nil, newValidationError("invalid_amount", "order amount must not be negative")
	}

	var preview *CouponPreview
	err := c.tx.WithinTx(ctx, func(r store.TxRepos) error {
		coupon, err := c.findCoupon(ctx, r.Coupons(), code)
		if err != nil {
			return err
		}
		discount, err := c.validator.Evaluate(coupon, userRef, amount, c.now())
		if err != nil {
			return err
		}
		preview = &CouponPreview{
			Code:        coupon.Code,
			Discount:    discount,
			FinalAmount: amount.Sub(discount),
		}
		return nil
	})
	if err != nil {
		return nil, AsOrderError(err)
	}
	return preview, nil
}

// CreateCoupon stores a new coupon
func (c *Coordinator) CreateCoupon(ctx context.Context, req *CreateCouponRequest) (*models.Coupon, error) {
	ctx, span := util.StartSpan(ctx, "Coordinator.CreateCoupon")
	defer span.End()

	coupon, verr := couponFromRequest(req)
	if verr != nil {
		return nil, verr
	}

	err := c.tx.WithinTx(ctx, func(r store.TxRepos) error {
		return r.Coupons().Create(ctx, coupon)
	})
	if errors.Is(err, store.ErrDuplicateCoupon) {
		return nil, newConflictError("duplicate_coupon", fmt.Sprintf("coupon %s already exists", coupon.Code), err)
	}
	if err != nil {
		return nil, newInternalError("failed to create coupon", err)
	}

	c.logger.Info("Coupon created", zap.Int64("coupon_id", coupon.ID), zap.String("code", coupon.Code))
	return coupon, nil
}

// GetStock returns the current stock level of a product
func (c *Coordinator) GetStock(ctx context.Context, productID int64) (int, error) {
	return c.ledger.GetStock(ctx, productID)
}

func (c *Coordinator) findCoupon(ctx context.Context, coupons store.CouponRepository, code string) (*models.Coupon, error) {
	coupon, err := coupons.FindByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		util.CouponRejectionsTotal.WithLabelValues("coupon_not_found").Inc()
		return nil, newNotFoundError("coupon_not_found", fmt.Sprintf("coupon %s not found", strings.ToUpper(code)), err)
	}
	if err != nil {
		return nil, newInternalError("failed to load coupon", err)
	}
	return coupon, nil
}

// lockPayment holds the in-flight lock for a payment reference. The returned
// release func is always safe to call.
func (c *Coordinator) lockPayment(ctx context.Context, paymentID string) (func(), error) {
	noop := func() {}
	if c.locker == nil {
		return noop, nil
	}

	key := "payment:" + paymentID
	token, ok, err := c.locker.AcquireLock(ctx, key, c.lockTTL)
	if err != nil {
		// the unique constraint still holds without the lock
		c.logger.Warn("Payment lock unavailable, relying on database",
			zap.String("payment_id", paymentID),
			zap.Error(err))
		return noop, nil
	}
	if !ok {
		return noop, newConflictError("payment_in_progress",
			fmt.Sprintf("an order for payment %s is already being placed", paymentID), store.ErrDuplicatePayment)
	}

	return func() {
		if err := c.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			c.logger.Warn("Failed to release payment lock",
				zap.String("payment_id", paymentID),
				zap.Error(err))
		}
	}, nil
}

func mapCouponUsageError(err error) error {
	switch {
	case errors.Is(err, store.ErrUsageLimitReached):
		util.CouponRejectionsTotal.WithLabelValues("coupon_usage_limit_reached").Inc()
		return newConflictError("coupon_usage_limit_reached", "coupon usage limit reached", err)
	case errors.Is(err, store.ErrPerUserLimitReached):
		util.CouponRejectionsTotal.WithLabelValues("coupon_per_user_limit_reached").Inc()
		return newConflictError("coupon_per_user_limit_reached", "you have already used this coupon", err)
	case errors.Is(err, store.ErrNotFound):
		return newNotFoundError("coupon_not_found", "coupon not found", err)
	default:
		return newInternalError("failed to record coupon usage", err)
	}
}

func validateCreateRequest(userRef string, req *CreateOrderRequest) *OrderError {
	if req == nil {
		return newValidationError("invalid_request", "request body is required")
	}
	if strings.TrimSpace(userRef) == "" {
		return newValidationError("missing_user", "user identity is required")
	}
	if len(req.OrderItems) == 0 {
		return newValidationError("invalid_request", "order must contain at least one item")
	}
	for i, item := range req.OrderItems {
		if item.ProductID <= 0 {
			return newValidationError("invalid_request", fmt.Sprintf("item %d has no product", i))
		}
		if item.Quantity <= 0 {
			return newValidationError("invalid_quantity", fmt.Sprintf("item %d quantity must be positive", i))
		}
		if item.UnitPrice.IsNegative() {
			return newValidationError("invalid_price", fmt.Sprintf("item %d price must not be negative", i))
		}
	}

	s := req.ShippingInfo
	required := map[string]string{
		"address": s.Address,
		"city":    s.City,
		"country": s.Country,
		"pinCode": s.PinCode,
		"phoneNo": s.PhoneNo,
	}
	for _, field := range []string{"address", "city", "country", "pinCode", "phoneNo"} {
		if strings.TrimSpace(required[field]) == "" {
			return newValidationError("invalid_shipping", fmt.Sprintf("shipping %s is required", field))
		}
	}

	if strings.TrimSpace(req.PaymentInfo.ID) == "" {
		return newValidationError("invalid_payment", "payment id is required")
	}
	if !req.TotalPrice.IsPositive() {
		return newValidationError("invalid_price", "total price must be positive")
	}
	return nil
}

func newOrder(userRef, paymentID string, req *CreateOrderRequest) *models.Order {
	items := make([]models.OrderItem, 0, len(req.OrderItems))
	for _, it := range req.OrderItems {
		items = append(items, models.OrderItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice.Round(2),
			Quantity:  it.Quantity,
		})
	}

	total := req.TotalPrice.Round(2)
	return &models.Order{
		UserRef:        userRef,
		Items:          items,
		ShippingInfo:   req.ShippingInfo,
		PaymentInfo:    models.PaymentInfo{ID: paymentID, Status: req.PaymentInfo.Status},
		TotalPrice:     total,
		DiscountAmount: decimal.Zero,
		FinalAmount:    total,
	}
}

func couponFromRequest(req *CreateCouponRequest) (*models.Coupon, *OrderError) {
	if req == nil {
		return nil, newValidationError("invalid_request", "request body is required")
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return nil, newValidationError("invalid_request", "coupon code is required")
	}

	switch req.DiscountType {
	case models.DiscountPercentage:
		if req.DiscountValue.GreaterThan(hundred) {
			return nil, newValidationError("invalid_discount", "percentage discount cannot exceed 100")
		}
	case models.DiscountFixed:
		if req.MaxDiscountAmount != nil {
			return nil, newValidationError("invalid_discount", "max discount applies to percentage coupons only")
		}
	default:
		return nil, newValidationError("invalid_discount", fmt.Sprintf("unknown discount type %q", req.DiscountType))
	}
	if !req.DiscountValue.IsPositive() {
		return nil, newValidationError("invalid_discount", "discount value must be positive")
	}
	if req.MinPurchaseAmount.IsNegative() {
		return nil, newValidationError("invalid_discount", "minimum purchase amount must not be negative")
	}
	if req.MaxDiscountAmount != nil && !req.MaxDiscountAmount.IsPositive() {
		return nil, newValidationError("invalid_discount", "max discount amount must be positive")
	}
	if req.ExpiryDate.IsZero() {
		return nil, newValidationError("invalid_request", "expiry date is required")
	}
	if req.UsageLimit != nil && *req.UsageLimit < 1 {
		return nil, newValidationError("invalid_limit", "usage limit must be at least 1")
	}

	perUser := req.PerUserLimit
	if perUser == 0 {
		perUser = 1
	}
	if perUser < 0 {
		return nil, newValidationError("invalid_limit", "per-user limit must be at least 1")
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	return &models.Coupon{
		Code:              code,
		DiscountType:      req.DiscountType,
		DiscountValue:     req.DiscountValue,
		MinPurchaseAmount: req.MinPurchaseAmount,
		MaxDiscountAmount: req.MaxDiscountAmount,
		UsageLimit:        req.UsageLimit,
		PerUserLimit:      perUser,
		ExpiryDate:        req.ExpiryDate.UTC(),
		IsActive:          active,
		UsedBy:            []models.CouponUsage{},
	}, nil
}

func productIDs(items []models.OrderItem) []int64 {
	ids := make([]int64, 0, len(items))
	seen := make(map[int64]bool, len(items))
	for _, it := range items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}
	return ids
}
