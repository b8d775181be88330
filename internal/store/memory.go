package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"order-fulfillment/internal/models"
)

// MemoryStore is an in-process TxManager. Transactions are serialized and a
// failed transaction restores the snapshot taken when it began.
type MemoryStore struct {
	mu        sync.Mutex
	state     *memState
	processed map[string]string
}

type memState struct {
	nextOrderID  int64
	nextCouponID int64
	orders       map[int64]*models.Order
	paymentIndex map[string]int64
	coupons      map[int64]*models.Coupon
	couponCodes  map[string]int64
	products     map[int64]*models.Product
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			orders:       make(map[int64]*models.Order),
			paymentIndex: make(map[string]int64),
			coupons:      make(map[int64]*models.Coupon),
			couponCodes:  make(map[string]int64),
			products:     make(map[int64]*models.Product),
		},
		processed: make(map[string]string),
	}
}

func (st *memState) clone() *memState {
	c := &memState{
		nextOrderID:  st.nextOrderID,
		nextCouponID: st.nextCouponID,
		orders:       make(map[int64]*models.Order, len(st.orders)),
		paymentIndex: make(map[string]int64, len(st.paymentIndex)),
		coupons:      make(map[int64]*models.Coupon, len(st.coupons)),
		couponCodes:  make(map[string]int64, len(st.couponCodes)),
		products:     make(map[int64]*models.Product, len(st.products)),
	}
	for id, o := range st.orders {
		c.orders[id] = o.Clone()
	}
	for k, v := range st.paymentIndex {
		c.paymentIndex[k] = v
	}
	for id, cp := range st.coupons {
		c.coupons[id] = cp.Clone()
	}
	for k, v := range st.couponCodes {
		c.couponCodes[k] = v
	}
	for id, p := range st.products {
		pc := *p
		c.products[id] = &pc
	}
	return c
}

// PutProduct inserts or replaces a product
func (s *MemoryStore) PutProduct(p models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.state.products[p.ID] = &p
}

// WithinTx runs fn with exclusive access to the store
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(r TxRepos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.state.clone()
	if err := fn(&memRepos{st: s.state}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// IsEventProcessed checks if an event has been processed
func (s *MemoryStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[eventID]
	return ok, nil
}

// MarkEventProcessed marks an event as processed
func (s *MemoryStore) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[eventID] = eventType
	return nil
}

type memRepos struct {
	st *memState
}

func (r *memRepos) Orders() OrderRepository     { return (*memOrders)(r) }
func (r *memRepos) Coupons() CouponRepository   { return (*memCoupons)(r) }
func (r *memRepos) Products() ProductRepository { return (*memProducts)(r) }

type memOrders memRepos

func (r *memOrders) ExistsByPaymentID(_ context.Context, paymentID string) (bool, error) {
	_, ok := r.st.paymentIndex[paymentID]
	return ok, nil
}

func (r *memOrders) Create(_ context.Context, order *models.Order) error {
	if _, ok := r.st.paymentIndex[order.PaymentInfo.ID]; ok {
		return fmt.Errorf("payment %s: %w", order.PaymentInfo.ID, ErrDuplicatePayment)
	}
	for _, item := range order.Items {
		if _, ok := r.st.products[item.ProductID]; !ok {
			return fmt.Errorf("product %d: %w", item.ProductID, ErrNotFound)
		}
	}

	r.st.nextOrderID++
	now := time.Now().UTC()
	order.ID = r.st.nextOrderID
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
		order.Items[i].ID = int64(i + 1)
	}

	r.st.orders[order.ID] = order.Clone()
	r.st.paymentIndex[order.PaymentInfo.ID] = order.ID
	return nil
}

func (r *memOrders) GetByID(_ context.Context, id int64) (*models.Order, error) {
	o, ok := r.st.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return o.Clone(), nil
}

func (r *memOrders) GetByIDForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return r.GetByID(ctx, id)
}

func (r *memOrders) SaveStatus(_ context.Context, order *models.Order, entry models.StatusHistoryEntry) error {
	stored, ok := r.st.orders[order.ID]
	if !ok {
		return fmt.Errorf("order %d: %w", order.ID, ErrNotFound)
	}
	history := append(stored.StatusHistory, entry)

	updated := order.Clone()
	updated.Items = stored.Items
	updated.StatusHistory = history
	r.st.orders[order.ID] = updated
	return nil
}

type memCoupons memRepos

func (r *memCoupons) FindByCode(_ context.Context, code string) (*models.Coupon, error) {
	id, ok := r.st.couponCodes[normalizeCode(code)]
	if !ok {
		return nil, fmt.Errorf("coupon %q: %w", code, ErrNotFound)
	}
	return r.st.coupons[id].Clone(), nil
}

func (r *memCoupons) ConditionalIncrementUsage(_ context.Context, couponID int64, usage models.CouponUsage) error {
	c, ok := r.st.coupons[couponID]
	if !ok {
		return fmt.Errorf("coupon %d: %w", couponID, ErrNotFound)
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return ErrUsageLimitReached
	}

	used := 0
	for _, u := range c.UsedBy {
		if u.UserRef == usage.UserRef {
			used++
		}
	}
	if used >= c.PerUserLimit {
		return ErrPerUserLimitReached
	}

	c.UsageCount++
	c.UsedBy = append(c.UsedBy, usage)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memCoupons) Create(_ context.Context, c *models.Coupon) error {
	c.Code = normalizeCode(c.Code)
	if _, ok := r.st.couponCodes[c.Code]; ok {
		return fmt.Errorf("coupon %q: %w", c.Code, ErrDuplicateCoupon)
	}

	r.st.nextCouponID++
	now := time.Now().UTC()
	c.ID = r.st.nextCouponID
	c.UsageCount = 0
	c.UsedBy = []models.CouponUsage{}
	c.CreatedAt = now
	c.UpdatedAt = now

	r.st.coupons[c.ID] = c.Clone()
	r.st.couponCodes[c.Code] = c.ID
	return nil
}

type memProducts memRepos

func (r *memProducts) List(_ context.Context) ([]models.Product, error) {
	products := make([]models.Product, 0, len(r.st.products))
	for _, p := range r.st.products {
		products = append(products, *p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (r *memProducts) GetStock(_ context.Context, productID int64) (int, error) {
	p, ok := r.st.products[productID]
	if !ok {
		return 0, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	return p.Stock, nil
}

func (r *memProducts) ConditionalDecrement(_ context.Context, productID int64, qty int) error {
	p, ok := r.st.products[productID]
	if !ok {
		return fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	if p.Stock < qty {
		return fmt.Errorf("product %d: available=%d, requested=%d: %w", productID, p.Stock, qty, ErrInsufficientStock)
	}
	p.Stock -= qty
	return nil
}

func (r *memProducts) Decrement(_ context.Context, productID int64, qty int) error {
	return r.add(productID, -qty)
}

func (r *memProducts) Increment(_ context.Context, productID int64, qty int) error {
	return r.add(productID, qty)
}

func (r *memProducts) add(productID int64, delta int) error {
	p, ok := r.st.products[productID]
	if !ok {
		return fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	p.Stock += delta
	return nil
}
