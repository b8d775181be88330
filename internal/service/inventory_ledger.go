package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-fulfillment/internal/store"
	"order-fulfillment/internal/util"

	"go.uber.org/zap"
)

// StockCache holds a read-only view of committed stock levels
type StockCache interface {
	CacheStock(ctx context.Context, productID int64, stock int, ttl time.Duration) error
	CachedStock(ctx context.Context, productID int64) (int, bool, error)
	InvalidateStock(ctx context.Context, productID int64) error
}

// InventoryLedger owns stock mutation for products. Writes always go through
// the repositories of the caller's transaction; the cache is refreshed only
// after commit.
type InventoryLedger struct {
	tx             store.TxManager
	cache          StockCache
	allowBackorder bool
	cacheTTL       time.Duration
	logger         *zap.Logger
}

// NewInventoryLedger creates an inventory ledger. cache may be nil.
func NewInventoryLedger(tx store.TxManager, cache StockCache, allowBackorder bool, cacheTTL time.Duration, logger *zap.Logger) *InventoryLedger {
	return &InventoryLedger{
		tx:             tx,
		cache:          cache,
		allowBackorder: allowBackorder,
		cacheTTL:       cacheTTL,
		logger:         logger,
	}
}

// Decrement removes qty units of a product from stock
func (l *InventoryLedger) Decrement(ctx context.Context, products store.ProductRepository, productID int64, qty int) error {
	if qty <= 0 {
		return newValidationError("invalid_quantity", fmt.Sprintf("quantity for product %d must be positive", productID))
	}

	var err error
	if l.allowBackorder {
		err = products.Decrement(ctx, productID, qty)
	} else {
		err = products.ConditionalDecrement(ctx, productID, qty)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return newNotFoundError("product_not_found", fmt.Sprintf("product %d not found", productID), err)
	case errors.Is(err, store.ErrInsufficientStock):
		return newConflictError("insufficient_stock", fmt.Sprintf("insufficient stock for product %d", productID), err)
	default:
		return newInternalError("failed to decrement stock", err)
	}
}

// Restore returns qty units of a product to stock
func (l *InventoryLedger) Restore(ctx context.Context, products store.ProductRepository, productID int64, qty int) error {
	err := products.Increment(ctx, productID, qty)
	if errors.Is(err, store.ErrNotFound) {
		return newNotFoundError("product_not_found", fmt.Sprintf("product %d not found", productID), err)
	}
	if err != nil {
		return newInternalError("failed to restore stock", err)
	}
	util.StockUnitsRestoredTotal.Add(float64(qty))
	return nil
}

// GetStock returns the stock level of a product, cache first
func (l *InventoryLedger) GetStock(ctx context.Context, productID int64) (int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.GetStock")
	defer span.End()

	if l.cache != nil {
		stock, ok, err := l.cache.CachedStock(ctx, productID)
		if err != nil {
			l.logger.Warn("Stock cache read failed, falling back to DB",
				zap.Int64("product_id", productID),
				zap.Error(err))
		} else if ok {
			return stock, nil
		}
	}

	var stock int
	err := l.tx.WithinTx(ctx, func(r store.TxRepos) error {
		var err error
		stock, err = r.Products().GetStock(ctx, productID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return 0, newNotFoundError("product_not_found", fmt.Sprintf("product %d not found", productID), err)
	}
	if err != nil {
		return 0, newInternalError("failed to read stock", err)
	}

	l.cacheStock(ctx, productID, stock)
	return stock, nil
}

// RefreshCache copies committed stock levels into the cache
func (l *InventoryLedger) RefreshCache(ctx context.Context, productIDs []int64) {
	if l.cache == nil || len(productIDs) == 0 {
		return
	}

	levels := make(map[int64]int, len(productIDs))
	err := l.tx.WithinTx(ctx, func(r store.TxRepos) error {
		for _, id := range productIDs {
			stock, err := r.Products().GetStock(ctx, id)
			if err != nil {
				return err
			}
			levels[id] = stock
		}
		return nil
	})
	if err != nil {
		// drop entries that may now be stale
		l.logger.Warn("Failed to read stock for cache refresh", zap.Error(err))
		for _, id := range productIDs {
			_ = l.cache.InvalidateStock(ctx, id)
		}
		return
	}

	for id, stock := range levels {
		l.cacheStock(ctx, id, stock)
	}
}

// WarmCache loads every product's stock into the cache
func (l *InventoryLedger) WarmCache(ctx context.Context) error {
	if l.cache == nil {
		return nil
	}
	l.logger.Info("Starting stock cache warm-up")

	var ids []int64
	err := l.tx.WithinTx(ctx, func(r store.TxRepos) error {
		products, err := r.Products().List(ctx)
		if err != nil {
			return err
		}
		for _, p := range products {
			ids = append(ids, p.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list products: %w", err)
	}

	l.RefreshCache(ctx, ids)
	l.logger.Info("Stock cache warm-up completed", zap.Int("count", len(ids)))
	return nil
}

func (l *InventoryLedger) cacheStock(ctx context.Context, productID int64, stock int) {
	if l.cache == nil {
		return
	}
	if err := l.cache.CacheStock(ctx, productID, stock, l.cacheTTL); err != nil {
		l.logger.Warn("Failed to cache stock",
			zap.Int64("product_id", productID),
			zap.Error(err))
	}
}
