package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"order-fulfillment/internal/models"

	"github.com/jmoiron/sqlx"
)

type productRepo struct {
	q sqlx.ExtContext
}

// List retrieves all products
func (r *productRepo) List(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := sqlx.SelectContext(ctx, r.q, &products, "SELECT id, name, price, stock, created_at FROM products ORDER BY id")
	return products, err
}

// GetStock retrieves the on-hand quantity for a product
func (r *productRepo) GetStock(ctx context.Context, productID int64) (int, error) {
	var stock int
	err := sqlx.GetContext(ctx, r.q, &stock, "SELECT stock FROM products WHERE id = $1", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	return stock, err
}

// ConditionalDecrement decrements stock only if enough is on hand
func (r *productRepo) ConditionalDecrement(ctx context.Context, productID int64, qty int) error {
	res, err := r.q.ExecContext(ctx,
		"UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1",
		qty, productID)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// distinguish a missing product from a short one
		stock, err := r.GetStock(ctx, productID)
		if err != nil {
			return err
		}
		return fmt.Errorf("product %d: available=%d, requested=%d: %w", productID, stock, qty, ErrInsufficientStock)
	}
	return nil
}

// Decrement decrements stock without a floor check
func (r *productRepo) Decrement(ctx context.Context, productID int64, qty int) error {
	return r.add(ctx, productID, -qty)
}

// Increment adds stock back
func (r *productRepo) Increment(ctx context.Context, productID int64, qty int) error {
	return r.add(ctx, productID, qty)
}

func (r *productRepo) add(ctx context.Context, productID int64, delta int) error {
	res, err := r.q.ExecContext(ctx,
		"UPDATE products SET stock = stock + $1 WHERE id = $2", delta, productID)
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	return nil
}
