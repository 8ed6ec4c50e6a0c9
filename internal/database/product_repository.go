package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HarbingerOfTheEnd/PricePulse/internal/domain"
)

// ProductRepo implements domain.ProductRepository and domain.HistoryStore
// backed by PostgreSQL.
type ProductRepo struct {
	pool *pgxpool.Pool
}

func NewProductRepo(pool *pgxpool.Pool) *ProductRepo {
	return &ProductRepo{pool: pool}
}

func (r *ProductRepo) Insert(ctx context.Context, product *domain.TrackedProduct) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO tracked_products (name, product_url, issued_by_id)
		VALUES ($1, $2, $3)
		RETURNING id
	`, product.Name, product.URL, product.UserID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert tracked product: %w", err)
	}
	return id, nil
}

func (r *ProductRepo) GetByID(ctx context.Context, productID, userID int64) (*domain.TrackedProduct, error) {
	var product domain.TrackedProduct
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, product_url, issued_by_id, created_at
		FROM tracked_products
		WHERE id = $1 AND issued_by_id = $2
	`, productID, userID).Scan(&product.ID, &product.Name, &product.URL, &product.UserID, &product.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tracked product: %w", err)
	}

	return &product, nil
}

func (r *ProductRepo) ListByUser(ctx context.Context, userID int64) ([]domain.TrackedProduct, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, product_url, issued_by_id, created_at
		FROM tracked_products
		WHERE issued_by_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked products: %w", err)
	}
	defer rows.Close()

	var products []domain.TrackedProduct
	for rows.Next() {
		var p domain.TrackedProduct
		if err := rows.Scan(&p.ID, &p.Name, &p.URL, &p.UserID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tracked product: %w", err)
		}
		products = append(products, p)
	}

	return products, rows.Err()
}

func (r *ProductRepo) Delete(ctx context.Context, productID, userID int64) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM tracked_products
		WHERE id = $1 AND issued_by_id = $2
	`, productID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete tracked product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (r *ProductRepo) ListPrices(ctx context.Context, productID, userID int64) ([]domain.ProductPrice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.product_id, p.price, p.price_at
		FROM product_prices p
		JOIN tracked_products t ON t.id = p.product_id
		WHERE p.product_id = $1 AND t.issued_by_id = $2
		ORDER BY p.price_at
	`, productID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prices: %w", err)
	}
	defer rows.Close()

	var prices []domain.ProductPrice
	for rows.Next() {
		var p domain.ProductPrice
		if err := rows.Scan(&p.ID, &p.ProductID, &p.Price, &p.PriceAt); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		prices = append(prices, p)
	}

	return prices, rows.Err()
}

// SavePriceHistory inserts one price observation and returns the name of
// the product it belongs to.
func (r *ProductRepo) SavePriceHistory(ctx context.Context, productID int64, price float64, at time.Time) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `
		WITH inserted AS (
			INSERT INTO product_prices (product_id, price, price_at)
			VALUES ($1, $2, $3)
		)
		SELECT name FROM tracked_products WHERE id = $1
	`, productID, price, at).Scan(&name)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrProductNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to save price history: %w", err)
	}

	return name, nil
}
