package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/safar/storefront/internal/models"
)

const discountColumns = `id, product_id, discount_percent, starts_at, ends_at, active, created_at`

func CreateDiscount(ctx context.Context, db *sqlx.DB, d models.Discount) (*models.Discount, error) {
	discount := &models.Discount{}

	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO product_discounts (id, product_id, discount_percent, starts_at, ends_at, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + discountColumns

	err := db.QueryRowxContext(ctx, query,
		d.ID, d.ProductID, d.DiscountPercent, d.StartsAt, d.EndsAt, d.Active, d.CreatedAt,
	).StructScan(discount)
	if err != nil {
		return nil, fmt.Errorf("create discount: %w", err)
	}

	return discount, nil
}

// ListActiveDiscounts returns the discounts for productIDs that are active and
// inside their window at the given instant, newest first per product.
func ListActiveDiscounts(ctx context.Context, db *sqlx.DB, productIDs []string, at time.Time) ([]models.Discount, error) {
	discounts := []models.Discount{}
	if len(productIDs) == 0 {
		return discounts, nil
	}

	query := `
		SELECT ` + discountColumns + `
		FROM product_discounts
		WHERE product_id = ANY($1)
		  AND active
		  AND (starts_at IS NULL OR starts_at <= $2)
		  AND (ends_at IS NULL OR ends_at >= $2)
		ORDER BY product_id, created_at DESC`

	if err := db.SelectContext(ctx, &discounts, query, pq.Array(productIDs), at); err != nil {
		return nil, fmt.Errorf("list active discounts: %w", err)
	}

	return discounts, nil
}

// Discounts binds the discount queries to a connection pool.
type Discounts struct {
	DB *sqlx.DB
}

func (d Discounts) ActiveDiscounts(ctx context.Context, productIDs []string, at time.Time) ([]models.Discount, error) {
	return ListActiveDiscounts(ctx, d.DB, productIDs, at)
}
