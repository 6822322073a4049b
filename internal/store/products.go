package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
)

const productColumns = `id, name, name_fr, name_ar, description, price, image_url, rating, review_count, active, created_at, updated_at`

// CreateProduct inserts a catalog row. The storefront itself never writes
// products; this exists for seeding and tests.
func CreateProduct(ctx context.Context, db *sqlx.DB, p models.Product) (*models.Product, error) {
	product := &models.Product{}

	query := `
		INSERT INTO products (id, name, name_fr, name_ar, description, price, image_url, rating, review_count, active, created_at, updated_at)
		VALUES (:id, :name, :name_fr, :name_ar, :description, :price, :image_url, :rating, :review_count, :active, NOW(), NOW())
		RETURNING ` + productColumns

	rows, err := db.NamedQueryContext(ctx, query, p)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("create product: %w", err)
		}
		return nil, fmt.Errorf("create product: no row returned")
	}
	if err := rows.StructScan(product); err != nil {
		return nil, fmt.Errorf("scan product: %w", err)
	}

	return product, nil
}

func AddProductImage(ctx context.Context, db *sqlx.DB, productID, url string, position int) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO product_images (product_id, url, position) VALUES ($1, $2, $3)`,
		productID, url, position)
	if err != nil {
		return fmt.Errorf("add product image: %w", err)
	}
	return nil
}

func GetProduct(ctx context.Context, db *sqlx.DB, id string) (*models.Product, error) {
	product := &models.Product{}

	err := db.GetContext(ctx, product, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	err = db.SelectContext(ctx, &product.Images,
		`SELECT id, product_id, url, position FROM product_images WHERE product_id = $1 ORDER BY position, id`, id)
	if err != nil {
		return nil, fmt.Errorf("get product images: %w", err)
	}

	err = db.SelectContext(ctx, &product.Variants,
		`SELECT id, product_id, name, price FROM product_variants WHERE product_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("get product variants: %w", err)
	}

	return product, nil
}

func ListProducts(ctx context.Context, db *sqlx.DB, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.GetContext(ctx, &total, `SELECT COUNT(*) FROM products WHERE active`)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE active
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2`

	products := []models.Product{}
	if err := db.SelectContext(ctx, &products, query, pageSize, offset); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	return newOffsetPage(products, total, page, pageSize), nil
}

// Catalog adapts the product queries to the read-only catalog interface used by
// the HTTP layer.
type Catalog struct {
	DB *sqlx.DB
}

func (c Catalog) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return GetProduct(ctx, c.DB, id)
}

func (c Catalog) ListProducts(ctx context.Context, page, pageSize int) (*OffsetPage, error) {
	return ListProducts(ctx, c.DB, page, pageSize)
}
