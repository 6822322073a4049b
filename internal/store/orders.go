package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
)

const orderColumns = `id, order_number, user_id, email, first_name, last_name, phone, address, city, state, zip, country,
	subtotal, discount, shipping_cost, tax, total, order_notes, status, payment_status, locale, idempotency_key,
	created_at, updated_at`

const orderItemColumns = `id, order_id, position, product_id, product_name, product_name_fr, product_name_ar,
	product_image, quantity, unit_price, subtotal, created_at`

func generateOrderNumber() string {
	return "ORD-" + ulid.Make().String()
}

// CreateOrder inserts the order header. When the order carries an idempotency
// key that was already used, the previously stored order is returned instead
// of a new row.
func CreateOrder(ctx context.Context, db *sqlx.DB, order models.Order) (*models.Order, error) {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.OrderNumber == "" {
		order.OrderNumber = generateOrderNumber()
	}
	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}
	if order.PaymentStatus == "" {
		order.PaymentStatus = models.PaymentStatusPending
	}

	created := &models.Order{}

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO orders (id, order_number, user_id, email, first_name, last_name, phone, address, city, state, zip, country,
				subtotal, discount, shipping_cost, tax, total, order_notes, status, payment_status, locale, idempotency_key,
				created_at, updated_at)
			VALUES (:id, :order_number, :user_id, :email, :first_name, :last_name, :phone, :address, :city, :state, :zip, :country,
				:subtotal, :discount, :shipping_cost, :tax, :total, :order_notes, :status, :payment_status, :locale, :idempotency_key,
				NOW(), NOW())
			ON CONFLICT (idempotency_key) DO NOTHING
			RETURNING ` + orderColumns

		rows, err := sqlx.NamedQueryContext(ctx, tx, query, order)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		inserted := rows.Next()
		if inserted {
			err = rows.StructScan(created)
		}
		if err == nil {
			err = rows.Err()
		}
		rows.Close()
		if err != nil {
			return fmt.Errorf("scan created order: %w", err)
		}
		if inserted {
			return nil
		}

		if order.IdempotencyKey == nil {
			return fmt.Errorf("create order: no row returned")
		}
		err = tx.GetContext(ctx, created,
			`SELECT `+orderColumns+` FROM orders WHERE idempotency_key = $1`, *order.IdempotencyKey)
		if err != nil {
			return fmt.Errorf("fetch existing order: %w", err)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return created, nil
}

// CreateOrderItems attaches line items to an existing order. Items already
// stored at the same position are left untouched so a retried call is a no-op.
func CreateOrderItems(ctx context.Context, db *sqlx.DB, orderID uuid.UUID, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	return database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareNamedContext(ctx, `
			INSERT INTO order_items (id, order_id, position, product_id, product_name, product_name_fr, product_name_ar,
				product_image, quantity, unit_price, subtotal, created_at)
			VALUES (:id, :order_id, :position, :product_id, :product_name, :product_name_fr, :product_name_ar,
				:product_image, :quantity, :unit_price, :subtotal, NOW())
			ON CONFLICT (order_id, position) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("prepare order item insert: %w", err)
		}
		defer stmt.Close()

		for _, item := range items {
			if item.ID == uuid.Nil {
				item.ID = uuid.New()
			}
			item.OrderID = orderID

			if _, err := stmt.ExecContext(ctx, item); err != nil {
				return fmt.Errorf("create order item %d: %w", item.Position, err)
			}
		}

		return nil
	})
}

func DeleteOrder(ctx context.Context, db *sqlx.DB, id uuid.UUID) error {
	result, err := db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrOrderNotFound
	}

	return nil
}

func GetOrder(ctx context.Context, db *sqlx.DB, id uuid.UUID) (*models.Order, error) {
	order := &models.Order{}

	err := db.GetContext(ctx, order, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items := []models.OrderItem{}
	err = db.SelectContext(ctx, &items,
		`SELECT `+orderItemColumns+` FROM order_items WHERE order_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	order.Items = items

	return order, nil
}

func ListOrdersCursor(ctx context.Context, db *sqlx.DB, userID string, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	orders := []models.Order{}
	err = db.SelectContext(ctx, &orders, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// Orders binds the order queries to a connection pool.
type Orders struct {
	DB *sqlx.DB
}

func (o Orders) CreateOrder(ctx context.Context, order models.Order) (models.Order, error) {
	created, err := CreateOrder(ctx, o.DB, order)
	if err != nil {
		return models.Order{}, err
	}
	return *created, nil
}

func (o Orders) CreateOrderItems(ctx context.Context, orderID uuid.UUID, items []models.OrderItem) error {
	return CreateOrderItems(ctx, o.DB, orderID, items)
}

func (o Orders) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	return DeleteOrder(ctx, o.DB, id)
}

func (o Orders) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return GetOrder(ctx, o.DB, id)
}

func (o Orders) ListOrders(ctx context.Context, userID, cursor string, limit int) (*CursorPage, error) {
	return ListOrdersCursor(ctx, o.DB, userID, cursor, limit)
}
