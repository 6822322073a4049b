package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string           `db:"id" json:"id"`
	Name        string           `db:"name" json:"name"`
	NameFr      string           `db:"name_fr" json:"name_fr,omitempty"`
	NameAr      string           `db:"name_ar" json:"name_ar,omitempty"`
	Description string           `db:"description" json:"description,omitempty"`
	Price       decimal.Decimal  `db:"price" json:"price"`
	ImageURL    string           `db:"image_url" json:"image_url,omitempty"`
	Rating      *float64         `db:"rating" json:"rating,omitempty"`
	ReviewCount *int             `db:"review_count" json:"review_count,omitempty"`
	Active      bool             `db:"active" json:"active"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
	Images      []ProductImage   `db:"-" json:"images,omitempty"`
	Variants    []ProductVariant `db:"-" json:"variants,omitempty"`
}

type ProductImage struct {
	ID        int64  `db:"id" json:"id"`
	ProductID string `db:"product_id" json:"product_id"`
	URL       string `db:"url" json:"url"`
	Position  int    `db:"position" json:"position"`
}

type ProductVariant struct {
	ID        int64            `db:"id" json:"id"`
	ProductID string           `db:"product_id" json:"product_id"`
	Name      string           `db:"name" json:"name"`
	Price     *decimal.Decimal `db:"price" json:"price,omitempty"`
}

// Discount is a percentage reduction on one product, valid inside an optional
// time window while Active is set.
type Discount struct {
	ID              string          `db:"id" json:"id"`
	ProductID       string          `db:"product_id" json:"product_id"`
	DiscountPercent decimal.Decimal `db:"discount_percent" json:"discount_percent"`
	StartsAt        *time.Time      `db:"starts_at" json:"starts_at,omitempty"`
	EndsAt          *time.Time      `db:"ends_at" json:"ends_at,omitempty"`
	Active          bool            `db:"active" json:"active"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

type CartItem struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	NameFr      string          `json:"name_fr,omitempty"`
	NameAr      string          `json:"name_ar,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Image       string          `json:"image,omitempty"`
	Quantity    int             `json:"quantity"`
	Rating      *float64        `json:"rating,omitempty"`
	ReviewCount *int            `json:"review_count,omitempty"`
}

func (i CartItem) LineSubtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Customer holds the contact and shipping fields entered at checkout.
type Customer struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state,omitempty"`
	Zip       string `json:"zip,omitempty"`
	Country   string `json:"country"`
}

func (c Customer) DisplayName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

type Order struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	OrderNumber    string          `db:"order_number" json:"order_number"`
	UserID         *string         `db:"user_id" json:"user_id,omitempty"`
	Email          string          `db:"email" json:"email"`
	FirstName      string          `db:"first_name" json:"first_name"`
	LastName       string          `db:"last_name" json:"last_name"`
	Phone          string          `db:"phone" json:"phone,omitempty"`
	Address        string          `db:"address" json:"address"`
	City           string          `db:"city" json:"city"`
	State          string          `db:"state" json:"state,omitempty"`
	Zip            string          `db:"zip" json:"zip,omitempty"`
	Country        string          `db:"country" json:"country"`
	Subtotal       decimal.Decimal `db:"subtotal" json:"subtotal"`
	Discount       decimal.Decimal `db:"discount" json:"discount"`
	ShippingCost   decimal.Decimal `db:"shipping_cost" json:"shipping_cost"`
	Tax            decimal.Decimal `db:"tax" json:"tax"`
	Total          decimal.Decimal `db:"total" json:"total"`
	OrderNotes     *string         `db:"order_notes" json:"order_notes,omitempty"`
	Status         OrderStatus     `db:"status" json:"status"`
	PaymentStatus  PaymentStatus   `db:"payment_status" json:"payment_status"`
	Locale         string          `db:"locale" json:"locale"`
	IdempotencyKey *string         `db:"idempotency_key" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
	Items          []OrderItem     `db:"-" json:"items,omitempty"`
}

func (o *Order) SetCustomer(c Customer) {
	o.Email = c.Email
	o.FirstName = c.FirstName
	o.LastName = c.LastName
	o.Phone = c.Phone
	o.Address = c.Address
	o.City = c.City
	o.State = c.State
	o.Zip = c.Zip
	o.Country = c.Country
}

func (o Order) CustomerName() string {
	return strings.TrimSpace(o.FirstName + " " + o.LastName)
}

type OrderItem struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	OrderID       uuid.UUID       `db:"order_id" json:"order_id"`
	Position      int             `db:"position" json:"position"`
	ProductID     string          `db:"product_id" json:"product_id"`
	ProductName   string          `db:"product_name" json:"product_name"`
	ProductNameFr string          `db:"product_name_fr" json:"product_name_fr,omitempty"`
	ProductNameAr string          `db:"product_name_ar" json:"product_name_ar,omitempty"`
	ProductImage  string          `db:"product_image" json:"product_image,omitempty"`
	Quantity      int             `db:"quantity" json:"quantity"`
	UnitPrice     decimal.Decimal `db:"unit_price" json:"unit_price"`
	Subtotal      decimal.Decimal `db:"subtotal" json:"subtotal"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}
