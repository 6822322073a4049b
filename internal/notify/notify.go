// Package notify delivers order confirmations.
package notify

import (
	"context"
	"errors"

	"github.com/safar/storefront/internal/models"
)

// Confirmation is the payload accepted by the confirmation endpoint and
// published on the confirmation topic.
type Confirmation struct {
	Order        models.Order       `json:"order"`
	Items        []models.OrderItem `json:"orderItems"`
	CustomerName string             `json:"customerName"`
}

func (c Confirmation) Validate() error {
	if c.Order.OrderNumber == "" {
		return errors.New("confirmation: order number is required")
	}
	if c.Order.Email == "" {
		return errors.New("confirmation: customer email is required")
	}
	if len(c.Items) == 0 {
		return errors.New("confirmation: order has no items")
	}
	return nil
}

// Result is the response body of the confirmation endpoint.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, c Confirmation) error
}

type Nop struct{}

func (Nop) Dispatch(context.Context, Confirmation) error { return nil }
