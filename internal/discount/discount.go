// Package discount resolves the active percentage discount of catalog
// products.
package discount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// Source returns discount rows for a set of products in a single round trip.
// Implementations may prefilter by validity at the given instant; the
// resolver re-checks every row regardless.
type Source interface {
	ActiveDiscounts(ctx context.Context, productIDs []string, at time.Time) ([]models.Discount, error)
}

type Resolver struct {
	source Source
	now    func() time.Time
	logger *zap.Logger
}

type ResolverDeps struct {
	Source Source
	Now    func() time.Time
	Logger *zap.Logger
}

func NewResolver(deps ResolverDeps) (*Resolver, error) {
	if deps.Source == nil {
		return nil, errors.New("discount resolver: source is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{source: deps.Source, now: now, logger: logger}, nil
}

// ActiveProductDiscount returns the discount currently applying to productID,
// or nil when there is none.
func (r *Resolver) ActiveProductDiscount(ctx context.Context, productID string) (*models.Discount, error) {
	found, err := r.ActiveProductDiscounts(ctx, []string{productID})
	if err != nil {
		return nil, err
	}
	d, ok := found[productID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

// ActiveProductDiscounts resolves every product in one call to the source.
// Products without a valid discount are absent from the result.
func (r *Resolver) ActiveProductDiscounts(ctx context.Context, productIDs []string) (map[string]models.Discount, error) {
	result := make(map[string]models.Discount)

	ids := dedupe(productIDs)
	if len(ids) == 0 {
		return result, nil
	}

	now := r.now()
	rows, err := r.source.ActiveDiscounts(ctx, ids, now)
	if err != nil {
		return nil, fmt.Errorf("resolve discounts: %w", err)
	}

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	for _, d := range rows {
		if _, ok := wanted[d.ProductID]; !ok {
			continue
		}
		if !IsValid(d, now) {
			continue
		}
		if current, ok := result[d.ProductID]; ok && !d.CreatedAt.After(current.CreatedAt) {
			continue
		}
		result[d.ProductID] = d
	}

	r.logger.Debug("resolved discounts",
		zap.Int("requested", len(ids)),
		zap.Int("active", len(result)))

	return result, nil
}

// IsValid reports whether d applies at now. Both window bounds are inclusive.
func IsValid(d models.Discount, now time.Time) bool {
	if !d.Active {
		return false
	}
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return false
	}
	if d.EndsAt != nil && now.After(*d.EndsAt) {
		return false
	}
	return true
}

// CalculateDiscountedPrice applies percent to base. Percentages outside
// (0, 100] leave base unchanged.
func CalculateDiscountedPrice(base, percent decimal.Decimal) decimal.Decimal {
	if percent.LessThanOrEqual(decimal.Zero) || percent.GreaterThan(hundred) {
		return base
	}
	return base.Mul(hundred.Sub(percent)).Div(hundred)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
