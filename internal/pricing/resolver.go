// Package pricing computes shipping cost, tax rate and order totals for a
// checkout.
package pricing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Source answers shipping and tax lookups. Resolver is the table-backed
// implementation; remote rate services satisfy the same interface.
type Source interface {
	CalculateShipping(ctx context.Context, country string, subtotal decimal.Decimal, method Method) (decimal.Decimal, error)
	CountryTaxRate(ctx context.Context, country string) (decimal.Decimal, error)
}

type Resolver struct {
	table  *Table
	logger *zap.Logger
}

func NewResolver(table *Table, logger *zap.Logger) (*Resolver, error) {
	if table == nil {
		return nil, errors.New("pricing resolver: table is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{table: table, logger: logger}, nil
}

// CalculateShipping returns zero above the country's free shipping threshold,
// the matching tier cost when tiers are configured, and the base cost
// otherwise. Unknown countries use the default country's rules and an
// unconfigured method falls back to standard shipping.
func (r *Resolver) CalculateShipping(ctx context.Context, country string, subtotal decimal.Decimal, method Method) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	if _, ok := r.table.country(country); !ok {
		r.logger.Debug("unknown shipping country, using default",
			zap.String("country", country),
			zap.String("default_country", r.table.DefaultCountry))
	}
	return r.table.rule(country, method).Cost(subtotal), nil
}

func (r *Resolver) CountryTaxRate(ctx context.Context, country string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	return r.table.taxRate(country), nil
}

func (r *Resolver) DefaultCountry() string {
	return r.table.DefaultCountry
}
