package pricing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/safar/storefront/internal/pricing")

// Input is what a quote depends on. Subtotal is the net merchandise amount,
// after product discounts.
type Input struct {
	Country  string          `json:"country"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Method   Method          `json:"method"`
}

func (in Input) normalize() Input {
	in.Country = strings.ToUpper(strings.TrimSpace(in.Country))
	in.Method = ParseMethod(string(in.Method))
	return in
}

func (in Input) Equal(other Input) bool {
	a, b := in.normalize(), other.normalize()
	return a.Country == b.Country && a.Method == b.Method && a.Subtotal.Equal(b.Subtotal)
}

type Quote struct {
	Input        Input           `json:"input"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	Fallback     bool            `json:"fallback,omitempty"`
	FetchedAt    time.Time       `json:"fetched_at"`
}

// Fetch issues the shipping and tax lookups concurrently. Both must succeed.
func Fetch(ctx context.Context, src Source, in Input) (Quote, error) {
	in = in.normalize()

	ctx, span := tracer.Start(ctx, "pricing.Fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("pricing.country", in.Country),
		attribute.String("pricing.method", string(in.Method)),
	)

	var shipping, rate decimal.Decimal
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		shipping, err = src.CalculateShipping(gctx, in.Country, in.Subtotal, in.Method)
		if err != nil {
			return fmt.Errorf("calculate shipping: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		rate, err = src.CountryTaxRate(gctx, in.Country)
		if err != nil {
			return fmt.Errorf("country tax rate: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return Quote{}, err
	}

	if shipping.IsNegative() {
		return Quote{}, fmt.Errorf("calculate shipping: negative cost %s", shipping)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Quote{}, fmt.Errorf("country tax rate: %s outside [0, 1)", rate)
	}

	return Quote{
		Input:        in,
		ShippingCost: shipping,
		TaxRate:      rate,
		FetchedAt:    time.Now().UTC(),
	}, nil
}
