// Package pricing computes the unit price charged for a disc at the moment
// of sale from its position in the sales chart.
package pricing

import (
	"context"
	"fmt"

	"discshop/internal/catalog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTopN = 100
)

// DefaultDiscount is taken off the lowest chart price for charting items.
var DefaultDiscount = decimal.NewFromInt(1)

// Chart is the read side of the chart service.
type Chart interface {
	Rank(ctx context.Context, itemID int64) (int, error)
	LowestPrice(ctx context.Context, itemID int64) (decimal.Decimal, error)
}

// ChartPolicy undercuts the lowest chart price of items ranked inside the
// top N and charges the base price for everything else. No floor is
// applied to the discounted price.
type ChartPolicy struct {
	chart    Chart
	topN     int
	discount decimal.Decimal
	tracer   trace.Tracer
}

var _ catalog.Pricer = (*ChartPolicy)(nil)

type Option func(*ChartPolicy)

// WithTopN sets the inclusive rank boundary for the discount.
func WithTopN(n int) Option {
	return func(p *ChartPolicy) { p.topN = n }
}

// WithDiscount sets the amount taken off the lowest chart price.
func WithDiscount(d decimal.Decimal) Option {
	return func(p *ChartPolicy) { p.discount = d }
}

func NewChartPolicy(chart Chart, opts ...Option) *ChartPolicy {
	p := &ChartPolicy{
		chart:    chart,
		topN:     DefaultTopN,
		discount: DefaultDiscount,
		tracer:   otel.Tracer("discshop/pricing"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// UnitPrice returns the price to charge for one unit of item.
func (p *ChartPolicy) UnitPrice(ctx context.Context, item *catalog.Item) (decimal.Decimal, error) {
	ctx, span := p.tracer.Start(ctx, "pricing.unit_price",
		trace.WithAttributes(attribute.Int64("item.id", item.ID)))
	defer span.End()

	rank, err := p.chart.Rank(ctx, item.ID)
	if err != nil {
		span.RecordError(err)
		return decimal.Decimal{}, fmt.Errorf("failed to get chart rank of item %d: %w", item.ID, err)
	}
	span.SetAttributes(attribute.Int("chart.rank", rank))

	if rank > p.topN {
		return item.BasePrice, nil
	}

	lowest, err := p.chart.LowestPrice(ctx, item.ID)
	if err != nil {
		span.RecordError(err)
		return decimal.Decimal{}, fmt.Errorf("failed to get lowest chart price of item %d: %w", item.ID, err)
	}
	span.SetAttributes(attribute.Bool("pricing.discounted", true))
	return lowest.Sub(p.discount), nil
}
