package pricing

import (
	"context"
	"errors"
	"testing"

	"discshop/internal/catalog"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChart struct {
	rank       int
	lowest     decimal.Decimal
	rankErr    error
	lowestErr  error
	lowestHits int
}

func (s *stubChart) Rank(ctx context.Context, itemID int64) (int, error) {
	return s.rank, s.rankErr
}

func (s *stubChart) LowestPrice(ctx context.Context, itemID int64) (decimal.Decimal, error) {
	s.lowestHits++
	return s.lowest, s.lowestErr
}

func item(basePrice string) *catalog.Item {
	return catalog.NewItem(1, "The Beatles", "Abbey Road", 10, decimal.RequireFromString(basePrice))
}

func TestChartPolicy(t *testing.T) {
	tests := []struct {
		name   string
		rank   int
		lowest string
		base   string
		want   string
	}{
		{name: "top of chart", rank: 1, lowest: "6", base: "10.99", want: "5"},
		{name: "boundary is inclusive", rank: 100, lowest: "6", base: "10.99", want: "5"},
		{name: "just outside", rank: 101, lowest: "6", base: "10.99", want: "10.99"},
		{name: "discount off lowest not base", rank: 3, lowest: "20", base: "9.99", want: "19"},
		{name: "no floor", rank: 5, lowest: "0.50", base: "9.99", want: "-0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chart := &stubChart{rank: tt.rank, lowest: decimal.RequireFromString(tt.lowest)}
			policy := NewChartPolicy(chart)

			price, err := policy.UnitPrice(context.Background(), item(tt.base))
			require.NoError(t, err)
			assert.True(t, price.Equal(decimal.RequireFromString(tt.want)), "got %s", price)
		})
	}
}

func TestChartPolicySkipsLowestPriceOutsideTopN(t *testing.T) {
	chart := &stubChart{rank: 500}
	_, err := NewChartPolicy(chart).UnitPrice(context.Background(), item("10.99"))
	require.NoError(t, err)
	assert.Zero(t, chart.lowestHits)
}

func TestChartPolicyOptions(t *testing.T) {
	chart := &stubChart{rank: 15, lowest: decimal.NewFromInt(10)}
	policy := NewChartPolicy(chart, WithTopN(10), WithDiscount(decimal.RequireFromString("0.5")))

	price, err := policy.UnitPrice(context.Background(), item("12"))
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(12)))

	chart.rank = 10
	price, err = policy.UnitPrice(context.Background(), item("12"))
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("9.5")))
}

func TestChartPolicyPropagatesChartErrors(t *testing.T) {
	down := errors.New("chart unavailable")

	_, err := NewChartPolicy(&stubChart{rankErr: down}).UnitPrice(context.Background(), item("1"))
	assert.ErrorIs(t, err, down)

	_, err = NewChartPolicy(&stubChart{rank: 1, lowestErr: down}).UnitPrice(context.Background(), item("1"))
	assert.ErrorIs(t, err, down)
}

func TestItemPriceUsesChartPolicy(t *testing.T) {
	policy := NewChartPolicy(&stubChart{rank: 1, lowest: decimal.NewFromInt(6)})
	cd := catalog.NewItem(1, "The Beatles", "Abbey Road", 10, decimal.RequireFromString("10.99"), catalog.WithPricer(policy))

	price, err := cd.Price(context.Background())
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(5)))
}
