package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fixedPricer struct {
	price decimal.Decimal
	err   error
}

func (p fixedPricer) UnitPrice(ctx context.Context, item *Item) (decimal.Decimal, error) {
	return p.price, p.err
}

func abbeyRoad(opts ...ItemOption) *Item {
	return NewItem(1, "The Beatles", "Abbey Road", 10, decimal.RequireFromString("9.99"), opts...)
}

func TestBuyDecrementsStock(t *testing.T) {
	cd := abbeyRoad()
	require.NoError(t, cd.Buy(1))
	assert.Equal(t, 9, cd.Stock)
}

func TestBuyDefaultsToOneUnit(t *testing.T) {
	cd := abbeyRoad()
	require.NoError(t, cd.Buy(0))
	assert.Equal(t, 9, cd.Stock)
}

func TestBuyShortageIsSilentByDefault(t *testing.T) {
	cd := abbeyRoad()
	require.NoError(t, cd.Buy(11))
	assert.Equal(t, 10, cd.Stock)
}

func TestBuyShortageFailsWhenConfigured(t *testing.T) {
	cd := abbeyRoad(WithStockPolicy(FailOnShortage))
	err := cd.Buy(11)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 10, cd.Stock)
}

func TestBuyRejectsNegativeQuantity(t *testing.T) {
	cd := abbeyRoad()
	assert.ErrorIs(t, cd.Buy(-2), ErrInvalidQuantity)
	assert.Equal(t, 10, cd.Stock)
}

func TestBuyNeverDrivesStockNegative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		policy := StockPolicy(rapid.IntRange(0, 1).Draw(t, "policy"))
		stock := rapid.IntRange(0, 50).Draw(t, "stock")
		cd := NewItem(7, "Artist", "Title", stock, decimal.NewFromInt(5), WithStockPolicy(policy))

		quantities := rapid.SliceOf(rapid.IntRange(-3, 60)).Draw(t, "quantities")
		for _, q := range quantities {
			before := cd.Stock
			err := cd.Buy(q)
			if cd.Stock < 0 {
				t.Fatalf("stock went negative: %d", cd.Stock)
			}
			if err != nil && cd.Stock != before {
				t.Fatalf("failed buy changed stock from %d to %d", before, cd.Stock)
			}
			if err != nil && !errors.Is(err, ErrInsufficientStock) && !errors.Is(err, ErrInvalidQuantity) {
				t.Fatalf("unexpected error: %v", err)
			}
		}
	})
}

func TestReviewsKeepInsertionOrder(t *testing.T) {
	cd := abbeyRoad()
	cd.AddReview(Review{Rating: 5, Comment: "classic"})
	cd.AddReview(Review{Rating: 3, Comment: "overplayed"})

	reviews := cd.Reviews()
	require.Len(t, reviews, 2)
	assert.Equal(t, "classic", reviews[0].Comment)
	assert.Equal(t, "overplayed", reviews[1].Comment)

	reviews[0].Comment = "mutated"
	assert.Equal(t, "classic", cd.Reviews()[0].Comment)
}

func TestPriceWithoutPricerIsBasePrice(t *testing.T) {
	price, err := abbeyRoad().Price(context.Background())
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("9.99")))
}

func TestPriceDelegatesToPricer(t *testing.T) {
	cd := abbeyRoad(WithPricer(fixedPricer{price: decimal.NewFromInt(5)}))
	price, err := cd.Price(context.Background())
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(5)))

	failing := abbeyRoad(WithPricer(fixedPricer{err: errors.New("chart down")}))
	_, err = failing.Price(context.Background())
	assert.EqualError(t, err, "chart down")
}

func TestSnapshotIsDetached(t *testing.T) {
	cd := abbeyRoad()
	cd.AddReview(Review{Rating: 4, Comment: "good"})

	snap := cd.Snapshot()
	snap.Stock = 0
	snap.AddReview(Review{Rating: 1, Comment: "bad"})

	assert.Equal(t, 10, cd.Stock)
	assert.Len(t, cd.Reviews(), 1)
	assert.Len(t, snap.Reviews(), 2)
}
