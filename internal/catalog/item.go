package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ItemOption configures an Item at construction.
type ItemOption func(*Item)

// WithPricer makes Price delegate to p instead of returning the base price.
func WithPricer(p Pricer) ItemOption {
	return func(i *Item) { i.pricer = p }
}

// WithStockPolicy sets the shortage behaviour of Buy.
func WithStockPolicy(p StockPolicy) ItemOption {
	return func(i *Item) { i.policy = p }
}

// NewItem creates an item with its initial stock and base price.
func NewItem(id int64, artist, title string, stock int, basePrice decimal.Decimal, opts ...ItemOption) *Item {
	item := &Item{
		ID:        id,
		Artist:    artist,
		Title:     title,
		Stock:     stock,
		BasePrice: basePrice,
	}
	for _, opt := range opts {
		opt(item)
	}
	return item
}

// NormalizeQuantity maps the zero value to DefaultQuantity and rejects negatives.
func NormalizeQuantity(quantity int) (int, error) {
	switch {
	case quantity == 0:
		return DefaultQuantity, nil
	case quantity < 0:
		return 0, fmt.Errorf("%w: got %d", ErrInvalidQuantity, quantity)
	default:
		return quantity, nil
	}
}

// Buy removes quantity units from stock without taking payment. When stock
// is short the item's StockPolicy decides between a silent no-op and
// ErrInsufficientStock; stock is never driven negative.
func (i *Item) Buy(quantity int) error {
	err := i.Decrement(quantity)
	if err != nil && i.policy == SilentShortage && errors.Is(err, ErrInsufficientStock) {
		return nil
	}
	return err
}

// Decrement removes quantity units from stock or fails with
// ErrInsufficientStock, leaving stock unchanged.
func (i *Item) Decrement(quantity int) error {
	quantity, err := NormalizeQuantity(quantity)
	if err != nil {
		return err
	}
	if i.Stock < quantity {
		return fmt.Errorf("%w: item %d has %d, requested %d", ErrInsufficientStock, i.ID, i.Stock, quantity)
	}
	i.Stock -= quantity
	return nil
}

// InStock reports whether quantity units can be sold.
func (i *Item) InStock(quantity int) bool {
	return i.Stock >= quantity
}

func (i *Item) AddReview(review Review) {
	i.reviews = append(i.reviews, review)
}

// Reviews returns the reviews in the order they were added.
func (i *Item) Reviews() []Review {
	out := make([]Review, len(i.reviews))
	copy(out, i.reviews)
	return out
}

// Price returns the current unit price. Without a pricer it is the base price.
func (i *Item) Price(ctx context.Context) (decimal.Decimal, error) {
	if i.pricer == nil {
		return i.BasePrice, nil
	}
	return i.pricer.UnitPrice(ctx, i)
}

// Snapshot returns a detached copy of the item.
func (i *Item) Snapshot() *Item {
	snap := *i
	snap.reviews = i.Reviews()
	return &snap
}

func (i *Item) validate() error {
	switch {
	case i.Artist == "":
		return fmt.Errorf("%w: artist is required", ErrInvalidItem)
	case i.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidItem)
	case i.Stock < 0:
		return fmt.Errorf("%w: stock %d is negative", ErrInvalidItem, i.Stock)
	case i.BasePrice.IsNegative():
		return fmt.Errorf("%w: base price %s is negative", ErrInvalidItem, i.BasePrice)
	}
	return nil
}
