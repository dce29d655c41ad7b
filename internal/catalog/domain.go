// internal/catalog/domain.go
package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrItemNotFound      = errors.New("item not found")
	ErrDuplicateItem     = errors.New("item id already in catalogue")
	ErrInvalidItem       = errors.New("invalid item")
	ErrNotRecorded       = errors.New("change applied but not recorded")
)

// DefaultQuantity is used when a purchase does not name a quantity.
const DefaultQuantity = 1

// StockPolicy decides what Item.Buy does when stock is short.
type StockPolicy int

const (
	// SilentShortage leaves stock untouched and reports no error.
	SilentShortage StockPolicy = iota
	// FailOnShortage leaves stock untouched and returns ErrInsufficientStock.
	FailOnShortage
)

// Pricer computes the unit price charged for an item at the moment of sale.
type Pricer interface {
	UnitPrice(ctx context.Context, item *Item) (decimal.Decimal, error)
}

// Item is a disc that can be sold from the catalogue.
type Item struct {
	ID        int64           `json:"id"`
	Artist    string          `json:"artist"`
	Title     string          `json:"title"`
	Stock     int             `json:"stock"`
	BasePrice decimal.Decimal `json:"base_price"`
	Version   int             `json:"version"`

	reviews []Review
	pricer  Pricer
	policy  StockPolicy
	removed bool
}

// Review is a customer rating attached to an item.
type Review struct {
	Rating  float64 `json:"rating"`
	Comment string  `json:"comment"`
}

// Change is a domain event produced by a mutation of a catalogue item.
type Change struct {
	EventType string
	Data      interface{}
}

const (
	AggregateType = "item"

	EventItemAdded   = "ItemAdded"
	EventItemRemoved = "ItemRemoved"
	EventReviewAdded = "ReviewAdded"
	EventItemSold    = "ItemSold"
)

// ItemAddedEvent is published when a new item is added.
type ItemAddedEvent struct {
	ID        int64           `json:"id"`
	Artist    string          `json:"artist"`
	Title     string          `json:"title"`
	Stock     int             `json:"stock"`
	BasePrice decimal.Decimal `json:"base_price"`
	Policy    StockPolicy     `json:"stock_policy,omitempty"`
}

// ItemRemovedEvent is published when an item leaves the catalogue.
type ItemRemovedEvent struct {
	ID int64 `json:"id"`
}

// ReviewAddedEvent is published when a review is attached to an item.
type ReviewAddedEvent struct {
	ID      int64   `json:"id"`
	Rating  float64 `json:"rating"`
	Comment string  `json:"comment"`
}

// ItemSoldEvent is published when a purchase completes.
type ItemSoldEvent struct {
	ID              int64           `json:"id"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Total           decimal.Decimal `json:"total"`
	CardFingerprint string          `json:"card_fingerprint,omitempty"`
}
