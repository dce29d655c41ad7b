// internal/catalog/service.go
package catalog

import (
	"context"

	"discshop/pkg/eventstore"
)

// Service defines the interface for the catalog service.
//
// Reads return snapshots; the only way to mutate a live item is Apply,
// which holds that item's lock for the duration of fn.
type Service interface {
	AddItems(ctx context.Context, items ...*Item) ([]*Item, error)
	GetItem(ctx context.Context, id int64) (*Item, error)
	ListItems(ctx context.Context) ([]*Item, error)
	RemoveItem(ctx context.Context, id int64) error
	FindByTitle(ctx context.Context, title string) ([]*Item, error)
	FindByArtist(ctx context.Context, artist string) ([]*Item, error)
	AddReview(ctx context.Context, id int64, review Review) error
	History(ctx context.Context, id int64) ([]eventstore.Event, error)
	Apply(ctx context.Context, id int64, fn func(*Item) (*Change, error)) error
}
