// internal/catalog/implementation.go
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"discshop/pkg/eventstore"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var itemNamespace = uuid.MustParse("6f1c7a4e-2d0b-5c8e-9a3f-4b1d2e7c9f10")

// AggregateID maps an item id onto its event store aggregate.
func AggregateID(id int64) uuid.UUID {
	return uuid.NewSHA1(itemNamespace, []byte(strconv.FormatInt(id, 10)))
}

// ServiceOption configures the catalog service.
type ServiceOption func(*service)

// WithItemPricer attaches p to every item held by the service.
func WithItemPricer(p Pricer) ServiceOption {
	return func(s *service) { s.pricer = p }
}

// service implements the Service interface.
type service struct {
	eventStore eventstore.Store
	logger     *zap.Logger
	tracer     trace.Tracer
	pricer     Pricer

	mu        sync.RWMutex
	catalogue *Catalogue
	locks     map[int64]*sync.Mutex
}

// NewService creates a new, empty catalog service.
func NewService(es eventstore.Store, logger *zap.Logger, opts ...ServiceOption) Service {
	return newService(es, logger, opts...)
}

func newService(es eventstore.Store, logger *zap.Logger, opts ...ServiceOption) *service {
	s := &service{
		eventStore: es,
		logger:     logger,
		tracer:     otel.Tracer("discshop/catalog"),
		catalogue:  NewCatalogue(),
		locks:      make(map[int64]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddItems validates and records the items, then appends them in order.
// Items recorded before a failure stay in the catalogue.
func (s *service) AddItems(ctx context.Context, items ...*Item) ([]*Item, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.add_items",
		trace.WithAttributes(attribute.Int("item.count", len(items))))
	defer span.End()

	seen := make(map[int64]bool, len(items))
	for _, item := range items {
		if err := item.validate(); err != nil {
			return nil, err
		}
		if seen[item.ID] {
			return nil, fmt.Errorf("%w: %d appears twice in batch", ErrDuplicateItem, item.ID)
		}
		seen[item.ID] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		if _, exists := s.catalogue.FindByID(item.ID); exists {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateItem, item.ID)
		}
	}

	added := make([]*Item, 0, len(items))
	for _, item := range items {
		// Removed items keep their event history, so a re-added id continues
		// from the aggregate's last version.
		version, err := s.eventStore.GetCurrentVersion(ctx, AggregateID(item.ID))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "load version")
			return added, fmt.Errorf("failed to load version of item %d: %w", item.ID, err)
		}

		live := NewItem(item.ID, item.Artist, item.Title, item.Stock, item.BasePrice, WithStockPolicy(item.policy))
		live.pricer = s.pricer
		live.Version = version

		change := &Change{
			EventType: EventItemAdded,
			Data: ItemAddedEvent{
				ID:        live.ID,
				Artist:    live.Artist,
				Title:     live.Title,
				Stock:     live.Stock,
				BasePrice: live.BasePrice,
				Policy:    live.policy,
			},
		}
		if err := s.record(ctx, live, change); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "record item")
			return added, err
		}

		s.catalogue.Add(live)
		s.locks[live.ID] = &sync.Mutex{}
		added = append(added, live.Snapshot())
		s.logger.Info("item added",
			zap.Int64("item_id", live.ID),
			zap.String("artist", live.Artist),
			zap.String("title", live.Title),
			zap.Int("stock", live.Stock),
		)
	}

	return added, nil
}

// GetItem retrieves a snapshot of an item by its ID.
func (s *service) GetItem(ctx context.Context, id int64) (*Item, error) {
	var snap *Item
	err := s.withItem(id, func(item *Item) error {
		snap = item.Snapshot()
		return nil
	})
	return snap, err
}

func (s *service) ListItems(ctx context.Context) ([]*Item, error) {
	s.mu.RLock()
	items := s.catalogue.List()
	s.mu.RUnlock()
	return s.snapshots(items), nil
}

// RemoveItem records the removal and drops the item from the catalogue.
// The catalogue itself is only locked once the item lock is held, so reads
// of other items never wait behind a purchase in flight.
func (s *service) RemoveItem(ctx context.Context, id int64) error {
	return s.withItem(id, func(item *Item) error {
		if err := s.record(ctx, item, &Change{EventType: EventItemRemoved, Data: ItemRemovedEvent{ID: id}}); err != nil {
			return err
		}

		item.removed = true
		s.mu.Lock()
		s.catalogue.Remove(item)
		delete(s.locks, id)
		s.mu.Unlock()
		s.logger.Info("item removed", zap.Int64("item_id", id))
		return nil
	})
}

func (s *service) FindByTitle(ctx context.Context, title string) ([]*Item, error) {
	s.mu.RLock()
	items := s.catalogue.FindByTitle(title)
	s.mu.RUnlock()
	return s.snapshots(items), nil
}

func (s *service) FindByArtist(ctx context.Context, artist string) ([]*Item, error) {
	s.mu.RLock()
	items := s.catalogue.FindByArtist(artist)
	s.mu.RUnlock()
	return s.snapshots(items), nil
}

func (s *service) AddReview(ctx context.Context, id int64, review Review) error {
	return s.Apply(ctx, id, func(item *Item) (*Change, error) {
		item.AddReview(review)
		return &Change{
			EventType: EventReviewAdded,
			Data:      ReviewAddedEvent{ID: id, Rating: review.Rating, Comment: review.Comment},
		}, nil
	})
}

// History returns every recorded event of the item, oldest first.
func (s *service) History(ctx context.Context, id int64) ([]eventstore.Event, error) {
	if _, err := s.GetItem(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.eventStore.LoadEvents(ctx, AggregateID(id), 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load history of item %d: %w", id, err)
	}
	return events, nil
}

// Apply runs fn against the live item while holding its lock. A non-nil
// change returned by fn is appended to the event store; if that fails the
// returned error wraps ErrNotRecorded because fn has already mutated the item.
func (s *service) Apply(ctx context.Context, id int64, fn func(*Item) (*Change, error)) error {
	ctx, span := s.tracer.Start(ctx, "catalog.apply",
		trace.WithAttributes(attribute.Int64("item.id", id)))
	defer span.End()

	return s.withItem(id, func(item *Item) error {
		change, err := fn(item)
		if err != nil {
			return err
		}
		if change == nil {
			return nil
		}
		if err := s.record(ctx, item, change); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "record change")
			return fmt.Errorf("%w: %w", ErrNotRecorded, err)
		}
		span.SetAttributes(attribute.String("event.type", change.EventType))
		return nil
	})
}

// withItem looks the item up and runs fn under its lock.
func (s *service) withItem(id int64, fn func(*Item) error) error {
	s.mu.RLock()
	item, ok := s.catalogue.FindByID(id)
	lock := s.locks[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrItemNotFound, id)
	}

	lock.Lock()
	defer lock.Unlock()
	if item.removed {
		return fmt.Errorf("%w: %d", ErrItemNotFound, id)
	}
	return fn(item)
}

func (s *service) snapshots(items []*Item) []*Item {
	out := make([]*Item, 0, len(items))
	for _, item := range items {
		s.mu.RLock()
		lock := s.locks[item.ID]
		s.mu.RUnlock()
		if lock == nil {
			continue
		}
		lock.Lock()
		if !item.removed {
			out = append(out, item.Snapshot())
		}
		lock.Unlock()
	}
	return out
}

// record appends change to the item's event stream and bumps its version.
func (s *service) record(ctx context.Context, item *Item, change *Change) error {
	data, err := json.Marshal(change.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	event := eventstore.Event{
		AggregateID:   AggregateID(item.ID),
		AggregateType: AggregateType,
		EventType:     change.EventType,
		EventData:     data,
		Version:       item.Version + 1,
	}
	if err := s.eventStore.AppendEvents(ctx, event.AggregateID, AggregateType, item.Version, []eventstore.Event{event}); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	item.Version++
	return nil
}
