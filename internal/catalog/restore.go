package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"discshop/pkg/eventstore"

	"go.uber.org/zap"
)

const restoreBatchSize = 500

// Restore rebuilds a catalog service by replaying every item event in the
// store, in append order.
func Restore(ctx context.Context, es eventstore.Store, logger *zap.Logger, opts ...ServiceOption) (Service, error) {
	s := newService(es, logger, opts...)

	var cursor int64
	replayed := 0
	for {
		batch, err := es.StreamEvents(ctx, cursor, restoreBatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to stream events: %w", err)
		}
		for _, event := range batch {
			cursor = event.ID
			if event.AggregateType != AggregateType {
				continue
			}
			if err := s.replay(event); err != nil {
				return nil, fmt.Errorf("failed to replay event %d (%s): %w", event.ID, event.EventType, err)
			}
			replayed++
		}
		if len(batch) < restoreBatchSize {
			break
		}
	}

	logger.Info("catalogue restored",
		zap.Int("events", replayed),
		zap.Int("items", s.catalogue.Len()),
	)
	return s, nil
}

func (s *service) replay(event eventstore.Event) error {
	switch event.EventType {
	case EventItemAdded:
		var data ItemAddedEvent
		if err := json.Unmarshal(event.EventData, &data); err != nil {
			return err
		}
		item := NewItem(data.ID, data.Artist, data.Title, data.Stock, data.BasePrice, WithPricer(s.pricer), WithStockPolicy(data.Policy))
		item.Version = event.Version
		s.catalogue.Add(item)
		s.locks[item.ID] = &sync.Mutex{}
		return nil

	case EventItemRemoved:
		var data ItemRemovedEvent
		if err := json.Unmarshal(event.EventData, &data); err != nil {
			return err
		}
		item, err := s.replayTarget(data.ID)
		if err != nil {
			return err
		}
		item.removed = true
		s.catalogue.Remove(item)
		delete(s.locks, data.ID)
		return nil

	case EventReviewAdded:
		var data ReviewAddedEvent
		if err := json.Unmarshal(event.EventData, &data); err != nil {
			return err
		}
		item, err := s.replayTarget(data.ID)
		if err != nil {
			return err
		}
		item.AddReview(Review{Rating: data.Rating, Comment: data.Comment})
		item.Version = event.Version
		return nil

	case EventItemSold:
		var data ItemSoldEvent
		if err := json.Unmarshal(event.EventData, &data); err != nil {
			return err
		}
		item, err := s.replayTarget(data.ID)
		if err != nil {
			return err
		}
		if err := item.Decrement(data.Quantity); err != nil {
			return err
		}
		item.Version = event.Version
		return nil

	default:
		s.logger.Warn("skipping unknown item event", zap.String("event_type", event.EventType))
		return nil
	}
}

func (s *service) replayTarget(id int64) (*Item, error) {
	item, ok := s.catalogue.FindByID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrItemNotFound, id)
	}
	return item, nil
}
