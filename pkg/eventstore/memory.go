package eventstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store. It keeps the same ordering and
// concurrency semantics as PostgresStore and is used in tests and in
// development when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	events   []Event
	versions map[uuid.UUID]int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: make(map[uuid.UUID]int)}
}

func (m *MemoryStore) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	if expectedVersion < 0 {
		return ErrInvalidVersion
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if current := m.versions[aggregateID]; current != expectedVersion {
		return conflict(aggregateID, expectedVersion, current)
	}

	now := time.Now().UTC()
	for i, event := range events {
		event.ID = int64(len(m.events) + 1)
		event.AggregateID = aggregateID
		event.AggregateType = aggregateType
		event.Version = expectedVersion + i + 1
		event.EventData = append(json.RawMessage(nil), event.EventData...)
		event.CreatedAt = now
		m.events = append(m.events, event)
	}
	m.versions[aggregateID] = expectedVersion + len(events)
	return nil
}

func (m *MemoryStore) LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	for _, event := range m.events {
		if event.AggregateID != aggregateID || event.Version < fromVersion {
			continue
		}
		if toVersion > 0 && event.Version > toVersion {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

func (m *MemoryStore) GetCurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[aggregateID], nil
}

func (m *MemoryStore) StreamEvents(ctx context.Context, fromID int64, batchSize int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	for _, event := range m.events {
		if event.ID <= fromID {
			continue
		}
		out = append(out, event)
		if len(out) == batchSize {
			break
		}
	}
	return out, nil
}
