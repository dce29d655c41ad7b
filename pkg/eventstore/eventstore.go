// Package eventstore keeps the append-only history of every catalogue item.
// Each aggregate owns one stream whose versions start at 1 and never skip.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrConcurrencyConflict = errors.New("stream was appended to concurrently")
	ErrInvalidVersion      = errors.New("expected version must not be negative")
)

const uniqueViolation pq.ErrorCode = "23505"

// Schema creates the item_events table used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS item_events (
	id BIGSERIAL PRIMARY KEY,
	aggregate_id UUID NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_data JSONB NOT NULL,
	version INT NOT NULL CHECK (version > 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (aggregate_id, version)
);
`

const (
	eventColumns = `id, aggregate_id, aggregate_type, event_type, event_data, version, created_at`

	selectVersion = `SELECT COALESCE(MAX(version), 0) FROM item_events WHERE aggregate_id = $1`

	insertEvent = `
		INSERT INTO item_events (aggregate_id, aggregate_type, event_type, event_data, version)
		VALUES ($1, $2, $3, $4, $5)`

	selectStream = `SELECT ` + eventColumns + ` FROM item_events WHERE aggregate_id = $1 AND version >= $2`

	selectSince = `SELECT ` + eventColumns + ` FROM item_events WHERE id > $1 ORDER BY id ASC LIMIT $2`
)

// Event is one recorded change of an aggregate. ID is the position in the
// global log; Version is the position in the aggregate's own stream.
type Event struct {
	ID            int64           `json:"id"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Store is the append-only event log used by the catalogue and purchase services.
type Store interface {
	AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error
	LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error)
	GetCurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error)
	StreamEvents(ctx context.Context, fromID int64, batchSize int) ([]Event, error)
}

func conflict(aggregateID uuid.UUID, expected, actual int) error {
	return fmt.Errorf("%w: stream %s is at version %d, expected %d", ErrConcurrencyConflict, aggregateID, actual, expected)
}

// PostgresStore keeps item events in a single Postgres table.
type PostgresStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		tracer: otel.Tracer("discshop/eventstore"),
	}
}

// Migrate creates the item_events table if it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create item_events table: %w", err)
	}
	return nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func streamVersion(ctx context.Context, q rowQuerier, aggregateID uuid.UUID) (int, error) {
	var version int
	if err := q.QueryRowContext(ctx, selectVersion, aggregateID).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read version of stream %s: %w", aggregateID, err)
	}
	return version, nil
}

// AppendEvents writes events at expectedVersion+1 onwards in one serializable
// transaction. It fails with ErrConcurrencyConflict when the stream has moved
// on, whether that is seen by the version read or by the unique index.
func (s *PostgresStore) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	ctx, span := s.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("stream.id", aggregateID.String()),
			attribute.String("stream.type", aggregateType),
			attribute.Int("stream.expected_version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < 0 {
		return ErrInvalidVersion
	}
	if len(events) == 0 {
		return nil
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := streamVersion(ctx, tx, aggregateID)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			return conflict(aggregateID, expectedVersion, current)
		}

		for i, event := range events {
			version := expectedVersion + i + 1
			_, err := tx.ExecContext(ctx, insertEvent, aggregateID, aggregateType, event.EventType, []byte(event.EventData), version)
			var pqErr *pq.Error
			switch {
			case errors.As(err, &pqErr) && pqErr.Code == uniqueViolation:
				return conflict(aggregateID, expectedVersion, version)
			case err != nil:
				return fmt.Errorf("failed to insert %s at version %d: %w", event.EventType, version, err)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append")
		return err
	}
	return nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadEvents returns the stream from fromVersion on, up to toVersion when it
// is positive.
func (s *PostgresStore) LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("stream.id", aggregateID.String()),
			attribute.Int("stream.from_version", fromVersion),
			attribute.Int("stream.to_version", toVersion),
		),
	)
	defer span.End()

	query, args := selectStream, []interface{}{aggregateID, fromVersion}
	if toVersion > 0 {
		query += " AND version <= $3"
		args = append(args, toVersion)
	}

	events, err := s.query(ctx, query+" ORDER BY version ASC", args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load stream %s: %w", aggregateID, err)
	}
	span.SetAttributes(attribute.Int("event.count", len(events)))
	return events, nil
}

func (s *PostgresStore) GetCurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.version",
		trace.WithAttributes(attribute.String("stream.id", aggregateID.String())))
	defer span.End()

	return streamVersion(ctx, s.db, aggregateID)
}

// StreamEvents pages through the global log in append order, starting after
// fromID.
func (s *PostgresStore) StreamEvents(ctx context.Context, fromID int64, batchSize int) ([]Event, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.stream",
		trace.WithAttributes(
			attribute.Int64("log.after", fromID),
			attribute.Int("log.batch_size", batchSize),
		),
	)
	defer span.End()

	events, err := s.query(ctx, selectSince, fromID, batchSize)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read log after %d: %w", fromID, err)
	}
	span.SetAttributes(attribute.Int("event.count", len(events)))
	return events, nil
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...interface{}) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event Event
			data  []byte
		)
		if err := rows.Scan(&event.ID, &event.AggregateID, &event.AggregateType, &event.EventType, &data, &event.Version, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.EventData = json.RawMessage(data)
		events = append(events, event)
	}
	return events, rows.Err()
}
