// Package eventstore keeps an append-only journal of domain events per
// aggregate and fans recorded events out to publishers.
package eventstore

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// Event is a recorded domain event with its position in the aggregate stream.
type Event struct {
	ID            int64                  `json:"id"`
	AggregateID   uuid.UUID              `json:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type"`
	EventType     string                 `json:"event_type"`
	EventData     json.RawMessage        `json:"event_data"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Version       int                    `json:"version"`
	CreatedAt     time.Time              `json:"created_at"`
}

// Store is an append-only stream of events per aggregate.
type Store interface {
	Append(ctx context.Context, aggregateID uuid.UUID, aggregateType string, events ...Event) error
	LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error)
}

// appendAttempts bounds how often Append re-reads the stream head after
// losing a race for the next version.
const appendAttempts = 3

// eventRow is the events table layout.
type eventRow struct {
	ID            int64     `db:"id"`
	AggregateID   uuid.UUID `db:"aggregate_id"`
	AggregateType string    `db:"aggregate_type"`
	EventType     string    `db:"event_type"`
	EventData     []byte    `db:"event_data"`
	Metadata      nullJSON  `db:"metadata"`
	Version       int       `db:"version"`
	CreatedAt     time.Time `db:"created_at"`
}

// nullJSON is a JSONB column that stores SQL NULL when empty.
type nullJSON []byte

func (j nullJSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

func (j *nullJSON) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append(nullJSON(nil), v...)
	case string:
		*j = nullJSON(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
	return nil
}

func (r eventRow) event() (Event, error) {
	e := Event{
		ID:            r.ID,
		AggregateID:   r.AggregateID,
		AggregateType: r.AggregateType,
		EventType:     r.EventType,
		EventData:     r.EventData,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &e.Metadata); err != nil {
			return Event{}, fmt.Errorf("decode metadata of event %d: %w", r.ID, err)
		}
	}
	return e, nil
}

// EventStore keeps the journal in the postgres events table. The
// (aggregate_id, version) key serialises writers of one stream.
type EventStore struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{db: db, tracer: otel.Tracer("coursemarket/eventstore")}
}

// Append adds events after whatever the stream head currently is.
func (es *EventStore) Append(ctx context.Context, aggregateID uuid.UUID, aggregateType string, events ...Event) error {
	for attempt := 1; ; attempt++ {
		head, err := es.Version(ctx, aggregateID)
		if err != nil {
			return err
		}
		err = es.AppendAt(ctx, aggregateID, aggregateType, head, events)
		if !errors.Is(err, ErrConcurrencyConflict) || attempt == appendAttempts {
			return err
		}
	}
}

// AppendAt appends events only if the stream is still at expected. Another
// writer getting there first yields ErrConcurrencyConflict.
func (es *EventStore) AppendAt(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expected int, events []Event) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append", trace.WithAttributes(
		attribute.String("aggregate.id", aggregateID.String()),
		attribute.String("aggregate.type", aggregateType),
		attribute.Int("expected.version", expected),
	))
	defer span.End()

	if expected < 0 {
		return ErrInvalidVersion
	}
	if len(events) == 0 {
		return nil
	}

	rows := make([]eventRow, 0, len(events))
	now := time.Now().UTC()
	for i, e := range events {
		row := eventRow{
			AggregateID:   aggregateID,
			AggregateType: aggregateType,
			EventType:     e.EventType,
			EventData:     e.EventData,
			Version:       expected + i + 1,
			CreatedAt:     now,
		}
		if len(e.Metadata) > 0 {
			meta, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
			row.Metadata = nullJSON(meta)
		}
		rows = append(rows, row)
	}

	tx, err := es.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var head int
	if err := tx.GetContext(ctx, &head, headQuery, aggregateID); err != nil {
		return fmt.Errorf("read stream head: %w", err)
	}
	if head != expected {
		span.SetAttributes(attribute.Int("actual.version", head))
		return ErrConcurrencyConflict
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at)
		VALUES (:aggregate_id, :aggregate_type, :event_type, :event_data, :metadata, :version, :created_at)
	`, rows)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return ErrConcurrencyConflict
	}
	if err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit events: %w", err)
	}
	span.SetAttributes(attribute.Int("new.version", expected+len(rows)))
	return nil
}

const headQuery = `SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1`

// Version returns the stream head of an aggregate, 0 for an empty stream.
func (es *EventStore) Version(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	var head int
	if err := es.db.GetContext(ctx, &head, headQuery, aggregateID); err != nil {
		return 0, fmt.Errorf("read stream head: %w", err)
	}
	return head, nil
}

// LoadEvents returns the stream of an aggregate in version order. A
// toVersion of 0 means no upper bound.
func (es *EventStore) LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load", trace.WithAttributes(
		attribute.String("aggregate.id", aggregateID.String()),
	))
	defer span.End()

	var rows []eventRow
	err := es.db.SelectContext(ctx, &rows, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at
		FROM events
		WHERE aggregate_id = $1 AND version >= $2 AND ($3 = 0 OR version <= $3)
		ORDER BY version
	`, aggregateID, fromVersion, toVersion)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		e, err := r.event()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}
