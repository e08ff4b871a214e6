package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// Recorder records that something happened to an aggregate.
type Recorder interface {
	Record(ctx context.Context, aggregateID uuid.UUID, aggregateType, eventType string, data any) error
}

// Publisher forwards recorded events to an external bus.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Journal appends events to a Store and fans them out to publishers.
// Publication is best effort: the journal entry is the record of truth.
type Journal struct {
	store      Store
	publishers []Publisher
}

func NewJournal(store Store, publishers ...Publisher) *Journal {
	return &Journal{store: store, publishers: publishers}
}

func (j *Journal) Record(ctx context.Context, aggregateID uuid.UUID, aggregateType, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	event := Event{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventData:     payload,
	}
	if err := j.store.Append(ctx, aggregateID, aggregateType, event); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	for _, p := range j.publishers {
		if err := p.Publish(ctx, event); err != nil {
			log.Printf("publish %s/%s for %s: %v", aggregateType, eventType, aggregateID, err)
		}
	}
	return nil
}

// History returns every event recorded for an aggregate.
func (j *Journal) History(ctx context.Context, aggregateID uuid.UUID) ([]Event, error) {
	return j.store.LoadEvents(ctx, aggregateID, 0, 0)
}

// Discard is a Recorder that drops everything.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(context.Context, uuid.UUID, string, string, any) error { return nil }
