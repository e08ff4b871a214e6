package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	events map[uuid.UUID][]Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[uuid.UUID][]Event)}
}

func (m *MemoryStore) Append(ctx context.Context, aggregateID uuid.UUID, aggregateType string, events ...Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stream := m.events[aggregateID]
	for _, event := range events {
		m.nextID++
		event.ID = m.nextID
		event.AggregateID = aggregateID
		event.AggregateType = aggregateType
		event.Version = len(stream) + 1
		event.CreatedAt = time.Now().UTC()
		stream = append(stream, event)
	}
	m.events[aggregateID] = stream
	return nil
}

func (m *MemoryStore) LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event
	for _, event := range m.events[aggregateID] {
		if event.Version < fromVersion || (toVersion > 0 && event.Version > toVersion) {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}
