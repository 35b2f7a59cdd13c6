package sqlrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jensholdgaard/discord-scrim-bot/internal/event"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store/engine"
)

const eventsTable = "events"

// EventStore implements event.Store over the events table.
type EventStore struct{ base }

// eventRow mirrors the events table; data is stored as text so that both
// backends accept it.
type eventRow struct {
	ID          int64      `db:"id"`
	AggregateID string     `db:"aggregate_id"`
	Type        event.Type `db:"type"`
	Data        string     `db:"data"`
	Version     int        `db:"version"`
	CreatedAt   time.Time  `db:"created_at"`
}

// Append persists events in one transaction.
func (s *EventStore) Append(ctx context.Context, events ...event.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]engine.Values, len(events))
	for i, e := range events {
		data := string(e.Data)
		if data == "" {
			data = "{}"
		}
		rows[i] = engine.Values{
			"aggregate_id": e.AggregateID,
			"type":         string(e.Type),
			"data":         data,
			"version":      e.Version,
			"created_at":   orNow(e.CreatedAt, s.now),
		}
	}
	if _, err := s.eng.InsertMany(ctx, eventsTable, rows); err != nil {
		return fmt.Errorf("appending events: %w", err)
	}
	return nil
}

// Load returns all events for an aggregate, ordered by version.
func (s *EventStore) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	return s.load(ctx, engine.Query{
		Where:   "aggregate_id = ?",
		Args:    []any{aggregateID},
		OrderBy: "version, id",
	})
}

// LoadByType returns events of one type in insertion order.
func (s *EventStore) LoadByType(ctx context.Context, eventType event.Type) ([]event.Event, error) {
	return s.load(ctx, engine.Query{
		Where:   "type = ?",
		Args:    []any{string(eventType)},
		OrderBy: "id",
	})
}

func (s *EventStore) load(ctx context.Context, q engine.Query) ([]event.Event, error) {
	rows, err := list[eventRow](ctx, s.eng, eventsTable, q)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	events := make([]event.Event, len(rows))
	for i, r := range rows {
		events[i] = event.Event{
			ID:          r.ID,
			AggregateID: r.AggregateID,
			Type:        r.Type,
			Data:        json.RawMessage(r.Data),
			Version:     r.Version,
			CreatedAt:   r.CreatedAt,
		}
	}
	return events, nil
}
