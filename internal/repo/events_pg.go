package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-atelier/internal/events"
)

// Events persists domain events for the bus.
type Events struct {
	Pool *pgxpool.Pool
}

// InsertEvent appends one event row and returns the stored record.
func (e Events) InsertEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (events.Event, error) {
	ev := events.Event{
		ID:          uuid.New(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
		OccurredAt:  time.Now().UTC(),
	}
	_, err := e.Pool.Exec(ctx, `
		INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
		VALUES ($1,$2,$3,$4,$5)`,
		ev.ID, ev.Topic, ev.AggregateID, []byte(ev.Payload), ev.OccurredAt,
	)
	if err != nil {
		return events.Event{}, err
	}
	return ev, nil
}
