package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-atelier/internal/events"
)

type stubStore struct {
	last events.Event
	err  error
}

func (s *stubStore) InsertEvent(_ context.Context, topic string, aggregateID uuid.UUID, payload []byte) (events.Event, error) {
	if s.err != nil {
		return events.Event{}, s.err
	}
	s.last = events.Event{
		ID:          uuid.New(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
		OccurredAt:  time.Now().UTC(),
	}
	return s.last, nil
}

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return c.err
}

func TestEmitPersistsAndNotifies(t *testing.T) {
	store := &stubStore{}
	notifier := &captureNotifier{}
	bus := &events.Bus{Store: store, Notifiers: []events.Notifier{notifier}}

	aggregate := uuid.New()
	ev, err := bus.Emit(context.Background(), events.TopicInvoiceIssued, aggregate, map[string]any{"invoiceNumber": 7})
	require.NoError(t, err)
	require.Equal(t, events.TopicInvoiceIssued, ev.Topic)
	require.Equal(t, aggregate, ev.AggregateID)
	require.True(t, json.Valid(ev.Payload))
	require.Len(t, notifier.events, 1)
}

func TestEmitRequiresTopicAndAggregate(t *testing.T) {
	bus := &events.Bus{Store: &stubStore{}}

	_, err := bus.Emit(context.Background(), "  ", uuid.New(), nil)
	require.Error(t, err)

	_, err = bus.Emit(context.Background(), events.TopicOrderValuated, uuid.Nil, nil)
	require.Error(t, err)
}

func TestEmitNotifierFailureDoesNotBlockPersist(t *testing.T) {
	store := &stubStore{}
	notifier := &captureNotifier{err: errors.New("downstream down")}
	bus := &events.Bus{Store: store, Notifiers: []events.Notifier{notifier}}

	ev, err := bus.Emit(context.Background(), events.TopicInvoiceCancelled, uuid.New(), nil)
	require.Error(t, err)
	require.NotEqual(t, uuid.Nil, ev.ID)
	require.Equal(t, ev.ID, store.last.ID)
}

func TestEmitRejectsInvalidRawPayload(t *testing.T) {
	bus := &events.Bus{Store: &stubStore{}}
	_, err := bus.Emit(context.Background(), events.TopicOrderValuated, uuid.New(), json.RawMessage("{not json"))
	require.Error(t, err)
}
