package audit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-atelier/internal/audit"
	"github.com/noah-isme/backend-atelier/internal/events"
)

type captureStore struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (s *captureStore) InsertAuditEntry(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *captureStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestRecordPersistsOutOfBand(t *testing.T) {
	store := &captureStore{}
	emitter := &audit.Emitter{Store: store, Logger: zerolog.Nop(), Enabled: true}

	emitter.Record("service_order", "abc", "invoice.issued", "invoice 1 issued", "tester", map[string]any{"invoiceNumber": 1})

	require.Eventually(t, func() bool { return store.len() == 1 }, time.Second, 5*time.Millisecond)
	store.mu.Lock()
	entry := store.entries[0]
	store.mu.Unlock()
	require.Equal(t, "service_order", entry.EntityType)
	require.Equal(t, "invoice.issued", entry.EventType)
	require.Equal(t, "tester", entry.Actor)
	require.NotEmpty(t, entry.Details)
}

func TestRecordDisabledIsNoop(t *testing.T) {
	store := &captureStore{}
	emitter := &audit.Emitter{Store: store, Logger: zerolog.Nop(), Enabled: false}

	emitter.Record("service_order", "abc", "order.updated", "", "tester", nil)

	time.Sleep(20 * time.Millisecond)
	require.Zero(t, store.len())
}

func TestRecordDropInvokesHook(t *testing.T) {
	store := &captureStore{err: context.DeadlineExceeded}
	dropped := make(chan struct{}, 1)
	emitter := &audit.Emitter{
		Store:   store,
		Logger:  zerolog.Nop(),
		Enabled: true,
		OnDrop:  func() { dropped <- struct{}{} },
	}

	emitter.Record("service_order", "abc", "order.updated", "", "tester", nil)

	select {
	case <-dropped:
	case <-time.After(time.Second):
		t.Fatal("drop hook was not invoked")
	}
}

func TestNotifyBridgesEvents(t *testing.T) {
	store := &captureStore{}
	emitter := &audit.Emitter{Store: store, Logger: zerolog.Nop(), Enabled: true}

	err := emitter.Notify(context.Background(), events.Event{
		ID:          uuid.New(),
		Topic:       events.TopicInvoiceIssued,
		AggregateID: uuid.New(),
		Payload:     []byte(`{"invoiceNumber":3}`),
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return store.len() == 1 }, time.Second, 5*time.Millisecond)
	store.mu.Lock()
	defer store.mu.Unlock()
	require.Equal(t, "event", store.entries[0].EntityType)
	require.Equal(t, events.TopicInvoiceIssued, store.entries[0].EventType)
}
