package audit

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-atelier/internal/events"
)

// Entry is one audit record of a valuation- or lifecycle-affecting action.
type Entry struct {
	EntityType string
	EntityID   string
	EventType  string
	Message    string
	Actor      string
	Details    json.RawMessage
	CreatedAt  time.Time
}

// Store persists audit entries.
type Store interface {
	InsertAuditEntry(ctx context.Context, entry Entry) error
}

// Emitter records audit entries out-of-band. Every write is fire-and-forget:
// a failed insert is logged and dropped, it never blocks or rolls back the
// action being audited.
type Emitter struct {
	Store        Store
	Logger       zerolog.Logger
	Enabled      bool
	SamplingRate float64
	Timeout      time.Duration
	// OnDrop is invoked when an entry cannot be persisted, typically to bump
	// a metric counter.
	OnDrop func()
}

// Record queues an audit entry for persistence and returns immediately.
func (e *Emitter) Record(entityType, entityID, eventType, message, actor string, details any) {
	if e == nil || !e.Enabled || e.Store == nil {
		return
	}
	if e.SamplingRate > 0 && e.SamplingRate < 1 {
		if rand.Float64() > e.SamplingRate {
			return
		}
	}
	entry := Entry{
		EntityType: strings.TrimSpace(entityType),
		EntityID:   strings.TrimSpace(entityID),
		EventType:  strings.TrimSpace(eventType),
		Message:    message,
		Actor:      strings.TrimSpace(actor),
		Details:    encodeDetails(details),
		CreatedAt:  time.Now().UTC(),
	}
	go e.persist(entry)
}

func (e *Emitter) persist(entry Entry) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	// Deliberately detached from the caller's context: the audit write must
	// not participate in the transaction it describes.
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := e.Store.InsertAuditEntry(ctx, entry); err != nil {
		if e.OnDrop != nil {
			e.OnDrop()
		}
		e.Logger.Warn().
			Err(err).
			Str("entity_type", entry.EntityType).
			Str("entity_id", entry.EntityID).
			Str("event_type", entry.EventType).
			Msg("audit entry dropped")
	}
}

// Notify lets the emitter subscribe to the domain event bus so every emitted
// event leaves an audit trace.
func (e *Emitter) Notify(_ context.Context, event events.Event) error {
	e.Record("event", event.AggregateID.String(), event.Topic, "", "system", event.Payload)
	return nil
}

func encodeDetails(details any) json.RawMessage {
	if details == nil {
		return nil
	}
	switch v := details.(type) {
	case json.RawMessage:
		if json.Valid(v) {
			return append(json.RawMessage(nil), v...)
		}
		return nil
	case []byte:
		if json.Valid(v) {
			return append(json.RawMessage(nil), v...)
		}
		return nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return data
	}
}
