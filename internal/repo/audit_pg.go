package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-atelier/internal/audit"
)

// Audit persists the append-only audit trail.
type Audit struct {
	Pool *pgxpool.Pool
}

// InsertAuditEntry appends one entry. Nothing ever updates or deletes rows in
// this table.
func (a Audit) InsertAuditEntry(ctx context.Context, entry audit.Entry) error {
	details := entry.Details
	if len(details) == 0 {
		details = []byte("{}")
	}
	_, err := a.Pool.Exec(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, event_type, message, actor, details, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.EntityType, entry.EntityID, entry.EventType, entry.Message, entry.Actor, details, entry.CreatedAt,
	)
	return err
}

// ListAuditEntries returns the newest entries for one entity.
func (a Audit) ListAuditEntries(ctx context.Context, entityType, entityID string, limit int32) ([]audit.Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := a.Pool.Query(ctx, `
		SELECT entity_type, entity_id, event_type, message, actor, details, created_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(&e.EntityType, &e.EntityID, &e.EventType, &e.Message, &e.Actor, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
