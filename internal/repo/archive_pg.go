package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-atelier/internal/invoicing"
)

// Archive stores the frozen order snapshot written at invoice time. The
// snapshot is write-once per invoice number: re-invoicing after a
// cancellation produces a new row instead of overwriting the old one.
type Archive struct {
	Pool *pgxpool.Pool
}

// Save persists the snapshot and returns the archive row id.
func (a Archive) Save(ctx context.Context, snapshot invoicing.Snapshot) (uuid.UUID, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode snapshot: %w", err)
	}
	id := uuid.New()
	_, err = a.Pool.Exec(ctx, `
		INSERT INTO order_archives (id, order_id, invoice_number, snapshot, taken_at)
		VALUES ($1,$2,$3,$4,$5)`,
		id, snapshot.OrderID, snapshot.InvoiceNumber, data, snapshot.TakenAt,
	)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Get returns the most recent snapshot for an order.
func (a Archive) Get(ctx context.Context, orderID uuid.UUID) (json.RawMessage, error) {
	var data []byte
	err := a.Pool.QueryRow(ctx, `
		SELECT snapshot FROM order_archives
		WHERE order_id = $1
		ORDER BY taken_at DESC, invoice_number DESC
		LIMIT 1`, orderID).Scan(&data)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
