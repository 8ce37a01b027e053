package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Counter issues invoice numbers from a per-tenant row. The upsert is a
// single atomic increment-and-read, so numbers are unique and strictly
// increasing even under concurrent invoicing. A consumed number is never
// handed out again, including after a cancellation.
type Counter struct {
	Pool *pgxpool.Pool
}

// Next returns the next invoice number for the tenant, creating the counter
// row on first use.
func (c Counter) Next(ctx context.Context, tenantID string) (int64, error) {
	var value int64
	err := c.Pool.QueryRow(ctx, `
		INSERT INTO invoice_counters (tenant_id, value)
		VALUES ($1, 1)
		ON CONFLICT (tenant_id)
		DO UPDATE SET value = invoice_counters.value + 1
		RETURNING value`, tenantID).Scan(&value)
	if err != nil {
		return 0, err
	}
	return value, nil
}
