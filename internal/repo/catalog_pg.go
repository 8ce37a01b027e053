package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-atelier/internal/catalog"
)

// Catalog resolves service, part and instrument references against their
// price tables.
type Catalog struct {
	Pool *pgxpool.Pool
}

// Service looks up a repair service entry.
func (c Catalog) Service(ctx context.Context, id uuid.UUID) (catalog.Entry, error) {
	return c.lookup(ctx, "catalog_services", id)
}

// Part looks up a spare part entry.
func (c Catalog) Part(ctx context.Context, id uuid.UUID) (catalog.Entry, error) {
	return c.lookup(ctx, "catalog_parts", id)
}

// Instrument looks up an instrument entry.
func (c Catalog) Instrument(ctx context.Context, id uuid.UUID) (catalog.Entry, error) {
	return c.lookup(ctx, "catalog_instruments", id)
}

func (c Catalog) lookup(ctx context.Context, table string, id uuid.UUID) (catalog.Entry, error) {
	entry := catalog.Entry{ID: id}
	var price string
	err := c.Pool.QueryRow(ctx,
		`SELECT name, unit_price::text FROM `+table+` WHERE id = $1 AND active`,
		id).Scan(&entry.Name, &price)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Entry{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Entry{}, err
	}
	if entry.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return catalog.Entry{}, fmt.Errorf("parse catalog price: %w", err)
	}
	return entry, nil
}
