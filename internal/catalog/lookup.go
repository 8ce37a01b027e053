package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a catalog reference does not resolve.
var ErrNotFound = errors.New("catalog: entry not found")

// Entry is the price/name pair captured onto a line item. The snapshot is
// taken once when the item is added and never re-read by the valuator.
type Entry struct {
	ID        uuid.UUID
	Name      string
	UnitPrice decimal.Decimal
}

// Lookup resolves catalog references at line-item creation time.
type Lookup interface {
	Service(ctx context.Context, id uuid.UUID) (Entry, error)
	Part(ctx context.Context, id uuid.UUID) (Entry, error)
	Instrument(ctx context.Context, id uuid.UUID) (Entry, error)
}
