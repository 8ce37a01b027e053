package invoicing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-atelier/internal/domain"
	"github.com/noah-isme/backend-atelier/internal/valuation"
)

// MarkInvoicedParams carries the fields persisted by a successful invoice
// transition. GlobalDiscountPct is the clamped value the valuation actually
// used, frozen onto the order.
type MarkInvoicedParams struct {
	OrderID           uuid.UUID
	InvoiceNumber     int64
	InvoicedAt        time.Time
	GlobalDiscountPct decimal.Decimal
	Total             decimal.Decimal
}

// MarkCancelledParams carries the fields persisted by a cancellation. The
// previous invoice number stays on the record for audit.
type MarkCancelledParams struct {
	OrderID      uuid.UUID
	Reason       string
	CancelledBy  string
	CancelledAt  time.Time
	ReopenStatus domain.Status
}

// OrderRepo is the data-access port for service orders. Implementations must
// apply compare-and-set discipline: MarkInvoiced fails with ErrLockConflict
// unless locked is false at write time, MarkCancelled fails with
// ErrCancelConflict unless the order is invoiced and locked at write time.
type OrderRepo interface {
	GetGraph(ctx context.Context, orderID uuid.UUID) (domain.OrderGraph, error)
	MarkInvoiced(ctx context.Context, params MarkInvoicedParams) error
	MarkCancelled(ctx context.Context, params MarkCancelledParams) error
}

// Counter issues invoice numbers. Next must be one atomic
// increment-and-read; numbers are unique, strictly increasing and never
// reused within a tenant.
type Counter interface {
	Next(ctx context.Context, tenantID string) (int64, error)
}

// Snapshot is the immutable archival copy of an order graph and its final
// valuation, written once at invoice time.
type Snapshot struct {
	OrderID       uuid.UUID                `json:"orderId"`
	InvoiceNumber int64                    `json:"invoiceNumber"`
	TakenAt       time.Time                `json:"takenAt"`
	Graph         domain.OrderGraph        `json:"graph"`
	Valuation     valuation.OrderValuation `json:"valuation"`
}

// Archive stores invoice snapshots. Failure is logged, never fatal.
type Archive interface {
	Save(ctx context.Context, snapshot Snapshot) (uuid.UUID, error)
}

// Board clears an invoiced order from the external scheduling view. Invoked
// once per successful invoice transition; failure is logged, never fatal.
type Board interface {
	Remove(ctx context.Context, orderID uuid.UUID) error
}

// Locker serializes the invoice transition per order. The database CAS stays
// authoritative; the lock only keeps concurrent callers from burning counter
// values on a doomed write.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}
