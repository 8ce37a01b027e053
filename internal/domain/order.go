package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status enumerates the lifecycle states of a service order.
type Status string

const (
	// StatusDraft is the initial state of a freshly created order.
	StatusDraft Status = "draft"
	// StatusInProgress marks an order whose trays are being worked on.
	StatusInProgress Status = "in_progress"
	// StatusCompleted marks an order whose repair work is done.
	StatusCompleted Status = "completed"
	// StatusOrdered marks an order waiting on parts.
	StatusOrdered Status = "ordered"
	// StatusInvoiced is the terminal state unless the invoice is cancelled.
	StatusInvoiced Status = "invoiced"
)

// Open reports whether the status allows mutation of the order graph.
func (s Status) Open() bool {
	switch s {
	case StatusDraft, StatusInProgress, StatusCompleted, StatusOrdered:
		return true
	default:
		return false
	}
}

// Valid reports whether the status is one of the known lifecycle states.
func (s Status) Valid() bool {
	return s.Open() || s == StatusInvoiced
}

// SubscriptionDiscount holds the order-level subscription percentages applied
// separately to the service and part category subtotals.
type SubscriptionDiscount struct {
	ServicePct decimal.Decimal
	PartPct    decimal.Decimal
}

// ServiceOrder is the aggregate root of one repair job for one customer.
// Monetary results are never stored on it; they are recomputed on every read.
type ServiceOrder struct {
	ID         uuid.UUID
	TenantID   string
	CustomerID uuid.UUID
	Status     Status

	Urgent   bool
	IsReturn bool
	Cash     bool
	Card     bool
	NoDeal   bool

	GlobalDiscountPct decimal.Decimal
	Subscription      *SubscriptionDiscount

	// Locked is true iff the order is invoiced and not cancelled. While locked
	// every mutation of the graph is rejected.
	Locked bool

	InvoiceNumber *int64
	InvoicedAt    *time.Time

	Cancelled    bool
	CancelReason string
	CancelledAt  *time.Time
	CancelledBy  string

	ArchivedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Invoiced reports whether the order currently carries a live invoice.
func (o *ServiceOrder) Invoiced() bool {
	return o.Status == StatusInvoiced && o.Locked
}

// OrderGraph is a consistent snapshot of one order with its trays and items,
// loaded in a single read so valuation sees no torn state.
type OrderGraph struct {
	Order ServiceOrder
	Trays []Tray
	Items []LineItem
}

// TrayItems returns the line items belonging to the given tray.
func (g OrderGraph) TrayItems(trayID uuid.UUID) []LineItem {
	var items []LineItem
	for _, it := range g.Items {
		if it.TrayID == trayID {
			items = append(items, it)
		}
	}
	return items
}

// ClampPct forces a percentage into the [0,100] range before it is used in
// any valuation step.
func ClampPct(pct decimal.Decimal) decimal.Decimal {
	if pct.IsNegative() {
		return decimal.Zero
	}
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct
}

var hundred = decimal.NewFromInt(100)
