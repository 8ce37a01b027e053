package valuation

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-atelier/internal/domain"
)

// DefaultUrgencyBps is the canonical urgency adjustment: 10% subtracted from
// the post-line-discount amount when both the line and the order are urgent.
const DefaultUrgencyBps = 1000

// LineValuation is the contribution of one line item, kept at full precision.
type LineValuation struct {
	ItemID            uuid.UUID
	ItemType          domain.ItemType
	BillableQty       int64
	Subtotal          decimal.Decimal
	LineDiscount      decimal.Decimal
	UrgencyAdjustment decimal.Decimal
	Total             decimal.Decimal
}

// TrayValuation sums the line valuations of one tray.
type TrayValuation struct {
	TrayID            uuid.UUID
	Subtotal          decimal.Decimal
	LineDiscountTotal decimal.Decimal
	UrgencyTotal      decimal.Decimal
	Total             decimal.Decimal
	Lines             []LineValuation
}

// OrderValuation is the derived monetary state of a whole order. It is a pure
// function of the order graph and is never the source of truth.
type OrderValuation struct {
	OrderID              uuid.UUID
	TrayTotal            decimal.Decimal
	ServiceSubtotal      decimal.Decimal
	PartSubtotal         decimal.Decimal
	SubscriptionDiscount decimal.Decimal
	AfterSubscription    decimal.Decimal
	GlobalDiscount       decimal.Decimal
	// Total is rounded to the currency minor unit. All other fields keep full
	// precision so sums never compound rounding error.
	Total decimal.Decimal
	Trays []TrayValuation
}

// Engine computes order totals. It holds no mutable state and is safe to call
// concurrently from any number of callers.
type Engine struct {
	urgencyRate decimal.Decimal
}

// NewEngine builds an engine with the urgency adjustment expressed in basis
// points. Rates outside [0,10000] fall back to the default.
func NewEngine(urgencyBps int) *Engine {
	if urgencyBps < 0 || urgencyBps > 10000 {
		urgencyBps = DefaultUrgencyBps
	}
	return &Engine{urgencyRate: decimal.New(int64(urgencyBps), -4)}
}

// Line values a single item. The step order is fixed: billable quantity,
// subtotal, line discount, urgency reduction. Reordering would break parity
// with historically issued invoices.
func (e *Engine) Line(item domain.LineItem, orderUrgent bool) LineValuation {
	qty := item.BillableQuantity()
	subtotal := item.UnitPrice.Mul(decimal.NewFromInt(qty))

	pct := domain.ClampPct(item.LineDiscountPct)
	discount := subtotal.Mul(pct).Div(oneHundred)
	afterDiscount := subtotal.Sub(discount)

	var urgency decimal.Decimal
	if item.Urgent && orderUrgent {
		urgency = afterDiscount.Mul(e.urgencyRate)
	}

	return LineValuation{
		ItemID:            item.ID,
		ItemType:          item.ItemType,
		BillableQty:       qty,
		Subtotal:          subtotal,
		LineDiscount:      discount,
		UrgencyAdjustment: urgency,
		Total:             afterDiscount.Sub(urgency),
	}
}

// Tray values every item in a tray and rolls the components up. There is no
// tray-level discount.
func (e *Engine) Tray(tray domain.Tray, items []domain.LineItem, orderUrgent bool) TrayValuation {
	tv := TrayValuation{TrayID: tray.ID}
	for _, item := range items {
		lv := e.Line(item, orderUrgent)
		tv.Subtotal = tv.Subtotal.Add(lv.Subtotal)
		tv.LineDiscountTotal = tv.LineDiscountTotal.Add(lv.LineDiscount)
		tv.UrgencyTotal = tv.UrgencyTotal.Add(lv.UrgencyAdjustment)
		tv.Total = tv.Total.Add(lv.Total)
		tv.Lines = append(tv.Lines, lv)
	}
	return tv
}

// Order values the whole graph: tray totals, then the subscription discount
// split by category, then the global discount. Only the final total is
// rounded.
func (e *Engine) Order(graph domain.OrderGraph) OrderValuation {
	ov := OrderValuation{OrderID: graph.Order.ID}
	for _, tray := range graph.Trays {
		tv := e.Tray(tray, graph.TrayItems(tray.ID), graph.Order.Urgent)
		ov.TrayTotal = ov.TrayTotal.Add(tv.Total)
		for _, lv := range tv.Lines {
			switch lv.ItemType {
			case domain.ItemTypeService:
				ov.ServiceSubtotal = ov.ServiceSubtotal.Add(lv.Total)
			case domain.ItemTypePart:
				ov.PartSubtotal = ov.PartSubtotal.Add(lv.Total)
			}
		}
		ov.Trays = append(ov.Trays, tv)
	}

	if sub := graph.Order.Subscription; sub != nil {
		svc := ov.ServiceSubtotal.Mul(domain.ClampPct(sub.ServicePct)).Div(oneHundred)
		part := ov.PartSubtotal.Mul(domain.ClampPct(sub.PartPct)).Div(oneHundred)
		ov.SubscriptionDiscount = svc.Add(part)
	}
	ov.AfterSubscription = ov.TrayTotal.Sub(ov.SubscriptionDiscount)

	globalPct := domain.ClampPct(graph.Order.GlobalDiscountPct)
	ov.GlobalDiscount = ov.AfterSubscription.Mul(globalPct).Div(oneHundred)
	ov.Total = ov.AfterSubscription.Sub(ov.GlobalDiscount).Round(2)
	return ov
}

var oneHundred = decimal.NewFromInt(100)
