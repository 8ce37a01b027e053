package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-atelier/internal/domain"
	"github.com/noah-isme/backend-atelier/internal/invoicing"
)

// Orders persists service orders, trays and line items. Monetary columns are
// numeric in the database and travel as text so no precision is lost on the
// wire.
type Orders struct {
	Pool *pgxpool.Pool
}

const orderColumns = `id, tenant_id, customer_id, status,
	urgent, is_return, cash, card, no_deal,
	global_discount_pct::text, sub_service_pct::text, sub_part_pct::text,
	locked, invoice_number, invoiced_at,
	cancelled, cancel_reason, cancelled_at, cancelled_by,
	archived_at, created_at, updated_at`

// CreateOrder inserts a fresh order row.
func (r Orders) CreateOrder(ctx context.Context, order domain.ServiceOrder) error {
	var subService, subPart *string
	if order.Subscription != nil {
		s := order.Subscription.ServicePct.String()
		p := order.Subscription.PartPct.String()
		subService, subPart = &s, &p
	}
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO service_orders (
			id, tenant_id, customer_id, status,
			urgent, is_return, cash, card, no_deal,
			global_discount_pct, sub_service_pct, sub_part_pct,
			locked, cancelled, cancel_reason, cancelled_by,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::numeric,$11::numeric,$12::numeric,$13,$14,$15,$16,$17,$18)`,
		order.ID, order.TenantID, order.CustomerID, string(order.Status),
		order.Urgent, order.IsReturn, order.Cash, order.Card, order.NoDeal,
		order.GlobalDiscountPct.String(), subService, subPart,
		order.Locked, order.Cancelled, order.CancelReason, order.CancelledBy,
		order.CreatedAt, order.UpdatedAt,
	)
	return err
}

// GetGraph loads the order with its trays and items inside one read-only
// repeatable-read transaction, so the valuation never sees torn state. Trays
// come back in creation order, which is what the arena invariant relies on.
func (r Orders) GetGraph(ctx context.Context, orderID uuid.UUID) (domain.OrderGraph, error) {
	var graph domain.OrderGraph
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return graph, fmt.Errorf("begin graph read: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM service_orders WHERE id = $1`, orderID)
	graph.Order, err = scanOrder(row)
	if err != nil {
		return graph, err
	}

	graph.Trays, err = loadTrays(ctx, tx, orderID)
	if err != nil {
		return graph, err
	}
	graph.Items, err = loadItems(ctx, tx, orderID)
	if err != nil {
		return graph, err
	}
	return graph, tx.Commit(ctx)
}

// UpdateOrder rewrites the mutable fields of an unlocked order.
func (r Orders) UpdateOrder(ctx context.Context, order domain.ServiceOrder) error {
	var subService, subPart *string
	if order.Subscription != nil {
		s := order.Subscription.ServicePct.String()
		p := order.Subscription.PartPct.String()
		subService, subPart = &s, &p
	}
	tag, err := r.Pool.Exec(ctx, `
		UPDATE service_orders SET
			status = $2, urgent = $3, is_return = $4, cash = $5, card = $6, no_deal = $7,
			global_discount_pct = $8::numeric, sub_service_pct = $9::numeric, sub_part_pct = $10::numeric,
			updated_at = $11
		WHERE id = $1 AND locked = FALSE`,
		order.ID, string(order.Status), order.Urgent, order.IsReturn, order.Cash, order.Card, order.NoDeal,
		order.GlobalDiscountPct.String(), subService, subPart, order.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// MarkInvoiced freezes the order. The locked = FALSE guard in the WHERE
// clause is the authoritative compare-and-set: a concurrent winner makes this
// update match zero rows and the loser gets ErrLockConflict.
func (r Orders) MarkInvoiced(ctx context.Context, params invoicing.MarkInvoicedParams) error {
	tag, err := r.Pool.Exec(ctx, `
		UPDATE service_orders SET
			status = $2, locked = TRUE,
			invoice_number = $3, invoiced_at = $4,
			global_discount_pct = $5::numeric,
			cancelled = FALSE, cancel_reason = '', cancelled_at = NULL, cancelled_by = '',
			updated_at = $4
		WHERE id = $1 AND locked = FALSE`,
		params.OrderID, string(domain.StatusInvoiced),
		params.InvoiceNumber, params.InvoicedAt,
		params.GlobalDiscountPct.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return invoicing.ErrLockConflict
	}
	return nil
}

// MarkCancelled reopens an invoiced order. The status/locked guard is the
// compare-and-set twin of MarkInvoiced. The invoice number stays on the row
// for audit; payment flags are cleared because the settled amount is void.
func (r Orders) MarkCancelled(ctx context.Context, params invoicing.MarkCancelledParams) error {
	tag, err := r.Pool.Exec(ctx, `
		UPDATE service_orders SET
			status = $2, locked = FALSE,
			cash = FALSE, card = FALSE,
			cancelled = TRUE, cancel_reason = $3, cancelled_at = $4, cancelled_by = $5,
			updated_at = $4
		WHERE id = $1 AND status = $6 AND locked = TRUE`,
		params.OrderID, string(params.ReopenStatus),
		params.Reason, params.CancelledAt, params.CancelledBy,
		string(domain.StatusInvoiced),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return invoicing.ErrCancelConflict
	}
	return nil
}

// InsertTray appends a tray row.
func (r Orders) InsertTray(ctx context.Context, tray domain.Tray) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO trays (id, order_id, parent_tray_id, label, finalized, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		tray.ID, tray.OrderID, tray.ParentTrayID, tray.Label, tray.Finalized, tray.CreatedAt,
	)
	return err
}

// UpdateTray rewrites the mutable fields of a tray.
func (r Orders) UpdateTray(ctx context.Context, tray domain.Tray) error {
	tag, err := r.Pool.Exec(ctx, `
		UPDATE trays SET label = $2, finalized = $3 WHERE id = $1`,
		tray.ID, tray.Label, tray.Finalized,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// InsertItem appends a line item row with its price snapshot.
func (r Orders) InsertItem(ctx context.Context, item domain.LineItem) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO line_items (
			id, tray_id, item_type, service_id, part_id, instrument_id,
			quantity, non_repairable_quantity, unit_price, name,
			line_discount_pct, urgent, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::numeric,$10,$11::numeric,$12,$13,$14)`,
		item.ID, item.TrayID, string(item.ItemType), item.ServiceID, item.PartID, item.InstrumentID,
		int64(item.Quantity), int64(item.NonRepairableQuantity), item.UnitPrice.String(), item.Name,
		item.LineDiscountPct.String(), item.Urgent, item.CreatedAt, item.UpdatedAt,
	)
	return err
}

// UpdateItem rewrites the mutable fields of a line item. The price snapshot
// is immutable and deliberately not part of the statement.
func (r Orders) UpdateItem(ctx context.Context, item domain.LineItem) error {
	tag, err := r.Pool.Exec(ctx, `
		UPDATE line_items SET
			quantity = $2, non_repairable_quantity = $3,
			line_discount_pct = $4::numeric, urgent = $5, updated_at = $6
		WHERE id = $1`,
		item.ID, int64(item.Quantity), int64(item.NonRepairableQuantity),
		item.LineDiscountPct.String(), item.Urgent, item.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteItem hard-deletes a line item.
func (r Orders) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	tag, err := r.Pool.Exec(ctx, `DELETE FROM line_items WHERE id = $1`, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanOrder(row pgx.Row) (domain.ServiceOrder, error) {
	var (
		o                       domain.ServiceOrder
		status                  string
		globalPct               string
		subService, subPart     *string
		cancelledAt, invoicedAt *time.Time
	)
	err := row.Scan(
		&o.ID, &o.TenantID, &o.CustomerID, &status,
		&o.Urgent, &o.IsReturn, &o.Cash, &o.Card, &o.NoDeal,
		&globalPct, &subService, &subPart,
		&o.Locked, &o.InvoiceNumber, &invoicedAt,
		&o.Cancelled, &o.CancelReason, &cancelledAt, &o.CancelledBy,
		&o.ArchivedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.ServiceOrder{}, err
	}
	o.Status = domain.Status(status)
	o.InvoicedAt = invoicedAt
	o.CancelledAt = cancelledAt
	if o.GlobalDiscountPct, err = decimal.NewFromString(globalPct); err != nil {
		return domain.ServiceOrder{}, fmt.Errorf("parse global discount: %w", err)
	}
	if subService != nil && subPart != nil {
		sub := domain.SubscriptionDiscount{}
		if sub.ServicePct, err = decimal.NewFromString(*subService); err != nil {
			return domain.ServiceOrder{}, fmt.Errorf("parse subscription service pct: %w", err)
		}
		if sub.PartPct, err = decimal.NewFromString(*subPart); err != nil {
			return domain.ServiceOrder{}, fmt.Errorf("parse subscription part pct: %w", err)
		}
		o.Subscription = &sub
	}
	return o, nil
}

func loadTrays(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) ([]domain.Tray, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, order_id, parent_tray_id, label, finalized, created_at
		FROM trays WHERE order_id = $1
		ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trays []domain.Tray
	for rows.Next() {
		var tr domain.Tray
		if err := rows.Scan(&tr.ID, &tr.OrderID, &tr.ParentTrayID, &tr.Label, &tr.Finalized, &tr.CreatedAt); err != nil {
			return nil, err
		}
		trays = append(trays, tr)
	}
	return trays, rows.Err()
}

func loadItems(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) ([]domain.LineItem, error) {
	rows, err := tx.Query(ctx, `
		SELECT i.id, i.tray_id, i.item_type, i.service_id, i.part_id, i.instrument_id,
			i.quantity, i.non_repairable_quantity, i.unit_price::text, i.name,
			i.line_discount_pct::text, i.urgent, i.created_at, i.updated_at
		FROM line_items i
		JOIN trays t ON t.id = i.tray_id
		WHERE t.order_id = $1
		ORDER BY i.created_at, i.id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var (
			it                 domain.LineItem
			itemType           string
			qty, nonRepairable int64
			unitPrice, linePct string
		)
		if err := rows.Scan(&it.ID, &it.TrayID, &itemType, &it.ServiceID, &it.PartID, &it.InstrumentID,
			&qty, &nonRepairable, &unitPrice, &it.Name,
			&linePct, &it.Urgent, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		it.ItemType = domain.ItemType(itemType)
		it.Quantity = clampQty(qty)
		it.NonRepairableQuantity = clampQty(nonRepairable)
		if it.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, fmt.Errorf("parse unit price: %w", err)
		}
		if it.LineDiscountPct, err = decimal.NewFromString(linePct); err != nil {
			return nil, fmt.Errorf("parse line discount: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func clampQty(v int64) uint32 {
	if v < 0 {
		return 0
	}
	if v > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(v)
}
