package orders

import (
	"github.com/noah-isme/backend-atelier/internal/domain"
	"github.com/noah-isme/backend-atelier/internal/valuation"
)

func orderResponse(order domain.ServiceOrder) map[string]any {
	resp := map[string]any{
		"id":                order.ID,
		"tenantId":          order.TenantID,
		"customerId":        order.CustomerID,
		"status":            order.Status,
		"urgent":            order.Urgent,
		"isReturn":          order.IsReturn,
		"cash":              order.Cash,
		"card":              order.Card,
		"noDeal":            order.NoDeal,
		"globalDiscountPct": order.GlobalDiscountPct.String(),
		"locked":            order.Locked,
		"cancelled":         order.Cancelled,
		"createdAt":         order.CreatedAt,
		"updatedAt":         order.UpdatedAt,
	}
	if order.Subscription != nil {
		resp["subscription"] = map[string]any{
			"servicePct": order.Subscription.ServicePct.String(),
			"partPct":    order.Subscription.PartPct.String(),
		}
	}
	if order.InvoiceNumber != nil {
		resp["invoiceNumber"] = *order.InvoiceNumber
	}
	if order.InvoicedAt != nil {
		resp["invoicedAt"] = *order.InvoicedAt
	}
	if order.Cancelled {
		resp["cancelReason"] = order.CancelReason
		resp["cancelledBy"] = order.CancelledBy
		if order.CancelledAt != nil {
			resp["cancelledAt"] = *order.CancelledAt
		}
	}
	return resp
}

func trayResponse(tray domain.Tray) map[string]any {
	resp := map[string]any{
		"id":        tray.ID,
		"orderId":   tray.OrderID,
		"label":     tray.Label,
		"finalized": tray.Finalized,
		"createdAt": tray.CreatedAt,
	}
	if tray.ParentTrayID != nil {
		resp["parentTrayId"] = *tray.ParentTrayID
	}
	return resp
}

func itemResponse(item domain.LineItem) map[string]any {
	resp := map[string]any{
		"id":                    item.ID,
		"trayId":                item.TrayID,
		"type":                  item.ItemType,
		"name":                  item.Name,
		"quantity":              item.Quantity,
		"nonRepairableQuantity": item.NonRepairableQuantity,
		"unitPrice":             item.UnitPrice.StringFixed(2),
		"lineDiscountPct":       item.LineDiscountPct.String(),
		"urgent":                item.Urgent,
		"createdAt":             item.CreatedAt,
		"updatedAt":             item.UpdatedAt,
	}
	if item.ServiceID != nil {
		resp["serviceId"] = *item.ServiceID
	}
	if item.PartID != nil {
		resp["partId"] = *item.PartID
	}
	if item.InstrumentID != nil {
		resp["instrumentId"] = *item.InstrumentID
	}
	return resp
}

func graphResponse(graph domain.OrderGraph) map[string]any {
	trays := make([]map[string]any, 0, len(graph.Trays))
	for _, tray := range graph.Trays {
		tr := trayResponse(tray)
		items := graph.TrayItems(tray.ID)
		rows := make([]map[string]any, 0, len(items))
		for _, item := range items {
			rows = append(rows, itemResponse(item))
		}
		tr["items"] = rows
		trays = append(trays, tr)
	}
	resp := orderResponse(graph.Order)
	resp["trays"] = trays
	return resp
}

func valuationResponse(val valuation.OrderValuation) map[string]any {
	trays := make([]map[string]any, 0, len(val.Trays))
	for _, tv := range val.Trays {
		lines := make([]map[string]any, 0, len(tv.Lines))
		for _, lv := range tv.Lines {
			lines = append(lines, map[string]any{
				"itemId":            lv.ItemID,
				"type":              lv.ItemType,
				"billableQty":       lv.BillableQty,
				"subtotal":          lv.Subtotal.StringFixed(2),
				"lineDiscount":      lv.LineDiscount.StringFixed(2),
				"urgencyAdjustment": lv.UrgencyAdjustment.StringFixed(2),
				"total":             lv.Total.StringFixed(2),
			})
		}
		trays = append(trays, map[string]any{
			"trayId":            tv.TrayID,
			"subtotal":          tv.Subtotal.StringFixed(2),
			"lineDiscountTotal": tv.LineDiscountTotal.StringFixed(2),
			"urgencyTotal":      tv.UrgencyTotal.StringFixed(2),
			"total":             tv.Total.StringFixed(2),
			"lines":             lines,
		})
	}
	return map[string]any{
		"orderId":              val.OrderID,
		"trayTotal":            val.TrayTotal.StringFixed(2),
		"serviceSubtotal":      val.ServiceSubtotal.StringFixed(2),
		"partSubtotal":         val.PartSubtotal.StringFixed(2),
		"subscriptionDiscount": val.SubscriptionDiscount.StringFixed(2),
		"afterSubscription":    val.AfterSubscription.StringFixed(2),
		"globalDiscount":       val.GlobalDiscount.StringFixed(2),
		"total":                val.Total.StringFixed(2),
		"trays":                trays,
	}
}
