package orders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-atelier/internal/audit"
	"github.com/noah-isme/backend-atelier/internal/catalog"
	"github.com/noah-isme/backend-atelier/internal/common"
	"github.com/noah-isme/backend-atelier/internal/domain"
	"github.com/noah-isme/backend-atelier/internal/invoicing"
)

// ArchiveReader loads the immutable snapshot written at invoice time.
type ArchiveReader interface {
	Get(ctx context.Context, orderID uuid.UUID) (json.RawMessage, error)
}

// AuditReader lists the audit trail of one entity.
type AuditReader interface {
	ListAuditEntries(ctx context.Context, entityType, entityID string, limit int32) ([]audit.Entry, error)
}

// Handler exposes the order graph and the invoicing transitions over HTTP.
// The surrounding application owns authentication; the actor is taken from
// the X-Actor header the gateway injects.
type Handler struct {
	Svc      *Service
	Invoicer *invoicing.Service
	Archives ArchiveReader
	Audits   AuditReader
	Validate *validator.Validate
}

// Register mounts the order routes on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Route("/{orderID}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Patch("/", h.UpdateOrder)
			r.Get("/quote", h.Quote)
			r.Get("/archive", h.GetArchive)
			r.Get("/audit", h.ListAudit)
			r.Post("/invoice", h.Invoice)
			r.Post("/cancel", h.Cancel)
			r.Post("/trays", h.AddTray)
			r.Route("/trays/{trayID}", func(r chi.Router) {
				r.Post("/split", h.SplitTray)
				r.Put("/finalize", h.FinalizeTray)
				r.Post("/items", h.AddItem)
			})
			r.Route("/items/{itemID}", func(r chi.Router) {
				r.Patch("/", h.UpdateItem)
				r.Delete("/", h.RemoveItem)
			})
		})
	})
}

type createOrderRequest struct {
	TenantID   string `json:"tenantId" validate:"required"`
	CustomerID string `json:"customerId" validate:"required,uuid4"`
	Urgent     bool   `json:"urgent"`
	IsReturn   bool   `json:"isReturn"`
}

// CreateOrder opens a new draft order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid customer id", nil)
		return
	}
	order, err := h.Svc.Create(r.Context(), CreateOrderInput{
		TenantID:   req.TenantID,
		CustomerID: customerID,
		Urgent:     req.Urgent,
		IsReturn:   req.IsReturn,
	}, actorOf(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, orderResponse(order))
}

// GetOrder returns the order graph.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "orderID")
	if !ok {
		return
	}
	graph, err := h.Svc.Get(r.Context(), orderID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, graphResponse(graph))
}

type subscriptionRequest struct {
	ServicePct float64 `json:"servicePct" validate:"gte=0,lte=100"`
	PartPct    float64 `json:"partPct" validate:"gte=0,lte=100"`
}

type updateOrderRequest struct {
	Status            *string              `json:"status"`
	Urgent            *bool                `json:"urgent"`
	IsReturn          *bool                `json:"isReturn"`
	Cash              *bool                `json:"cash"`
	Card              *bool                `json:"card"`
	NoDeal            *bool                `json:"noDeal"`
	GlobalDiscountPct *float64             `json:"globalDiscountPct" validate:"omitempty,gte=0,lte=100"`
	Subscription      *subscriptionRequest `json:"subscription"`
	ClearSubscription bool                 `json:"clearSubscription"`
}

// UpdateOrder applies guarded field updates while the order is unlocked.
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "orderID")
	if !ok {
		return
	}
	var req updateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := UpdateOrderInput{
		Urgent:            req.Urgent,
		IsReturn:          req.IsReturn,
		Cash:              req.Cash,
		Card:              req.Card,
		NoDeal:            req.NoDeal,
		ClearSubscription: req.ClearSubscription,
	}
	if req.Status != nil {
		status := domain.Status(strings.ToLower(strings.TrimSpace(*req.Status)))
		in.Status = &status
	}
	if req.GlobalDiscountPct != nil {
		pct := decimal.NewFromFloat(*req.GlobalDiscountPct)
		in.GlobalDiscountPct = &pct
	}
	if req.Subscription != nil {
		in.Subscription = &domain.SubscriptionDiscount{
			ServicePct: decimal.NewFromFloat(req.Subscription.ServicePct),
			PartPct:    decimal.NewFromFloat(req.Subscription.PartPct),
		}
	}
	order, err := h.Svc.Update(r.Context(), orderID, in, actorOf(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, orderResponse(order))
}

// Quote returns the recomputed valuation of the order graph.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "orderID")
	if !ok {
		return
	}
	val, err := h.Svc.Quote(r.Context(), orderID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, valuationResponse(val))
}

// GetArchive returns the snapshot archived at invoice time.
func (h *Handler) GetArchive(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "orderID")
	if !ok {
		return
	}
	if h.Archives == nil {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "archive store not configured", nil)
		return
	}
	snapshot, err := h.Archives.Get(r.Context(), orderID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"snapshot": snapshot})
}

// ListAudit returns the newest audit entries recorded for the order.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "orderID")
	if !ok {
		return
	}
	if h.Audits == nil {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "audit store not configured", nil)
		return
	}
	limit := int32(50)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 32); err == nil {
			limit = int32(parsed)
		}
	}
	entries, err := h.Audits.ListAuditEntries(r.Context(), "service_order", orderID.String(), limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	rows := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, map[string]any{
			"eventType": e.EventType,
			"message":   e.Message,
			"actor":     e.Actor,
			"details":   e.Details,
			"createdAt": e.CreatedAt,
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{"entries": rows})
}

// Invoice runs the invoice transition and returns either the receipt or the
// full list of violated preconditions.
func (h *Handler) Invoice(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "orderID")
	if !ok {
		return
	}
	receipt, err := h.Invoicer.Invoice(r.Context(), orderID, actorOf(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, receipt)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// Cancel reverts an invoiced order to a mutable status.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "orderID")
	if !ok {
		return
	}
	var req cancelRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Invoicer.Cancel(r.Context(), orderID, req.Reason, actorOf(r)); err != nil {
		h.respondError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

type trayRequest struct {
	Label string `json:"label"`
}

// AddTray appends a root tray.
func (h *Handler) AddTray(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "orderID")
	if !ok {
		return
	}
	var req trayRequest
	if !h.decode(w, r, &req) {
		return
	}
	tray, err := h.Svc.AddTray(r.Context(), orderID, req.Label, actorOf(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, trayResponse(tray))
}

// SplitTray creates a child tray of an existing one.
func (h *Handler) SplitTray(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "orderID")
	if !ok {
		return
	}
	trayID, ok := pathUUID(w, r, "trayID")
	if !ok {
		return
	}
	var req trayRequest
	if !h.decode(w, r, &req) {
		return
	}
	tray, err := h.Svc.SplitTray(r.Context(), orderID, trayID, req.Label, actorOf(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, trayResponse(tray))
}

type finalizeTrayRequest struct {
	Finalized bool `json:"finalized"`
}

// FinalizeTray toggles the finalized sub-state of a tray.
func (h *Handler) FinalizeTray(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "orderID")
	if !ok {
		return
	}
	trayID, ok := pathUUID(w, r, "trayID")
	if !ok {
		return
	}
	var req finalizeTrayRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Svc.FinalizeTray(r.Context(), orderID, trayID, req.Finalized, actorOf(r)); err != nil {
		h.respondError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"finalized": req.Finalized})
}

type addItemRequest struct {
	Type                  string  `json:"type" validate:"required,oneof=service part instrument_only"`
	CatalogID             string  `json:"catalogId" validate:"required,uuid4"`
	Quantity              uint32  `json:"quantity"`
	NonRepairableQuantity uint32  `json:"nonRepairableQuantity"`
	LineDiscountPct       float64 `json:"lineDiscountPct" validate:"gte=0,lte=100"`
	Urgent                bool    `json:"urgent"`
}

// AddItem creates a line item, snapshotting the catalog price.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "orderID")
	if !ok {
		return
	}
	trayID, ok := pathUUID(w, r, "trayID")
	if !ok {
		return
	}
	var req addItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	catalogID, err := uuid.Parse(req.CatalogID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid catalog id", nil)
		return
	}
	item, err := h.Svc.AddItem(r.Context(), orderID, trayID, AddItemInput{
		Type:                  domain.ItemType(req.Type),
		CatalogID:             catalogID,
		Quantity:              req.Quantity,
		NonRepairableQuantity: req.NonRepairableQuantity,
		LineDiscountPct:       decimal.NewFromFloat(req.LineDiscountPct),
		Urgent:                req.Urgent,
	}, actorOf(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, itemResponse(item))
}

type updateItemRequest struct {
	Quantity              *uint32  `json:"quantity"`
	NonRepairableQuantity *uint32  `json:"nonRepairableQuantity"`
	LineDiscountPct       *float64 `json:"lineDiscountPct" validate:"omitempty,gte=0,lte=100"`
	Urgent                *bool    `json:"urgent"`
}

// UpdateItem mutates a line item of an unlocked order.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "orderID")
	if !ok {
		return
	}
	itemID, ok := pathUUID(w, r, "itemID")
	if !ok {
		return
	}
	var req updateItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := UpdateItemInput{
		Quantity:              req.Quantity,
		NonRepairableQuantity: req.NonRepairableQuantity,
		Urgent:                req.Urgent,
	}
	if req.LineDiscountPct != nil {
		pct := decimal.NewFromFloat(*req.LineDiscountPct)
		in.LineDiscountPct = &pct
	}
	item, err := h.Svc.UpdateItem(r.Context(), orderID, itemID, in, actorOf(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, itemResponse(item))
}

// RemoveItem hard-deletes a line item while the order is unlocked.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "orderID")
	if !ok {
		return
	}
	itemID, ok := pathUUID(w, r, "itemID")
	if !ok {
		return
	}
	if err := h.Svc.RemoveItem(r.Context(), orderID, itemID, actorOf(r)); err != nil {
		h.respondError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"removed": true})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return false
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(v); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
			return false
		}
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var verrs invoicing.ValidationErrors
	if errors.As(err, &verrs) {
		common.JSONError(w, http.StatusUnprocessableEntity, "PRECONDITIONS_FAILED", verrs.Error(), verrs)
		return
	}
	appErr := appErrorFor(err)
	common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
}

// appErrorFor maps a service-layer failure onto its HTTP representation.
// Errors that already carry an AppError pass through untouched.
func appErrorFor(err error) *common.AppError {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var opErr *invoicing.OperationError
	if errors.As(err, &opErr) {
		status := http.StatusInternalServerError
		if opErr.Retryable {
			status = http.StatusServiceUnavailable
		}
		return common.NewAppError("OPERATION_FAILED", opErr.Error(), status, opErr)
	}
	switch {
	case errors.Is(err, ErrOrderLocked):
		return common.NewAppError("ORDER_LOCKED", "order is locked", http.StatusConflict, err)
	case errors.Is(err, ErrInvalidStatus):
		return common.NewAppError("INVALID_STATUS", "invalid status transition", http.StatusUnprocessableEntity, err)
	case errors.Is(err, catalog.ErrNotFound):
		return common.NewAppError("UNKNOWN_CATALOG_REF", "catalog reference does not resolve", http.StatusUnprocessableEntity, err)
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrItemNotFound),
		errors.Is(err, domain.ErrTrayNotFound), errors.Is(err, pgx.ErrNoRows):
		return common.NewAppError("NOT_FOUND", "resource not found", http.StatusNotFound, err)
	default:
		return common.NewAppError("INTERNAL", "unexpected error", http.StatusInternalServerError, err)
	}
}

func actorOf(r *http.Request) string {
	actor := strings.TrimSpace(r.Header.Get("X-Actor"))
	if actor == "" {
		return "anonymous"
	}
	return actor
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}
