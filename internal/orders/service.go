package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-atelier/internal/audit"
	"github.com/noah-isme/backend-atelier/internal/catalog"
	"github.com/noah-isme/backend-atelier/internal/domain"
	"github.com/noah-isme/backend-atelier/internal/events"
	"github.com/noah-isme/backend-atelier/internal/valuation"
)

var (
	// ErrOrderLocked rejects every mutation while the order is invoiced.
	ErrOrderLocked = errors.New("order is locked")
	// ErrOrderNotFound is returned when the order id does not resolve.
	ErrOrderNotFound = errors.New("order not found")
	// ErrItemNotFound is returned when the line item id does not resolve.
	ErrItemNotFound = errors.New("line item not found")
	// ErrInvalidStatus rejects a status change outside the open set.
	ErrInvalidStatus = errors.New("invalid status transition")
)

// Store is the persistence port of the order service.
type Store interface {
	CreateOrder(ctx context.Context, order domain.ServiceOrder) error
	GetGraph(ctx context.Context, orderID uuid.UUID) (domain.OrderGraph, error)
	UpdateOrder(ctx context.Context, order domain.ServiceOrder) error
	InsertTray(ctx context.Context, tray domain.Tray) error
	UpdateTray(ctx context.Context, tray domain.Tray) error
	InsertItem(ctx context.Context, item domain.LineItem) error
	UpdateItem(ctx context.Context, item domain.LineItem) error
	DeleteItem(ctx context.Context, itemID uuid.UUID) error
}

// Board mirrors open orders onto the workshop scheduling view. Additions are
// best-effort; invoicing owns the removal.
type Board interface {
	Add(ctx context.Context, orderID uuid.UUID) error
}

// Service mutates the order graph while it is unlocked and computes quote
// previews. It never touches invoice state; that is the state machine's job.
type Service struct {
	Store   Store
	Catalog catalog.Lookup
	Engine  *valuation.Engine
	Events  *events.Bus
	Audit   *audit.Emitter
	Board   Board
	Logger  zerolog.Logger
	Now     func() time.Time
}

// CreateOrderInput seeds a new draft order.
type CreateOrderInput struct {
	TenantID   string
	CustomerID uuid.UUID
	Urgent     bool
	IsReturn   bool
}

// Create persists a fresh draft order.
func (s *Service) Create(ctx context.Context, in CreateOrderInput, actor string) (domain.ServiceOrder, error) {
	now := s.now()
	order := domain.ServiceOrder{
		ID:                uuid.New(),
		TenantID:          strings.TrimSpace(in.TenantID),
		CustomerID:        in.CustomerID,
		Status:            domain.StatusDraft,
		Urgent:            in.Urgent,
		IsReturn:          in.IsReturn,
		GlobalDiscountPct: decimal.Zero,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.Store.CreateOrder(ctx, order); err != nil {
		return domain.ServiceOrder{}, fmt.Errorf("create order: %w", err)
	}
	if s.Board != nil {
		if err := s.Board.Add(ctx, order.ID); err != nil {
			s.Logger.Warn().Err(err).Str("order_id", order.ID.String()).Msg("board add failed")
		}
	}
	s.Audit.Record("service_order", order.ID.String(), "order.created", "draft order created", actor, nil)
	return order, nil
}

// Get loads a consistent snapshot of the order graph.
func (s *Service) Get(ctx context.Context, orderID uuid.UUID) (domain.OrderGraph, error) {
	return s.Store.GetGraph(ctx, orderID)
}

// UpdateOrderInput carries optional field updates; nil means unchanged.
type UpdateOrderInput struct {
	Status            *domain.Status
	Urgent            *bool
	IsReturn          *bool
	Cash              *bool
	Card              *bool
	NoDeal            *bool
	GlobalDiscountPct *decimal.Decimal
	Subscription      *domain.SubscriptionDiscount
	ClearSubscription bool
}

// Update applies guarded field-by-field mutation to an unlocked order.
func (s *Service) Update(ctx context.Context, orderID uuid.UUID, in UpdateOrderInput, actor string) (domain.ServiceOrder, error) {
	graph, err := s.Store.GetGraph(ctx, orderID)
	if err != nil {
		return domain.ServiceOrder{}, err
	}
	order := graph.Order
	if order.Locked {
		return domain.ServiceOrder{}, ErrOrderLocked
	}

	if in.Status != nil {
		// Only movements inside the open set go through here; invoicing and
		// cancellation own the other transitions.
		if !in.Status.Open() {
			return domain.ServiceOrder{}, ErrInvalidStatus
		}
		order.Status = *in.Status
	}
	if in.Urgent != nil {
		order.Urgent = *in.Urgent
	}
	if in.IsReturn != nil {
		order.IsReturn = *in.IsReturn
	}
	if in.Cash != nil {
		order.Cash = *in.Cash
	}
	if in.Card != nil {
		order.Card = *in.Card
	}
	if in.NoDeal != nil {
		order.NoDeal = *in.NoDeal
	}
	if in.GlobalDiscountPct != nil {
		order.GlobalDiscountPct = domain.ClampPct(*in.GlobalDiscountPct)
	}
	if in.ClearSubscription {
		order.Subscription = nil
	} else if in.Subscription != nil {
		order.Subscription = &domain.SubscriptionDiscount{
			ServicePct: domain.ClampPct(in.Subscription.ServicePct),
			PartPct:    domain.ClampPct(in.Subscription.PartPct),
		}
	}
	order.UpdatedAt = s.now()

	if err := s.Store.UpdateOrder(ctx, order); err != nil {
		return domain.ServiceOrder{}, fmt.Errorf("update order: %w", err)
	}
	s.Audit.Record("service_order", order.ID.String(), "order.updated", "order fields updated", actor, nil)
	return order, nil
}

// AddTray appends a root tray to an unlocked order.
func (s *Service) AddTray(ctx context.Context, orderID uuid.UUID, label string, actor string) (domain.Tray, error) {
	graph, err := s.Store.GetGraph(ctx, orderID)
	if err != nil {
		return domain.Tray{}, err
	}
	if graph.Order.Locked {
		return domain.Tray{}, ErrOrderLocked
	}
	tray := domain.Tray{
		ID:        uuid.New(),
		OrderID:   orderID,
		Label:     strings.TrimSpace(label),
		CreatedAt: s.now(),
	}
	if err := s.Store.InsertTray(ctx, tray); err != nil {
		return domain.Tray{}, fmt.Errorf("insert tray: %w", err)
	}
	s.Audit.Record("tray", tray.ID.String(), "tray.added", "tray added", actor, nil)
	return tray, nil
}

// SplitTray creates a child tray pointing back at an existing one. The arena
// guarantees the parent reference is strictly backward.
func (s *Service) SplitTray(ctx context.Context, orderID, parentTrayID uuid.UUID, label string, actor string) (domain.Tray, error) {
	graph, err := s.Store.GetGraph(ctx, orderID)
	if err != nil {
		return domain.Tray{}, err
	}
	if graph.Order.Locked {
		return domain.Tray{}, ErrOrderLocked
	}
	arena, err := domain.NewTrayArena(graph.Trays)
	if err != nil {
		return domain.Tray{}, fmt.Errorf("order %s tray tree corrupt: %w", orderID, err)
	}
	child, err := arena.Split(parentTrayID, strings.TrimSpace(label), s.now())
	if err != nil {
		return domain.Tray{}, err
	}
	if err := s.Store.InsertTray(ctx, child); err != nil {
		return domain.Tray{}, fmt.Errorf("insert split tray: %w", err)
	}
	s.Audit.Record("tray", child.ID.String(), "tray.split", "tray split from "+parentTrayID.String(), actor, nil)
	return child, nil
}

// FinalizeTray toggles the finalized sub-state of a tray.
func (s *Service) FinalizeTray(ctx context.Context, orderID, trayID uuid.UUID, finalized bool, actor string) error {
	graph, err := s.Store.GetGraph(ctx, orderID)
	if err != nil {
		return err
	}
	if graph.Order.Locked {
		return ErrOrderLocked
	}
	arena, err := domain.NewTrayArena(graph.Trays)
	if err != nil {
		return fmt.Errorf("order %s tray tree corrupt: %w", orderID, err)
	}
	tray, err := arena.Get(trayID)
	if err != nil {
		return err
	}
	tray.Finalized = finalized
	if err := s.Store.UpdateTray(ctx, tray); err != nil {
		return fmt.Errorf("update tray: %w", err)
	}
	s.Audit.Record("tray", trayID.String(), "tray.finalized", fmt.Sprintf("finalized=%t", finalized), actor, nil)
	return nil
}

// AddItemInput describes a new line item. Exactly the catalog reference
// matching Type is consulted, once, to snapshot price and name.
type AddItemInput struct {
	Type                  domain.ItemType
	CatalogID             uuid.UUID
	Quantity              uint32
	NonRepairableQuantity uint32
	LineDiscountPct       decimal.Decimal
	Urgent                bool
}

// AddItem snapshots the catalog price onto a new line item in the given tray.
func (s *Service) AddItem(ctx context.Context, orderID, trayID uuid.UUID, in AddItemInput, actor string) (domain.LineItem, error) {
	graph, err := s.Store.GetGraph(ctx, orderID)
	if err != nil {
		return domain.LineItem{}, err
	}
	if graph.Order.Locked {
		return domain.LineItem{}, ErrOrderLocked
	}
	arena, err := domain.NewTrayArena(graph.Trays)
	if err != nil {
		return domain.LineItem{}, fmt.Errorf("order %s tray tree corrupt: %w", orderID, err)
	}
	if _, err := arena.Get(trayID); err != nil {
		return domain.LineItem{}, err
	}

	entry, err := s.resolveCatalog(ctx, in.Type, in.CatalogID)
	if err != nil {
		return domain.LineItem{}, err
	}

	nonRepairable := in.NonRepairableQuantity
	if nonRepairable > in.Quantity {
		nonRepairable = in.Quantity
	}
	now := s.now()
	item := domain.LineItem{
		ID:                    uuid.New(),
		TrayID:                trayID,
		ItemType:              in.Type,
		Quantity:              in.Quantity,
		NonRepairableQuantity: nonRepairable,
		UnitPrice:             entry.UnitPrice,
		Name:                  entry.Name,
		LineDiscountPct:       domain.ClampPct(in.LineDiscountPct),
		Urgent:                in.Urgent,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	switch in.Type {
	case domain.ItemTypeService:
		item.ServiceID = &entry.ID
	case domain.ItemTypePart:
		item.PartID = &entry.ID
	case domain.ItemTypeInstrumentOnly:
		item.InstrumentID = &entry.ID
	}
	if err := s.Store.InsertItem(ctx, item); err != nil {
		return domain.LineItem{}, fmt.Errorf("insert item: %w", err)
	}
	s.Audit.Record("line_item", item.ID.String(), "item.added",
		fmt.Sprintf("%s %q added, unit price %s", in.Type, entry.Name, entry.UnitPrice.StringFixed(2)), actor, nil)
	return item, nil
}

// UpdateItemInput carries optional line item updates; nil means unchanged.
// The price snapshot is immutable and deliberately absent.
type UpdateItemInput struct {
	Quantity              *uint32
	NonRepairableQuantity *uint32
	LineDiscountPct       *decimal.Decimal
	Urgent                *bool
}

// UpdateItem mutates a line item of an unlocked order.
func (s *Service) UpdateItem(ctx context.Context, orderID, itemID uuid.UUID, in UpdateItemInput, actor string) (domain.LineItem, error) {
	graph, err := s.Store.GetGraph(ctx, orderID)
	if err != nil {
		return domain.LineItem{}, err
	}
	if graph.Order.Locked {
		return domain.LineItem{}, ErrOrderLocked
	}
	item, ok := findItem(graph.Items, itemID)
	if !ok {
		return domain.LineItem{}, ErrItemNotFound
	}

	if in.Quantity != nil {
		item.Quantity = *in.Quantity
	}
	if in.NonRepairableQuantity != nil {
		item.NonRepairableQuantity = *in.NonRepairableQuantity
	}
	if item.NonRepairableQuantity > item.Quantity {
		item.NonRepairableQuantity = item.Quantity
	}
	if in.LineDiscountPct != nil {
		item.LineDiscountPct = domain.ClampPct(*in.LineDiscountPct)
	}
	if in.Urgent != nil {
		item.Urgent = *in.Urgent
	}
	item.UpdatedAt = s.now()

	if err := s.Store.UpdateItem(ctx, item); err != nil {
		return domain.LineItem{}, fmt.Errorf("update item: %w", err)
	}
	s.Audit.Record("line_item", itemID.String(), "item.updated", "line item updated", actor, nil)
	return item, nil
}

// RemoveItem hard-deletes a line item. Once the order is invoiced the lock
// makes this unreachable, so invoiced items are never physically removed.
func (s *Service) RemoveItem(ctx context.Context, orderID, itemID uuid.UUID, actor string) error {
	graph, err := s.Store.GetGraph(ctx, orderID)
	if err != nil {
		return err
	}
	if graph.Order.Locked {
		return ErrOrderLocked
	}
	if _, ok := findItem(graph.Items, itemID); !ok {
		return ErrItemNotFound
	}
	if err := s.Store.DeleteItem(ctx, itemID); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	s.Audit.Record("line_item", itemID.String(), "item.removed", "line item removed", actor, nil)
	return nil
}

// Quote recomputes the order valuation from a fresh snapshot. The result is
// derived state; nothing is persisted.
func (s *Service) Quote(ctx context.Context, orderID uuid.UUID) (valuation.OrderValuation, error) {
	graph, err := s.Store.GetGraph(ctx, orderID)
	if err != nil {
		return valuation.OrderValuation{}, err
	}
	val := s.Engine.Order(graph)
	if s.Events != nil {
		payload := map[string]any{"total": val.Total.StringFixed(2)}
		if _, err := s.Events.Emit(ctx, events.TopicOrderValuated, orderID, payload); err != nil {
			s.Logger.Debug().Err(err).Str("order_id", orderID.String()).Msg("emit order.valuated failed")
		}
	}
	return val, nil
}

func (s *Service) resolveCatalog(ctx context.Context, itemType domain.ItemType, id uuid.UUID) (catalog.Entry, error) {
	switch itemType {
	case domain.ItemTypeService:
		return s.Catalog.Service(ctx, id)
	case domain.ItemTypePart:
		return s.Catalog.Part(ctx, id)
	case domain.ItemTypeInstrumentOnly:
		return s.Catalog.Instrument(ctx, id)
	default:
		return catalog.Entry{}, fmt.Errorf("unknown item type %q", itemType)
	}
}

func findItem(items []domain.LineItem, id uuid.UUID) (domain.LineItem, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return domain.LineItem{}, false
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
