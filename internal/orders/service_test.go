package orders_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-atelier/internal/catalog"
	"github.com/noah-isme/backend-atelier/internal/domain"
	"github.com/noah-isme/backend-atelier/internal/orders"
	"github.com/noah-isme/backend-atelier/internal/valuation"
)

type memStore struct {
	orders map[uuid.UUID]domain.ServiceOrder
	trays  map[uuid.UUID][]domain.Tray
	items  map[uuid.UUID][]domain.LineItem
}

func newMemStore() *memStore {
	return &memStore{
		orders: make(map[uuid.UUID]domain.ServiceOrder),
		trays:  make(map[uuid.UUID][]domain.Tray),
		items:  make(map[uuid.UUID][]domain.LineItem),
	}
}

func (m *memStore) CreateOrder(_ context.Context, order domain.ServiceOrder) error {
	m.orders[order.ID] = order
	return nil
}

func (m *memStore) GetGraph(_ context.Context, orderID uuid.UUID) (domain.OrderGraph, error) {
	order, ok := m.orders[orderID]
	if !ok {
		return domain.OrderGraph{}, orders.ErrOrderNotFound
	}
	return domain.OrderGraph{
		Order: order,
		Trays: append([]domain.Tray(nil), m.trays[orderID]...),
		Items: append([]domain.LineItem(nil), m.items[orderID]...),
	}, nil
}

func (m *memStore) UpdateOrder(_ context.Context, order domain.ServiceOrder) error {
	m.orders[order.ID] = order
	return nil
}

func (m *memStore) InsertTray(_ context.Context, tray domain.Tray) error {
	m.trays[tray.OrderID] = append(m.trays[tray.OrderID], tray)
	return nil
}

func (m *memStore) UpdateTray(_ context.Context, tray domain.Tray) error {
	list := m.trays[tray.OrderID]
	for i := range list {
		if list[i].ID == tray.ID {
			list[i] = tray
			return nil
		}
	}
	return domain.ErrTrayNotFound
}

func (m *memStore) InsertItem(_ context.Context, item domain.LineItem) error {
	orderID := m.orderOfTray(item.TrayID)
	m.items[orderID] = append(m.items[orderID], item)
	return nil
}

func (m *memStore) UpdateItem(_ context.Context, item domain.LineItem) error {
	orderID := m.orderOfTray(item.TrayID)
	list := m.items[orderID]
	for i := range list {
		if list[i].ID == item.ID {
			list[i] = item
			return nil
		}
	}
	return orders.ErrItemNotFound
}

func (m *memStore) DeleteItem(_ context.Context, itemID uuid.UUID) error {
	for orderID, list := range m.items {
		for i := range list {
			if list[i].ID == itemID {
				m.items[orderID] = append(list[:i], list[i+1:]...)
				return nil
			}
		}
	}
	return orders.ErrItemNotFound
}

func (m *memStore) orderOfTray(trayID uuid.UUID) uuid.UUID {
	for orderID, list := range m.trays {
		for _, tr := range list {
			if tr.ID == trayID {
				return orderID
			}
		}
	}
	return uuid.Nil
}

type fakeCatalog struct {
	entries map[uuid.UUID]catalog.Entry
}

func (f fakeCatalog) Service(_ context.Context, id uuid.UUID) (catalog.Entry, error) {
	return f.get(id)
}

func (f fakeCatalog) Part(_ context.Context, id uuid.UUID) (catalog.Entry, error) {
	return f.get(id)
}

func (f fakeCatalog) Instrument(_ context.Context, id uuid.UUID) (catalog.Entry, error) {
	return f.get(id)
}

func (f fakeCatalog) get(id uuid.UUID) (catalog.Entry, error) {
	entry, ok := f.entries[id]
	if !ok {
		return catalog.Entry{}, catalog.ErrNotFound
	}
	return entry, nil
}

func newOrderService(store *memStore, cat fakeCatalog) *orders.Service {
	return &orders.Service{
		Store:   store,
		Catalog: cat,
		Engine:  valuation.NewEngine(valuation.DefaultUrgencyBps),
		Logger:  zerolog.Nop(),
	}
}

func seedCatalog() (fakeCatalog, uuid.UUID) {
	serviceID := uuid.New()
	return fakeCatalog{entries: map[uuid.UUID]catalog.Entry{
		serviceID: {ID: serviceID, Name: "polish", UnitPrice: decimal.NewFromInt(40)},
	}}, serviceID
}

func TestCreateAndAddItemSnapshotsPrice(t *testing.T) {
	store := newMemStore()
	cat, serviceID := seedCatalog()
	svc := newOrderService(store, cat)
	ctx := context.Background()

	order, err := svc.Create(ctx, orders.CreateOrderInput{TenantID: "tenant-1", CustomerID: uuid.New()}, "tester")
	require.NoError(t, err)
	require.Equal(t, domain.StatusDraft, order.Status)

	tray, err := svc.AddTray(ctx, order.ID, "intake", "tester")
	require.NoError(t, err)

	item, err := svc.AddItem(ctx, order.ID, tray.ID, orders.AddItemInput{
		Type:      domain.ItemTypeService,
		CatalogID: serviceID,
		Quantity:  3,
	}, "tester")
	require.NoError(t, err)
	require.Equal(t, "polish", item.Name)
	require.Equal(t, "40.00", item.UnitPrice.StringFixed(2))
	require.NotNil(t, item.ServiceID)
	require.Equal(t, serviceID, *item.ServiceID)

	// Price is a snapshot: a later catalog change must not leak in.
	cat.entries[serviceID] = catalog.Entry{ID: serviceID, Name: "polish", UnitPrice: decimal.NewFromInt(90)}
	val, err := svc.Quote(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, "120.00", val.Total.StringFixed(2))
}

func TestAddItemUnknownCatalogRef(t *testing.T) {
	store := newMemStore()
	cat, _ := seedCatalog()
	svc := newOrderService(store, cat)
	ctx := context.Background()

	order, err := svc.Create(ctx, orders.CreateOrderInput{TenantID: "tenant-1", CustomerID: uuid.New()}, "tester")
	require.NoError(t, err)
	tray, err := svc.AddTray(ctx, order.ID, "", "tester")
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, order.ID, tray.ID, orders.AddItemInput{
		Type:      domain.ItemTypePart,
		CatalogID: uuid.New(),
		Quantity:  1,
	}, "tester")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestMutationsRejectedWhileLocked(t *testing.T) {
	store := newMemStore()
	cat, serviceID := seedCatalog()
	svc := newOrderService(store, cat)
	ctx := context.Background()

	order, err := svc.Create(ctx, orders.CreateOrderInput{TenantID: "tenant-1", CustomerID: uuid.New()}, "tester")
	require.NoError(t, err)
	tray, err := svc.AddTray(ctx, order.ID, "", "tester")
	require.NoError(t, err)
	item, err := svc.AddItem(ctx, order.ID, tray.ID, orders.AddItemInput{
		Type: domain.ItemTypeService, CatalogID: serviceID, Quantity: 1,
	}, "tester")
	require.NoError(t, err)

	locked := store.orders[order.ID]
	locked.Locked = true
	locked.Status = domain.StatusInvoiced
	store.orders[order.ID] = locked

	urgent := true
	_, err = svc.Update(ctx, order.ID, orders.UpdateOrderInput{Urgent: &urgent}, "tester")
	require.ErrorIs(t, err, orders.ErrOrderLocked)

	_, err = svc.AddTray(ctx, order.ID, "late", "tester")
	require.ErrorIs(t, err, orders.ErrOrderLocked)

	_, err = svc.UpdateItem(ctx, order.ID, item.ID, orders.UpdateItemInput{Urgent: &urgent}, "tester")
	require.ErrorIs(t, err, orders.ErrOrderLocked)

	err = svc.RemoveItem(ctx, order.ID, item.ID, "tester")
	require.ErrorIs(t, err, orders.ErrOrderLocked)
}

func TestUpdateClampsDiscounts(t *testing.T) {
	store := newMemStore()
	cat, _ := seedCatalog()
	svc := newOrderService(store, cat)
	ctx := context.Background()

	order, err := svc.Create(ctx, orders.CreateOrderInput{TenantID: "tenant-1", CustomerID: uuid.New()}, "tester")
	require.NoError(t, err)

	over := decimal.NewFromInt(140)
	updated, err := svc.Update(ctx, order.ID, orders.UpdateOrderInput{
		GlobalDiscountPct: &over,
		Subscription: &domain.SubscriptionDiscount{
			ServicePct: decimal.NewFromInt(-5),
			PartPct:    decimal.NewFromInt(30),
		},
	}, "tester")
	require.NoError(t, err)
	require.Equal(t, "100", updated.GlobalDiscountPct.String())
	require.Equal(t, "0", updated.Subscription.ServicePct.String())
	require.Equal(t, "30", updated.Subscription.PartPct.String())
}

func TestUpdateRejectsInvoicedStatus(t *testing.T) {
	store := newMemStore()
	cat, _ := seedCatalog()
	svc := newOrderService(store, cat)
	ctx := context.Background()

	order, err := svc.Create(ctx, orders.CreateOrderInput{TenantID: "tenant-1", CustomerID: uuid.New()}, "tester")
	require.NoError(t, err)

	status := domain.StatusInvoiced
	_, err = svc.Update(ctx, order.ID, orders.UpdateOrderInput{Status: &status}, "tester")
	require.ErrorIs(t, err, orders.ErrInvalidStatus)
}

func TestSplitTrayBuildsChild(t *testing.T) {
	store := newMemStore()
	cat, _ := seedCatalog()
	svc := newOrderService(store, cat)
	ctx := context.Background()

	order, err := svc.Create(ctx, orders.CreateOrderInput{TenantID: "tenant-1", CustomerID: uuid.New()}, "tester")
	require.NoError(t, err)
	parent, err := svc.AddTray(ctx, order.ID, "intake", "tester")
	require.NoError(t, err)

	child, err := svc.SplitTray(ctx, order.ID, parent.ID, "sharpening", "tester")
	require.NoError(t, err)
	require.NotNil(t, child.ParentTrayID)
	require.Equal(t, parent.ID, *child.ParentTrayID)

	_, err = svc.SplitTray(ctx, order.ID, uuid.New(), "ghost", "tester")
	require.ErrorIs(t, err, domain.ErrTrayNotFound)
}

func TestFinalizeTrayToggles(t *testing.T) {
	store := newMemStore()
	cat, _ := seedCatalog()
	svc := newOrderService(store, cat)
	ctx := context.Background()

	order, err := svc.Create(ctx, orders.CreateOrderInput{TenantID: "tenant-1", CustomerID: uuid.New()}, "tester")
	require.NoError(t, err)
	tray, err := svc.AddTray(ctx, order.ID, "", "tester")
	require.NoError(t, err)

	require.NoError(t, svc.FinalizeTray(ctx, order.ID, tray.ID, true, "tester"))
	graph, err := svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, graph.Trays[0].Finalized)

	require.NoError(t, svc.FinalizeTray(ctx, order.ID, tray.ID, false, "tester"))
	graph, err = svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.False(t, graph.Trays[0].Finalized)
}

func TestUpdateItemClampsNonRepairable(t *testing.T) {
	store := newMemStore()
	cat, serviceID := seedCatalog()
	svc := newOrderService(store, cat)
	ctx := context.Background()

	order, err := svc.Create(ctx, orders.CreateOrderInput{TenantID: "tenant-1", CustomerID: uuid.New()}, "tester")
	require.NoError(t, err)
	tray, err := svc.AddTray(ctx, order.ID, "", "tester")
	require.NoError(t, err)
	item, err := svc.AddItem(ctx, order.ID, tray.ID, orders.AddItemInput{
		Type: domain.ItemTypeService, CatalogID: serviceID, Quantity: 4,
	}, "tester")
	require.NoError(t, err)

	nr := uint32(9)
	updated, err := svc.UpdateItem(ctx, order.ID, item.ID, orders.UpdateItemInput{NonRepairableQuantity: &nr}, "tester")
	require.NoError(t, err)
	require.Equal(t, uint32(4), updated.NonRepairableQuantity)
	require.Zero(t, updated.BillableQuantity())
}
