package orders_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-atelier/internal/domain"
	"github.com/noah-isme/backend-atelier/internal/invoicing"
	"github.com/noah-isme/backend-atelier/internal/orders"
	"github.com/noah-isme/backend-atelier/internal/valuation"
)

type memOrderRepo struct {
	*memStore
}

func (m memOrderRepo) MarkInvoiced(_ context.Context, params invoicing.MarkInvoicedParams) error {
	order, ok := m.orders[params.OrderID]
	if !ok || order.Locked {
		return invoicing.ErrLockConflict
	}
	order.Locked = true
	order.Status = domain.StatusInvoiced
	order.InvoiceNumber = &params.InvoiceNumber
	order.InvoicedAt = &params.InvoicedAt
	m.orders[params.OrderID] = order
	return nil
}

func (m memOrderRepo) MarkCancelled(_ context.Context, params invoicing.MarkCancelledParams) error {
	order, ok := m.orders[params.OrderID]
	if !ok || order.Status != domain.StatusInvoiced || !order.Locked {
		return invoicing.ErrCancelConflict
	}
	order.Locked = false
	order.Status = params.ReopenStatus
	order.Cancelled = true
	order.CancelReason = params.Reason
	m.orders[params.OrderID] = order
	return nil
}

type seqCounter struct {
	n int64
}

func (c *seqCounter) Next(_ context.Context, _ string) (int64, error) {
	return atomic.AddInt64(&c.n, 1), nil
}

type routerEnv struct {
	router    chi.Router
	store     *memStore
	svc       *orders.Service
	serviceID uuid.UUID
}

func newRouterEnv() routerEnv {
	store := newMemStore()
	cat, serviceID := seedCatalog()
	svc := newOrderService(store, cat)
	inv := &invoicing.Service{
		Orders:  memOrderRepo{store},
		Counter: &seqCounter{},
		Engine:  valuation.NewEngine(valuation.DefaultUrgencyBps),
		Logger:  zerolog.Nop(),
	}
	h := &orders.Handler{
		Svc:      svc,
		Invoicer: inv,
		Validate: validator.New(),
	}
	r := chi.NewRouter()
	r.Route("/api/v1", func(v chi.Router) {
		h.Register(v)
	})
	return routerEnv{router: r, store: store, svc: svc, serviceID: serviceID}
}

func (e routerEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code    string          `json:"code"`
			Details json.RawMessage `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	return payload.Error.Code
}

func (e routerEnv) seedOrderWithTray(t *testing.T) (domain.ServiceOrder, domain.Tray) {
	t.Helper()
	ctx := context.Background()
	order, err := e.svc.Create(ctx, orders.CreateOrderInput{TenantID: "tenant-1", CustomerID: uuid.New()}, "tester")
	require.NoError(t, err)
	tray, err := e.svc.AddTray(ctx, order.ID, "intake", "tester")
	require.NoError(t, err)
	return order, tray
}

func TestHandlerAddItemUnknownCatalogRef(t *testing.T) {
	env := newRouterEnv()
	order, tray := env.seedOrderWithTray(t)

	body := fmt.Sprintf(`{"type":"part","catalogId":%q,"quantity":1}`, uuid.NewString())
	rr := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/orders/%s/trays/%s/items", order.ID, tray.ID), body)

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "UNKNOWN_CATALOG_REF", errorCode(t, rr))
}

func TestHandlerInvoicePreconditions(t *testing.T) {
	env := newRouterEnv()
	order, err := env.svc.Create(context.Background(), orders.CreateOrderInput{TenantID: "tenant-1", CustomerID: uuid.New()}, "tester")
	require.NoError(t, err)

	rr := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/invoice", "{}")

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "PRECONDITIONS_FAILED", errorCode(t, rr))

	var payload struct {
		Error struct {
			Details []invoicing.ValidationError `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	require.NotEmpty(t, payload.Error.Details)
	require.Equal(t, invoicing.ReasonNoTrays, payload.Error.Details[0].Reason)
}

func TestHandlerInvoiceIssuesReceipt(t *testing.T) {
	env := newRouterEnv()
	order, tray := env.seedOrderWithTray(t)
	ctx := context.Background()
	_, err := env.svc.AddItem(ctx, order.ID, tray.ID, orders.AddItemInput{
		Type: domain.ItemTypeService, CatalogID: env.serviceID, Quantity: 2,
	}, "tester")
	require.NoError(t, err)
	require.NoError(t, env.svc.FinalizeTray(ctx, order.ID, tray.ID, true, "tester"))

	rr := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/invoice", "{}")
	require.Equal(t, http.StatusOK, rr.Code)

	var receipt invoicing.InvoiceReceipt
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &receipt))
	require.Equal(t, int64(1), receipt.InvoiceNumber)
	require.Equal(t, "80.00", receipt.Total.StringFixed(2))
	require.True(t, env.store.orders[order.ID].Locked)
}

func TestHandlerLockedOrderConflict(t *testing.T) {
	env := newRouterEnv()
	order, _ := env.seedOrderWithTray(t)
	locked := env.store.orders[order.ID]
	locked.Locked = true
	locked.Status = domain.StatusInvoiced
	env.store.orders[order.ID] = locked

	rr := env.do(t, http.MethodPatch, "/api/v1/orders/"+order.ID.String(), `{"urgent":true}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "ORDER_LOCKED", errorCode(t, rr))
}

func TestHandlerCreateOrderValidatesBody(t *testing.T) {
	env := newRouterEnv()

	rr := env.do(t, http.MethodPost, "/api/v1/orders", `{"tenantId":"tenant-1","customerId":"not-a-uuid"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "VALIDATION", errorCode(t, rr))
}

func TestHandlerUnknownOrderIsNotFound(t *testing.T) {
	env := newRouterEnv()

	rr := env.do(t, http.MethodGet, "/api/v1/orders/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "NOT_FOUND", errorCode(t, rr))
}

func TestHandlerCancelRequiresReason(t *testing.T) {
	env := newRouterEnv()
	order, _ := env.seedOrderWithTray(t)
	locked := env.store.orders[order.ID]
	locked.Locked = true
	locked.Status = domain.StatusInvoiced
	env.store.orders[order.ID] = locked

	rr := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/cancel", `{"reason":""}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "VALIDATION", errorCode(t, rr))

	rr = env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/cancel", `{"reason":"billed wrong customer"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.False(t, env.store.orders[order.ID].Locked)
}
