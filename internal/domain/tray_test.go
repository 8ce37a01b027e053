package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-atelier/internal/domain"
)

func TestTrayArenaSplitKeepsBackwardParents(t *testing.T) {
	orderID := uuid.New()
	root := domain.Tray{ID: uuid.New(), OrderID: orderID, Label: "intake"}
	arena, err := domain.NewTrayArena([]domain.Tray{root})
	if err != nil {
		t.Fatalf("new arena: %v", err)
	}

	child, err := arena.Split(root.ID, "rust removal", time.Now())
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if child.ParentTrayID == nil || *child.ParentTrayID != root.ID {
		t.Fatalf("child parent = %v, want %s", child.ParentTrayID, root.ID)
	}
	if child.OrderID != orderID {
		t.Fatalf("child order = %s, want %s", child.OrderID, orderID)
	}

	grandchild, err := arena.Split(child.ID, "", time.Now())
	if err != nil {
		t.Fatalf("split child: %v", err)
	}
	if arena.Len() != 3 {
		t.Fatalf("arena len = %d, want 3", arena.Len())
	}
	got, err := arena.Get(grandchild.ID)
	if err != nil {
		t.Fatalf("get grandchild: %v", err)
	}
	if *got.ParentTrayID != child.ID {
		t.Fatalf("grandchild parent = %s, want %s", *got.ParentTrayID, child.ID)
	}
}

func TestTrayArenaRejectsForwardParent(t *testing.T) {
	orderID := uuid.New()
	later := uuid.New()
	first := domain.Tray{ID: uuid.New(), OrderID: orderID, ParentTrayID: &later}
	second := domain.Tray{ID: later, OrderID: orderID}

	_, err := domain.NewTrayArena([]domain.Tray{first, second})
	if !errors.Is(err, domain.ErrForwardParent) {
		t.Fatalf("err = %v, want ErrForwardParent", err)
	}
}

func TestTrayArenaSplitUnknownParent(t *testing.T) {
	arena, err := domain.NewTrayArena(nil)
	if err != nil {
		t.Fatalf("new arena: %v", err)
	}
	if _, err := arena.Split(uuid.New(), "x", time.Now()); !errors.Is(err, domain.ErrTrayNotFound) {
		t.Fatalf("err = %v, want ErrTrayNotFound", err)
	}
}

func TestBillableQuantityClampsExclusion(t *testing.T) {
	item := domain.LineItem{Quantity: 3, NonRepairableQuantity: 5}
	if got := item.BillableQuantity(); got != 0 {
		t.Fatalf("billable = %d, want 0", got)
	}
	item = domain.LineItem{Quantity: 5, NonRepairableQuantity: 2}
	if got := item.BillableQuantity(); got != 3 {
		t.Fatalf("billable = %d, want 3", got)
	}
}

func TestCatalogRefMatchesType(t *testing.T) {
	svcID := uuid.New()
	partID := uuid.New()

	item := domain.LineItem{ItemType: domain.ItemTypeService, ServiceID: &svcID}
	ref, err := item.CatalogRef()
	if err != nil || ref != svcID {
		t.Fatalf("ref = %v err = %v, want %s", ref, err, svcID)
	}

	item.PartID = &partID
	if _, err := item.CatalogRef(); !errors.Is(err, domain.ErrCatalogRefMismatch) {
		t.Fatalf("err = %v, want ErrCatalogRefMismatch", err)
	}
}
