package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ItemType discriminates what a line item bills for.
type ItemType string

const (
	// ItemTypeService bills repair labour from the service catalog.
	ItemTypeService ItemType = "service"
	// ItemTypePart bills a spare part from the part catalog.
	ItemTypePart ItemType = "part"
	// ItemTypeInstrumentOnly bills an instrument entry with no catalog service
	// or part attached.
	ItemTypeInstrumentOnly ItemType = "instrument_only"
)

// Valid reports whether the item type is known.
func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeService, ItemTypePart, ItemTypeInstrumentOnly:
		return true
	default:
		return false
	}
}

// ErrCatalogRefMismatch is returned when the set catalog reference does not
// match the declared item type.
var ErrCatalogRefMismatch = errors.New("catalog reference does not match item type")

// LineItem is one billable row inside a tray. Price and name are snapshots
// captured when the item was added; the catalog is never consulted again.
type LineItem struct {
	ID     uuid.UUID
	TrayID uuid.UUID

	ItemType ItemType
	// At most one of the catalog references is set, enforced by ItemType.
	ServiceID    *uuid.UUID
	PartID       *uuid.UUID
	InstrumentID *uuid.UUID

	Quantity              uint32
	NonRepairableQuantity uint32

	UnitPrice decimal.Decimal
	Name      string

	LineDiscountPct decimal.Decimal
	// Urgent is the line-level flag; the urgency adjustment only applies when
	// the owning order is flagged urgent as well.
	Urgent bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CatalogRef returns the single catalog id matching the item type.
func (it LineItem) CatalogRef() (uuid.UUID, error) {
	switch it.ItemType {
	case ItemTypeService:
		if it.ServiceID == nil || it.PartID != nil || it.InstrumentID != nil {
			return uuid.Nil, ErrCatalogRefMismatch
		}
		return *it.ServiceID, nil
	case ItemTypePart:
		if it.PartID == nil || it.ServiceID != nil || it.InstrumentID != nil {
			return uuid.Nil, ErrCatalogRefMismatch
		}
		return *it.PartID, nil
	case ItemTypeInstrumentOnly:
		if it.InstrumentID == nil || it.ServiceID != nil || it.PartID != nil {
			return uuid.Nil, ErrCatalogRefMismatch
		}
		return *it.InstrumentID, nil
	default:
		return uuid.Nil, ErrCatalogRefMismatch
	}
}

// BillableQuantity returns quantity minus the non-repairable exclusion,
// clamping the exclusion to the quantity so the result is never negative.
func (it LineItem) BillableQuantity() int64 {
	nr := it.NonRepairableQuantity
	if nr > it.Quantity {
		nr = it.Quantity
	}
	return int64(it.Quantity) - int64(nr)
}
