package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTrayNotFound is returned when an arena lookup misses.
	ErrTrayNotFound = errors.New("tray not found")
	// ErrForwardParent is returned when a tray references a parent that was
	// created after it, which would let a cycle slip in.
	ErrForwardParent = errors.New("tray parent must be created earlier")
)

// Tray is a physical grouping of instruments within one order. It carries no
// monetary state of its own; discounts live at line and order level only.
type Tray struct {
	ID      uuid.UUID
	OrderID uuid.UUID
	// ParentTrayID points at the tray this one was split off from. It always
	// references an earlier, already persisted tray, so the structure is a
	// forest, never a cycle.
	ParentTrayID *uuid.UUID
	Label        string
	Finalized    bool
	CreatedAt    time.Time
}

// TrayArena indexes the trays of one order by id while preserving creation
// order. Parent references are ids into the arena, not live pointers, which
// keeps the split tree trivially acyclic and easy to serialize.
type TrayArena struct {
	trays []Tray
	index map[uuid.UUID]int
}

// NewTrayArena builds an arena from trays sorted by creation. Every parent
// reference must resolve to a tray that appears earlier in the slice.
func NewTrayArena(trays []Tray) (*TrayArena, error) {
	a := &TrayArena{index: make(map[uuid.UUID]int, len(trays))}
	for _, tr := range trays {
		if err := a.Append(tr); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Append adds a tray to the arena, enforcing the backward parent invariant.
func (a *TrayArena) Append(tr Tray) error {
	if tr.ParentTrayID != nil {
		if _, ok := a.index[*tr.ParentTrayID]; !ok {
			return ErrForwardParent
		}
	}
	a.index[tr.ID] = len(a.trays)
	a.trays = append(a.trays, tr)
	return nil
}

// Get returns the tray with the given id.
func (a *TrayArena) Get(id uuid.UUID) (Tray, error) {
	i, ok := a.index[id]
	if !ok {
		return Tray{}, ErrTrayNotFound
	}
	return a.trays[i], nil
}

// Split creates a child tray of parent. The child is appended after the
// parent, so the backward reference invariant holds by construction.
func (a *TrayArena) Split(parentID uuid.UUID, label string, now time.Time) (Tray, error) {
	parent, err := a.Get(parentID)
	if err != nil {
		return Tray{}, err
	}
	child := Tray{
		ID:           uuid.New(),
		OrderID:      parent.OrderID,
		ParentTrayID: &parent.ID,
		Label:        label,
		CreatedAt:    now,
	}
	if err := a.Append(child); err != nil {
		return Tray{}, err
	}
	return child, nil
}

// Trays returns the trays in creation order.
func (a *TrayArena) Trays() []Tray {
	out := make([]Tray, len(a.trays))
	copy(out, a.trays)
	return out
}

// Len returns the number of trays in the arena.
func (a *TrayArena) Len() int { return len(a.trays) }
