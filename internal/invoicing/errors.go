package invoicing

import (
	"errors"
	"fmt"
	"strings"
)

// Reason names one invoicing precondition. The set is closed so callers can
// match on codes instead of message text.
type Reason string

const (
	// ReasonAlreadyInvoiced rejects invoicing an order that already carries a
	// live invoice.
	ReasonAlreadyInvoiced Reason = "already_invoiced"
	// ReasonOrderLocked rejects a transition while the order is frozen.
	ReasonOrderLocked Reason = "order_locked"
	// ReasonNoTrays rejects invoicing an order without a single tray.
	ReasonNoTrays Reason = "no_trays"
	// ReasonUnfinalizedTrays reports trays that are not in a finalized
	// sub-state; the violation carries the offending count.
	ReasonUnfinalizedTrays Reason = "unfinalized_trays"
	// ReasonNotInvoiced rejects cancelling an order that is not invoiced.
	ReasonNotInvoiced Reason = "not_invoiced"
	// ReasonMissingReason rejects a cancellation without a non-empty reason.
	ReasonMissingReason Reason = "missing_reason"
)

// ValidationError is one violated precondition.
type ValidationError struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
	// Count qualifies violations reported as a tally, e.g. how many trays are
	// not finalized. Zero for boolean preconditions.
	Count int `json:"count,omitempty"`
}

// ValidationErrors collects every violated precondition so the caller can fix
// all of them in one pass instead of iterating on first failures.
type ValidationErrors []ValidationError

// Error implements error.
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation passed"
	}
	msgs := make([]string, 0, len(v))
	for _, ve := range v {
		msgs = append(msgs, ve.Message)
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether the collection contains the given reason.
func (v ValidationErrors) Has(reason Reason) bool {
	for _, ve := range v {
		if ve.Reason == reason {
			return true
		}
	}
	return false
}

// OperationError is an infrastructure failure: a persistence write failed or
// the counter was unreachable. Always fatal to the operation and surfaced to
// the caller, never silently swallowed.
type OperationError struct {
	Op        string
	Err       error
	Retryable bool
}

// Error implements error.
func (e *OperationError) Error() string {
	return fmt.Sprintf("invoicing: %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *OperationError) Unwrap() error { return e.Err }

var (
	// ErrLockConflict is returned by the order repository when the
	// locked=false precondition no longer holds at write time.
	ErrLockConflict = errors.New("order already locked")
	// ErrCancelConflict is returned when the invoiced+locked precondition no
	// longer holds at cancellation write time.
	ErrCancelConflict = errors.New("order not in a cancellable state")
)
