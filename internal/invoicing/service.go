package invoicing

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
	"github.com/noah-isme/backend-atelier/internal/domain"
	"github.com/noah-isme/backend-atelier/internal/events"
	"github.com/noah-isme/backend-atelier/internal/obs"
	"github.com/noah-isme/backend-atelier/internal/valuation"
)

// Policy tunes the state machine without changing its semantics.
type Policy struct {
	// AllowPartial downgrades the "every tray finalized" precondition from a
	// hard failure to a logged count.
	AllowPartial bool
	// ReopenStatus is the mutable status a cancelled order reverts to.
	ReopenStatus domain.Status
	// CounterTimeout bounds the atomic counter step; a timeout is retryable,
	// never a silent skip.
	CounterTimeout time.Duration
	// CounterRetries bounds how often a timed-out counter step is retried.
	CounterRetries int
	// LockTTL caps how long the per-order advisory lock is held.
	LockTTL time.Duration
}

func (p Policy) withDefaults() Policy {
	if !p.ReopenStatus.Open() {
		p.ReopenStatus = domain.StatusInProgress
	}
	if p.CounterTimeout <= 0 {
		p.CounterTimeout = 3 * time.Second
	}
	if p.CounterRetries < 0 {
		p.CounterRetries = 0
	}
	if p.LockTTL <= 0 {
		p.LockTTL = 15 * time.Second
	}
	return p
}

// InvoiceReceipt is returned on a successful invoice transition.
type InvoiceReceipt struct {
	OrderID       uuid.UUID       `json:"orderId"`
	InvoiceNumber int64           `json:"invoiceNumber"`
	Total         decimal.Decimal `json:"total"`
	IssuedAt      time.Time       `json:"issuedAt"`
}

// Service drives the invoicing state machine over injected ports so the logic
// runs against any backend, including the in-memory stubs used in tests.
type Service struct {
	Orders  OrderRepo
	Counter Counter
	Archive Archive
	Board   Board
	Audit   *audit.Emitter
	Events  *events.Bus
	Engine  *valuation.Engine
	Locker  Locker
	Policy  Policy
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Invoice validates the order, atomically issues the next invoice number,
// freezes the order and archives a snapshot. Every violated precondition is
// collected and returned at once; infrastructure failures surface as
// *OperationError.
func (s *Service) Invoice(ctx context.Context, orderID uuid.UUID, actor string) (InvoiceReceipt, error) {
	policy := s.Policy.withDefaults()
	graph, err := s.Orders.GetGraph(ctx, orderID)
	if err != nil {
		return InvoiceReceipt{}, &OperationError{Op: "load order", Err: err}
	}

	if verrs := s.validateInvoice(graph, policy); len(verrs) > 0 {
		obs.CountInvoice("validation")
		return InvoiceReceipt{}, verrs
	}

	val := s.valuate(graph)
	issuedAt := s.now()

	var number int64
	transition := func(ctx context.Context) error {
		n, err := s.nextNumber(ctx, graph.Order.TenantID, policy)
		if err != nil {
			return err
		}
		number = n
		return s.Orders.MarkInvoiced(ctx, MarkInvoicedParams{
			OrderID:           orderID,
			InvoiceNumber:     number,
			InvoicedAt:        issuedAt,
			GlobalDiscountPct: domain.ClampPct(graph.Order.GlobalDiscountPct),
			Total:             val.Total,
		})
	}
	if err := s.withOrderLock(ctx, orderID, policy, transition); err != nil {
		if errors.Is(err, ErrLockConflict) {
			obs.CountInvoice("conflict")
			return InvoiceReceipt{}, ValidationErrors{{
				Reason:  ReasonOrderLocked,
				Message: "order was locked by a concurrent invoice",
			}}
		}
		var opErr *OperationError
		if errors.As(err, &opErr) {
			obs.CountInvoice("error")
			return InvoiceReceipt{}, opErr
		}
		obs.CountInvoice("error")
		return InvoiceReceipt{}, &OperationError{Op: "persist invoice", Err: err}
	}

	s.afterInvoice(graph, val, number, issuedAt, actor)
	obs.CountInvoice("ok")
	return InvoiceReceipt{
		OrderID:       orderID,
		InvoiceNumber: number,
		Total:         val.Total,
		IssuedAt:      issuedAt,
	}, nil
}

// Cancel reverts an invoiced order to a mutable status. The reason is
// mandatory and checked before any state is touched. The old invoice number
// stays on the record; re-invoicing issues a fresh one.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID, reason, actor string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ValidationErrors{{
			Reason:  ReasonMissingReason,
			Message: "cancellation requires a non-empty reason",
		}}
	}
	policy := s.Policy.withDefaults()

	graph, err := s.Orders.GetGraph(ctx, orderID)
	if err != nil {
		return &OperationError{Op: "load order", Err: err}
	}
	if graph.Order.Status != domain.StatusInvoiced {
		obs.CountCancel("validation")
		return ValidationErrors{{
			Reason:  ReasonNotInvoiced,
			Message: "order is not invoiced",
		}}
	}

	cancelledAt := s.now()
	err = s.Orders.MarkCancelled(ctx, MarkCancelledParams{
		OrderID:      orderID,
		Reason:       reason,
		CancelledBy:  actor,
		CancelledAt:  cancelledAt,
		ReopenStatus: policy.ReopenStatus,
	})
	if err != nil {
		if errors.Is(err, ErrCancelConflict) {
			obs.CountCancel("conflict")
			return ValidationErrors{{
				Reason:  ReasonNotInvoiced,
				Message: "order was cancelled or unlocked concurrently",
			}}
		}
		obs.CountCancel("error")
		return &OperationError{Op: "persist cancellation", Err: err}
	}

	s.afterCancel(graph, reason, actor, cancelledAt)
	obs.CountCancel("ok")
	return nil
}

func (s *Service) validateInvoice(graph domain.OrderGraph, policy Policy) ValidationErrors {
	var verrs ValidationErrors
	if graph.Order.Status == domain.StatusInvoiced {
		verrs = append(verrs, ValidationError{
			Reason:  ReasonAlreadyInvoiced,
			Message: "order is already invoiced",
		})
	}
	if graph.Order.Locked {
		verrs = append(verrs, ValidationError{
			Reason:  ReasonOrderLocked,
			Message: "order is locked",
		})
	}
	if len(graph.Trays) == 0 {
		verrs = append(verrs, ValidationError{
			Reason:  ReasonNoTrays,
			Message: "order has no trays",
		})
	}
	unfinalized := 0
	for _, tray := range graph.Trays {
		if !tray.Finalized {
			unfinalized++
		}
	}
	if unfinalized > 0 {
		if policy.AllowPartial {
			s.Logger.Info().
				Str("order_id", graph.Order.ID.String()).
				Int("unfinalized_trays", unfinalized).
				Msg("partial invoicing allowed by policy")
		} else {
			verrs = append(verrs, ValidationError{
				Reason:  ReasonUnfinalizedTrays,
				Message: fmt.Sprintf("%d trays are not finalized", unfinalized),
				Count:   unfinalized,
			})
		}
	}
	return verrs
}

func (s *Service) valuate(graph domain.OrderGraph) valuation.OrderValuation {
	start := time.Now()
	val := s.Engine.Order(graph)
	obs.ObserveValuation(time.Since(start))
	return val
}

// nextNumber performs the atomic counter step under a short timeout. A timed
// out attempt is retried a bounded number of times and then surfaced as a
// retryable operation error.
func (s *Service) nextNumber(ctx context.Context, tenantID string, policy Policy) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= policy.CounterRetries; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, policy.CounterTimeout)
		number, err := s.Counter.Next(stepCtx, tenantID)
		cancel()
		if err == nil {
			return number, nil
		}
		lastErr = err
		if ctx.Err() != nil || !errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}
	return 0, &OperationError{
		Op:        "issue invoice number",
		Err:       lastErr,
		Retryable: errors.Is(lastErr, context.DeadlineExceeded),
	}
}

func (s *Service) withOrderLock(ctx context.Context, orderID uuid.UUID, policy Policy, fn func(context.Context) error) error {
	if s.Locker == nil {
		return fn(ctx)
	}
	return s.Locker.WithLock(ctx, "invoice:order:"+orderID.String(), policy.LockTTL, fn)
}

// afterInvoice runs the best-effort side effects of a successful transition.
// None of them may roll the transition back; failures are logged only.
func (s *Service) afterInvoice(graph domain.OrderGraph, val valuation.OrderValuation, number int64, issuedAt time.Time, actor string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	orderID := graph.Order.ID

	if s.Archive != nil {
		snapshot := Snapshot{
			OrderID:       orderID,
			InvoiceNumber: number,
			TakenAt:       issuedAt,
			Graph:         graph,
			Valuation:     val,
		}
		if _, err := s.Archive.Save(ctx, snapshot); err != nil {
			s.Logger.Error().Err(err).Str("order_id", orderID.String()).Msg("archive snapshot failed")
		}
	}
	if s.Board != nil {
		if err := s.Board.Remove(ctx, orderID); err != nil {
			s.Logger.Error().Err(err).Str("order_id", orderID.String()).Msg("board removal failed")
		}
	}
	if s.Events != nil {
		payload := map[string]any{
			"invoiceNumber": number,
			"total":         val.Total.StringFixed(2),
			"issuedAt":      issuedAt,
			"actor":         actor,
		}
		if _, err := s.Events.Emit(ctx, events.TopicInvoiceIssued, orderID, payload); err != nil {
			s.Logger.Error().Err(err).Str("order_id", orderID.String()).Msg("emit invoice.issued failed")
		}
	}
	s.Audit.Record("service_order", orderID.String(), "invoice.issued",
		fmt.Sprintf("invoice %d issued, total %s", number, val.Total.StringFixed(2)),
		actor, map[string]any{"invoiceNumber": number, "total": val.Total.StringFixed(2)})
}

func (s *Service) afterCancel(graph domain.OrderGraph, reason, actor string, cancelledAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	orderID := graph.Order.ID

	var number int64
	if graph.Order.InvoiceNumber != nil {
		number = *graph.Order.InvoiceNumber
	}
	if s.Events != nil {
		payload := map[string]any{
			"invoiceNumber": number,
			"reason":        reason,
			"cancelledAt":   cancelledAt,
			"actor":         actor,
		}
		if _, err := s.Events.Emit(ctx, events.TopicInvoiceCancelled, orderID, payload); err != nil {
			s.Logger.Error().Err(err).Str("order_id", orderID.String()).Msg("emit invoice.cancelled failed")
		}
	}
	s.Audit.Record("service_order", orderID.String(), "invoice.cancelled",
		fmt.Sprintf("invoice %d cancelled: %s", number, reason),
		actor, map[string]any{"invoiceNumber": number, "reason": reason})
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
