package obs

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// InvoiceTotal counts invoice transition outcomes.
	InvoiceTotal *prometheus.CounterVec
	// CancelTotal counts cancellation outcomes.
	CancelTotal *prometheus.CounterVec
	// ValuationDuration records order valuation latency in milliseconds.
	ValuationDuration prometheus.Histogram
	// AuditDroppedTotal counts audit entries that could not be persisted.
	AuditDroppedTotal prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers the invoicing domain
// collectors. Safe to call more than once.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		InvoiceTotal = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_total",
			Help:      "Count of invoice transition outcomes.",
		}, []string{"result"}))
		CancelTotal = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_cancel_total",
			Help:      "Count of invoice cancellation outcomes.",
		}, []string{"result"}))
		ValuationDuration = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "valuation_duration_ms",
			Help:      "Order valuation latency in milliseconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
		}))
		AuditDroppedTotal = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_dropped_total",
			Help:      "Number of audit entries dropped after a failed write.",
		}))
	})
}

// CountInvoice bumps the invoice outcome counter when metrics are registered.
func CountInvoice(result string) {
	if InvoiceTotal != nil {
		InvoiceTotal.WithLabelValues(result).Inc()
	}
}

// CountCancel bumps the cancellation outcome counter when metrics are
// registered.
func CountCancel(result string) {
	if CancelTotal != nil {
		CancelTotal.WithLabelValues(result).Inc()
	}
}

// ObserveValuation records one valuation run when metrics are registered.
func ObserveValuation(d time.Duration) {
	if ValuationDuration != nil {
		ValuationDuration.Observe(DurationMillis(d))
	}
}

// CountAuditDrop bumps the dropped-audit counter when metrics are registered.
func CountAuditDrop() {
	if AuditDroppedTotal != nil {
		AuditDroppedTotal.Inc()
	}
}
