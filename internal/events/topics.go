package events

const (
	// TopicInvoiceIssued is emitted once per successful invoice transition.
	TopicInvoiceIssued = "invoice.issued"
	// TopicInvoiceCancelled is emitted once per successful cancellation.
	TopicInvoiceCancelled = "invoice.cancelled"
	// TopicOrderValuated is emitted when a quote preview is computed.
	TopicOrderValuated = "order.valuated"
)
