package event

import "time"

const (
	// OrderChangesTopic carries one notification per persisted order mutation.
	OrderChangesTopic = "orders.changes"
	// OrderVoidsTopic carries audit notices for voided items and orders.
	OrderVoidsTopic = "orders.voids"
	// OrderPrintTopic carries print jobs for kitchen tickets and guest checks.
	OrderPrintTopic = "orders.print"

	EventOrderCreated = "order.created"
	EventOrderUpdated = "order.updated"
	EventOrderDeleted = "order.deleted"
	EventOrderVoided  = "order.voided"
	EventItemsVoided  = "order.items.voided"
	EventPrintKitchen = "print.kitchen"
	EventPrintCheck   = "print.check"
)

// OrderChangedEvent tells every terminal that an order document changed.
// Receivers reload the order instead of trusting a payload copy.
type OrderChangedEvent struct {
	EventType  string    `json:"event_type"`
	OrderID    string    `json:"order_id"`
	TableID    string    `json:"table_id,omitempty"`
	Revision   int64     `json:"revision"`
	Status     string    `json:"status"`
	Source     string    `json:"source,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// OrderVoidedEvent is the audit notice sent after a successful void.
type OrderVoidedEvent struct {
	EventType   string    `json:"event_type"`
	OrderID     string    `json:"order_id"`
	OrderNumber int       `json:"order_number"`
	StoreID     string    `json:"store_id"`
	EmployeeID  string    `json:"employee_id"`
	Reason      string    `json:"reason"`
	Items       []string  `json:"items,omitempty"`
	Amount      string    `json:"amount"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// PrintJob asks a printer station to render items of an order.
type PrintJob struct {
	EventType   string         `json:"event_type"`
	OrderID     string         `json:"order_id"`
	OrderNumber int            `json:"order_number"`
	TableID     string         `json:"table_id,omitempty"`
	BillID      string         `json:"bill_id,omitempty"`
	Lines       []PrintJobLine `json:"lines"`
	Total       string         `json:"total,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

type PrintJobLine struct {
	ItemID   string   `json:"item_id"`
	Name     string   `json:"name"`
	Quantity int      `json:"quantity"`
	Options  []string `json:"options,omitempty"`
	Togo     bool     `json:"togo,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}
