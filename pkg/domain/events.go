package domain

import "time"

const (
	OrderEventsTopic   = "order_events"
	ProductEventsTopic = "product_events"
)

const (
	EventOrderConfirmed          = "OrderConfirmed"
	EventOrderCancelled          = "OrderCancelled"
	EventOrderFailed             = "OrderFailed"
	EventOrderAddressChanged     = "OrderAddressChanged"
	EventCompensationFailed      = "CompensationFailed"
	EventReconciliationExhausted = "ReconciliationExhausted"
	EventStockReserved           = "StockReserved"
	EventStockReleased           = "StockReleased"
)

// Envelope is the JSON shape every outbox payload is published in.
type Envelope struct {
	Event   string `json:"event"`
	EventID int64  `json:"event_id,omitempty"`
	Payload any    `json:"payload"`
}

type OrderLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int32 `json:"quantity"`
	UnitPrice int64 `json:"unit_price,omitempty"`
}

type OrderConfirmedEvent struct {
	OrderID       string      `json:"order_id"`
	UserID        int64       `json:"user_id"`
	ReservationID string      `json:"reservation_id"`
	TotalAmount   int64       `json:"total_amount"`
	Lines         []OrderLine `json:"lines"`
	ConfirmedAt   time.Time   `json:"confirmed_at"`
}

type OrderStatusChangedEvent struct {
	OrderID   string      `json:"order_id"`
	UserID    int64       `json:"user_id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Lines     []OrderLine `json:"lines"`
	ChangedAt time.Time   `json:"changed_at"`
}

type OrderAddressChangedEvent struct {
	OrderID         string    `json:"order_id"`
	UserID          int64     `json:"user_id"`
	ShippingAddress string    `json:"shipping_address"`
	ChangedAt       time.Time `json:"changed_at"`
}

// CompensationFailedEvent is emitted when a reconciliation task takes over a
// reservation: either its stock could not be released, or it was released
// for a cancel that could not be saved (OrderID is set).
type CompensationFailedEvent struct {
	TaskID        int64       `json:"task_id"`
	ReservationID string      `json:"reservation_id"`
	OrderID       string      `json:"order_id,omitempty"`
	UserID        int64       `json:"user_id"`
	Reason        string      `json:"reason"`
	LastError     string      `json:"last_error"`
	Lines         []OrderLine `json:"lines"`
	FailedAt      time.Time   `json:"failed_at"`
}

type ReconciliationExhaustedEvent struct {
	TaskID        int64     `json:"task_id"`
	ReservationID string    `json:"reservation_id"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error"`
	GaveUpAt      time.Time `json:"gave_up_at"`
}

type StockMovementEvent struct {
	ReservationID string      `json:"reservation_id"`
	Lines         []OrderLine `json:"lines"`
	At            time.Time   `json:"at"`
}
