package event

import "time"

const (
	// OrderLocksTopic announces advisory claims so terminals can show who is editing.
	OrderLocksTopic = "orders.locks"

	EventLockClaimed  = "lock.claimed"
	EventLockReleased = "lock.released"
	EventLockCleared  = "lock.cleared"
)

type LockEvent struct {
	EventType  string     `json:"event_type"`
	OrderID    string     `json:"order_id"`
	Holder     string     `json:"holder"`
	Purpose    string     `json:"purpose,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}
