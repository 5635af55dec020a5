package entity

import "time"

const (
	OrderEventCreated   = "order.created"
	OrderEventFailed    = "order.failed"
	OrderEventCancelled = "order.cancelled"
	OrderEventFill      = "order.fill"
)

// OrderEvent is published to jetstream on every order state transition.
// Best effort: losing an event never fails the user-facing operation.
type OrderEvent struct {
	Event      string    `json:"event"`
	TradeID    string    `json:"trade_id"`
	UserID     string    `json:"user_id"`
	Venue      string    `json:"venue"`
	Symbol     string    `json:"symbol"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}
