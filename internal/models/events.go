package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a ledger event
type EventType string

const (
	EventOrderStatusChanged EventType = "order.status_changed"
	EventTradeExecuted      EventType = "trade.executed"
	EventSettlementRecorded EventType = "settlement.recorded"
)

// OrderStatusChanged is emitted once per order status transition
type OrderStatusChanged struct {
	OrderID     OrderID         `json:"order_id"`
	Participant ParticipantID   `json:"participant_id"`
	Zone        Zone            `json:"zone"`
	Window      Window          `json:"window"`
	From        OrderStatus     `json:"from"`
	To          OrderStatus     `json:"to"`
	Remaining   decimal.Decimal `json:"remaining_kwh"`
	Reason      string          `json:"reason,omitempty"`
	At          time.Time       `json:"at"`
}

// Event is the envelope handed to persistence sinks. Exactly one payload is set.
type Event struct {
	Sequence     uint64              `json:"sequence"`
	Type         EventType           `json:"type"`
	OccurredAt   time.Time           `json:"occurred_at"`
	StatusChange *OrderStatusChanged `json:"status_change,omitempty"`
	Trade        *Trade              `json:"trade,omitempty"`
	Settlement   *SettlementRecord   `json:"settlement,omitempty"`
}

func StatusEvent(c OrderStatusChanged) Event {
	return Event{Type: EventOrderStatusChanged, OccurredAt: c.At, StatusChange: &c}
}

func TradeEvent(t Trade) Event {
	return Event{Type: EventTradeExecuted, OccurredAt: t.ExecutedAt, Trade: &t}
}

func SettlementEvent(r SettlementRecord) Event {
	return Event{Type: EventSettlementRecorded, OccurredAt: r.SettledAt, Settlement: &r}
}

// PartitionKey groups events of the same book for ordered delivery
func (e Event) PartitionKey() string {
	switch e.Type {
	case EventOrderStatusChanged:
		return KeyOf(e.StatusChange.Zone, e.StatusChange.Window).String()
	case EventTradeExecuted:
		return KeyOf(e.Trade.Zone, e.Trade.Window).String()
	case EventSettlementRecorded:
		return KeyOf(e.Settlement.Zone, e.Settlement.Window).String()
	default:
		return ""
	}
}
