package domain

import "math/big"

// EventType names a lifecycle event.
type EventType string

const (
	EventTriggerCreated   EventType = "trigger.created"
	EventTriggerCancelled EventType = "trigger.cancelled"
	EventTriggerExecuted  EventType = "trigger.executed"
	EventTriggerExpired   EventType = "trigger.expired"
	EventSwapIssued       EventType = "swap.issued"
	EventAssetUpdated     EventType = "asset.updated"
	EventRoleChanged      EventType = "role.changed"
)

// Event is emitted by state-changing operations, the analogue of ledger logs.
type Event struct {
	Type      EventType `json:"type"`
	TriggerID uint64    `json:"trigger_id,omitempty"`
	SwapID    uint64    `json:"swap_id,omitempty"`
	Account   string    `json:"account,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Amount    *big.Int  `json:"amount,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// EventSink receives lifecycle events. Publish must not block.
type EventSink interface {
	Publish(e Event)
}

// DiscardEvents drops every event.
type DiscardEvents struct{}

// Publish implements EventSink.
func (DiscardEvents) Publish(Event) {}

// MultiSink fans an event out to several sinks.
type MultiSink []EventSink

// Publish implements EventSink.
func (m MultiSink) Publish(e Event) {
	for _, s := range m {
		s.Publish(e)
	}
}
