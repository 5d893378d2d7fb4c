// Package events provides event management functionality.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	// Allocation (deposit path) events
	AllocationRequested EventType = "ALLOCATION_REQUESTED"
	AllocationClaimed   EventType = "ALLOCATION_CLAIMED"
	AllocationRefunded  EventType = "ALLOCATION_REFUNDED"

	// Exit (withdraw path) events
	ExitRequested EventType = "EXIT_REQUESTED"
	ExitClaimed   EventType = "EXIT_CLAIMED"
	ExitRefunded  EventType = "EXIT_REFUNDED"

	// Strategy events
	StrategyRegistered EventType = "STRATEGY_REGISTERED"
	StrategyEnabled    EventType = "STRATEGY_ENABLED"
	StrategyDisabled   EventType = "STRATEGY_DISABLED"
	PriceUpdated       EventType = "PRICE_UPDATED"
	OffsetsUpdated     EventType = "OFFSETS_UPDATED"

	// Operational events
	ReconcileCompleted EventType = "RECONCILE_COMPLETED"
	BackupCompleted    EventType = "BACKUP_COMPLETED"
	ErrorOccurred      EventType = "ERROR_OCCURRED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}
