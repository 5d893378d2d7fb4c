package events

import "encoding/json"

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// AllocationRequestedData contains data for AllocationRequested events
type AllocationRequestedData struct {
	Strategy string `json:"strategy"`
	ID       int64  `json:"id"`
	User     string `json:"user"`
	Amount   int64  `json:"amount"`
	ReadyAt  int64  `json:"ready_at"`
}

// EventType returns the event type for AllocationRequestedData
func (d *AllocationRequestedData) EventType() EventType {
	return AllocationRequested
}

// AllocationClaimedData contains data for AllocationClaimed events
type AllocationClaimedData struct {
	Strategy        string `json:"strategy"`
	ID              int64  `json:"id"`
	Recipient       string `json:"recipient"`
	ConvertedAmount int64  `json:"converted_amount"`
}

// EventType returns the event type for AllocationClaimedData
func (d *AllocationClaimedData) EventType() EventType {
	return AllocationClaimed
}

// AllocationRefundedData contains data for AllocationRefunded events
type AllocationRefundedData struct {
	Strategy string `json:"strategy"`
	ID       int64  `json:"id"`
	User     string `json:"user"`
	Amount   int64  `json:"amount"`
}

// EventType returns the event type for AllocationRefundedData
func (d *AllocationRefundedData) EventType() EventType {
	return AllocationRefunded
}

// ExitRequestedData contains data for ExitRequested events
type ExitRequestedData struct {
	Strategy   string `json:"strategy"`
	ID         int64  `json:"id"`
	User       string `json:"user"`
	Allocation int64  `json:"allocation"`
	ReadyAt    int64  `json:"ready_at"`
}

// EventType returns the event type for ExitRequestedData
func (d *ExitRequestedData) EventType() EventType {
	return ExitRequested
}

// ExitClaimedData contains data for ExitClaimed events
type ExitClaimedData struct {
	Strategy   string `json:"strategy"`
	ClaimID    int64  `json:"claim_id"`
	Recipient  string `json:"recipient"`
	Allocation int64  `json:"allocation"`
	AmountOut  int64  `json:"amount_out"`
}

// EventType returns the event type for ExitClaimedData
func (d *ExitClaimedData) EventType() EventType {
	return ExitClaimed
}

// ExitRefundedData contains data for ExitRefunded events
type ExitRefundedData struct {
	Strategy   string `json:"strategy"`
	ClaimID    int64  `json:"claim_id"`
	Custody    string `json:"custody"`
	Allocation int64  `json:"allocation"`
}

// EventType returns the event type for ExitRefundedData
func (d *ExitRefundedData) EventType() EventType {
	return ExitRefunded
}

// PriceUpdatedData contains data for PriceUpdated events
type PriceUpdatedData struct {
	Strategy   string `json:"strategy"`
	AssetPrice int64  `json:"asset_price"`
}

// EventType returns the event type for PriceUpdatedData
func (d *PriceUpdatedData) EventType() EventType {
	return PriceUpdated
}

// StrategyRegisteredData contains data for StrategyRegistered events
type StrategyRegisteredData struct {
	Address string `json:"address"`
	Kind    string `json:"kind"`
	Symbol  string `json:"symbol"`
}

// EventType returns the event type for StrategyRegisteredData
func (d *StrategyRegisteredData) EventType() EventType {
	return StrategyRegistered
}

// OffsetsUpdatedData contains data for OffsetsUpdated events
type OffsetsUpdatedData struct {
	Strategy            string `json:"strategy"`
	DepositDelaySeconds int64  `json:"deposit_delay_seconds"`
	ExitDelaySeconds    int64  `json:"exit_delay_seconds"`
}

// EventType returns the event type for OffsetsUpdatedData
func (d *OffsetsUpdatedData) EventType() EventType {
	return OffsetsUpdated
}

// StrategyEnabledData contains data for StrategyEnabled and
// StrategyDisabled events
type StrategyEnabledData struct {
	Strategy string `json:"strategy"`
	Enabled  bool   `json:"enabled"`
}

// EventType returns the event type for StrategyEnabledData
func (d *StrategyEnabledData) EventType() EventType {
	return StrategyEnabled
}

// ReconcileCompletedData contains data for ReconcileCompleted events
type ReconcileCompletedData struct {
	Strategies int  `json:"strategies"`
	Drifted    int  `json:"drifted"`
	Healthy    bool `json:"healthy"`
}

// EventType returns the event type for ReconcileCompletedData
func (d *ReconcileCompletedData) EventType() EventType {
	return ReconcileCompleted
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// convertEventDataToMap converts typed event data to a map for the wire format
func convertEventDataToMap(data EventData) map[string]interface{} {
	if data == nil {
		return nil
	}
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &m); err != nil {
		return nil
	}
	return m
}
