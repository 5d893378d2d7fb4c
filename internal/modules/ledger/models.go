// Package ledger implements the allocation and settlement engine.
//
// The engine tracks, per strategy, every pending and completed stake or
// allocation request, enforces the asynchronous ready-at delay before a
// request becomes settleable, and supports claim (commit) or refund
// (abort) of any pending request while keeping the aggregate counters
// exactly consistent with the individual records.
package ledger

import "errors"

// StakeInfo holds a strategy's aggregate accounting.
// TotalStake is incremented optimistically at deposit-request time and
// TotalAllocation is decremented optimistically at exit-request time, so
// both return exactly to their prior values when a request is refunded.
type StakeInfo struct {
	Strategy        string `json:"strategy"`
	TotalStake      int64  `json:"total_stake"`
	TotalAllocation int64  `json:"total_allocation"`
}

// AllocationRequest is one stake or exit request in the two-phase
// request/commit protocol. Immutable except the Claimed flag, which is set
// exactly once when the request reaches its terminal state.
type AllocationRequest struct {
	Strategy string `json:"strategy"`
	ID       int64  `json:"id"`
	User     string `json:"user"`
	IsExit   bool   `json:"is_exit"`
	Amount   int64  `json:"amount"`
	ReadyAt  int64  `json:"ready_at"` // Unix seconds; <= now means settleable
	Claimed  bool   `json:"claimed"`
}

// PendingWithdrawClaim is the externally-addressable handle created when
// an exit request is queued. Deleted on claim or refund; queries for a
// deleted claim return the zero value.
type PendingWithdrawClaim struct {
	Strategy         string `json:"strategy"`
	ClaimID          int64  `json:"claim_id"`
	ExpectedAmount   int64  `json:"expected_amount"`   // Base-currency preview at request time
	AllocationAmount int64  `json:"allocation_amount"` // Allocation units queued for exit
	UnlockTime       int64  `json:"unlock_time"`
	Eligible         string `json:"eligible"`
}

// RequestInfo is the public view of a request. Unknown ids yield the zero
// value rather than an error; Claimable is derived, never stored.
type RequestInfo struct {
	User      string `json:"user"`
	IsExit    bool   `json:"is_exit"`
	Amount    int64  `json:"amount"`
	ReadyAt   int64  `json:"ready_at"`
	Claimed   bool   `json:"claimed"`
	Claimable bool   `json:"claimable"`
}

var (
	// ErrNotReady - claim or refund attempted before the time gate opened.
	// Retryable: the same call succeeds once ReadyAt/UnlockTime has passed.
	ErrNotReady = errors.New("request is not ready yet")

	// ErrNotFound - unknown, deleted, or wrong-kind request id
	ErrNotFound = errors.New("request not found")

	// ErrAlreadyClaimed - the request already reached its terminal state
	ErrAlreadyClaimed = errors.New("request already claimed or refunded")

	// ErrDuplicateRequest - the id is already in use for this strategy
	ErrDuplicateRequest = errors.New("request id already exists")

	// ErrZeroAmount - amounts must be positive
	ErrZeroAmount = errors.New("amount must be positive")

	// ErrZeroAddress - user and recipient identities are required
	ErrZeroAddress = errors.New("address must not be empty")

	// ErrExceedsAllocation - exit amount exceeds the strategy's total allocation
	ErrExceedsAllocation = errors.New("amount exceeds total allocation")

	// ErrInsufficientShares - the user does not hold enough derived shares
	ErrInsufficientShares = errors.New("insufficient derived shares")

	// ErrUnknownStrategy - no adapter is loaded for the strategy address
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrAggregateUnderflow - an operation would drive an aggregate counter
	// negative, which means accounting has drifted
	ErrAggregateUnderflow = errors.New("aggregate counter underflow")
)
