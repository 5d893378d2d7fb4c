package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository handles persistence for requests, withdraw claims and the
// per-strategy aggregate counters. Mutating methods are tx-scoped so the
// service can apply a whole state transition atomically.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a ledger repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "ledger").Logger(),
	}
}

// DB returns the underlying connection for transaction management
func (r *Repository) DB() *sql.DB {
	return r.db
}

// StakeInfo returns a strategy's aggregate counters.
// Strategies with no activity yet have zero counters.
func (r *Repository) StakeInfo(strategy string) (StakeInfo, error) {
	info := StakeInfo{Strategy: strategy}
	err := r.db.QueryRow(`SELECT total_stake, total_allocation FROM stake_info WHERE strategy = ?`,
		strategy).Scan(&info.TotalStake, &info.TotalAllocation)
	if err == sql.ErrNoRows {
		return info, nil
	}
	if err != nil {
		return StakeInfo{}, fmt.Errorf("failed to query stake info: %w", err)
	}
	return info, nil
}

// StakeInfoTx is StakeInfo within an existing transaction
func (r *Repository) StakeInfoTx(tx *sql.Tx, strategy string) (StakeInfo, error) {
	info := StakeInfo{Strategy: strategy}
	err := tx.QueryRow(`SELECT total_stake, total_allocation FROM stake_info WHERE strategy = ?`,
		strategy).Scan(&info.TotalStake, &info.TotalAllocation)
	if err == sql.ErrNoRows {
		return info, nil
	}
	if err != nil {
		return StakeInfo{}, fmt.Errorf("failed to query stake info: %w", err)
	}
	return info, nil
}

// AddStakeTx adjusts a strategy's total stake by delta within a
// transaction. Negative results are rejected: the counters may only move
// in step with request records, so underflow means drifted accounting.
func (r *Repository) AddStakeTx(tx *sql.Tx, strategy string, delta int64) error {
	return r.adjustAggregateTx(tx, strategy, "total_stake", delta)
}

// AddAllocationTx adjusts a strategy's total allocation by delta within a
// transaction, with the same underflow protection as AddStakeTx.
func (r *Repository) AddAllocationTx(tx *sql.Tx, strategy string, delta int64) error {
	return r.adjustAggregateTx(tx, strategy, "total_allocation", delta)
}

func (r *Repository) adjustAggregateTx(tx *sql.Tx, strategy, column string, delta int64) error {
	now := time.Now().UTC().Format(time.RFC3339)

	// Ensure the counters row exists before adjusting it
	if _, err := tx.Exec(`
		INSERT INTO stake_info (strategy, total_stake, total_allocation, updated_at)
		VALUES (?, 0, 0, ?)
		ON CONFLICT(strategy) DO NOTHING`, strategy, now); err != nil {
		return fmt.Errorf("failed to ensure stake info row: %w", err)
	}

	// column comes from the two callers above, never from input
	query := fmt.Sprintf(`
		UPDATE stake_info SET %s = %s + ?, updated_at = ?
		WHERE strategy = ? AND %s + ? >= 0`, column, column, column)
	res, err := tx.Exec(query, delta, now, strategy, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s by %d for %s", ErrAggregateUnderflow, column, delta, strategy)
	}
	return nil
}

// InsertRequestTx stores a new request within a transaction.
// A duplicate (strategy, id) fails with ErrDuplicateRequest.
func (r *Repository) InsertRequestTx(tx *sql.Tx, req AllocationRequest) error {
	var exists int
	err := tx.QueryRow(`SELECT 1 FROM allocation_requests WHERE strategy = ? AND id = ?`,
		req.Strategy, req.ID).Scan(&exists)
	if err == nil {
		return fmt.Errorf("%w: %d", ErrDuplicateRequest, req.ID)
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check for existing request: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO allocation_requests (strategy, id, user, is_exit, amount, ready_at, claimed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		req.Strategy, req.ID, req.User, boolToInt(req.IsExit), req.Amount, req.ReadyAt,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

// GetRequestTx loads a request within a transaction
func (r *Repository) GetRequestTx(tx *sql.Tx, strategy string, id int64) (AllocationRequest, error) {
	req := AllocationRequest{Strategy: strategy, ID: id}
	var isExit, claimed int
	err := tx.QueryRow(`
		SELECT user, is_exit, amount, ready_at, claimed
		FROM allocation_requests WHERE strategy = ? AND id = ?`,
		strategy, id).Scan(&req.User, &isExit, &req.Amount, &req.ReadyAt, &claimed)
	if err == sql.ErrNoRows {
		return AllocationRequest{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return AllocationRequest{}, fmt.Errorf("failed to query request: %w", err)
	}
	req.IsExit = isExit == 1
	req.Claimed = claimed == 1
	return req, nil
}

// MarkClaimedTx sets a request's terminal flag within a transaction
func (r *Repository) MarkClaimedTx(tx *sql.Tx, strategy string, id int64) error {
	res, err := tx.Exec(`
		UPDATE allocation_requests SET claimed = 1
		WHERE strategy = ? AND id = ? AND claimed = 0`,
		strategy, id)
	if err != nil {
		return fmt.Errorf("failed to mark request claimed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrAlreadyClaimed, id)
	}
	return nil
}

// InsertWithdrawClaimTx stores a pending withdraw claim within a transaction
func (r *Repository) InsertWithdrawClaimTx(tx *sql.Tx, claim PendingWithdrawClaim) error {
	_, err := tx.Exec(`
		INSERT INTO withdraw_claims (strategy, claim_id, expected_amount, allocation_amount, unlock_time, eligible, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		claim.Strategy, claim.ClaimID, claim.ExpectedAmount, claim.AllocationAmount,
		claim.UnlockTime, claim.Eligible, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert withdraw claim: %w", err)
	}
	return nil
}

// GetWithdrawClaimTx loads a pending withdraw claim within a transaction
func (r *Repository) GetWithdrawClaimTx(tx *sql.Tx, strategy string, claimID int64) (PendingWithdrawClaim, error) {
	claim := PendingWithdrawClaim{Strategy: strategy, ClaimID: claimID}
	err := tx.QueryRow(`
		SELECT expected_amount, allocation_amount, unlock_time, eligible
		FROM withdraw_claims WHERE strategy = ? AND claim_id = ?`,
		strategy, claimID).Scan(&claim.ExpectedAmount, &claim.AllocationAmount,
		&claim.UnlockTime, &claim.Eligible)
	if err == sql.ErrNoRows {
		return PendingWithdrawClaim{}, fmt.Errorf("%w: claim %d", ErrNotFound, claimID)
	}
	if err != nil {
		return PendingWithdrawClaim{}, fmt.Errorf("failed to query withdraw claim: %w", err)
	}
	return claim, nil
}

// DeleteWithdrawClaimTx removes a withdraw claim within a transaction.
// Subsequent operations on the claim fail with ErrNotFound.
func (r *Repository) DeleteWithdrawClaimTx(tx *sql.Tx, strategy string, claimID int64) error {
	res, err := tx.Exec(`DELETE FROM withdraw_claims WHERE strategy = ? AND claim_id = ?`,
		strategy, claimID)
	if err != nil {
		return fmt.Errorf("failed to delete withdraw claim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: claim %d", ErrNotFound, claimID)
	}
	return nil
}

// RequestInfo returns the public view of a request.
// Unknown requests return the zero value, never an error.
func (r *Repository) RequestInfo(strategy string, id int64, now time.Time) (RequestInfo, error) {
	var info RequestInfo
	var isExit, claimed int
	err := r.db.QueryRow(`
		SELECT user, is_exit, amount, ready_at, claimed
		FROM allocation_requests WHERE strategy = ? AND id = ?`,
		strategy, id).Scan(&info.User, &isExit, &info.Amount, &info.ReadyAt, &claimed)
	if err == sql.ErrNoRows {
		return RequestInfo{}, nil
	}
	if err != nil {
		return RequestInfo{}, fmt.Errorf("failed to query request info: %w", err)
	}
	info.IsExit = isExit == 1
	info.Claimed = claimed == 1
	info.Claimable = !info.Claimed && info.ReadyAt <= now.Unix()
	return info, nil
}

// WithdrawClaim returns a pending withdraw claim, or the zero value when
// the claim is unknown or was deleted on settlement.
func (r *Repository) WithdrawClaim(strategy string, claimID int64) (PendingWithdrawClaim, error) {
	var claim PendingWithdrawClaim
	err := r.db.QueryRow(`
		SELECT strategy, claim_id, expected_amount, allocation_amount, unlock_time, eligible
		FROM withdraw_claims WHERE strategy = ? AND claim_id = ?`,
		strategy, claimID).Scan(&claim.Strategy, &claim.ClaimID, &claim.ExpectedAmount,
		&claim.AllocationAmount, &claim.UnlockTime, &claim.Eligible)
	if err == sql.ErrNoRows {
		return PendingWithdrawClaim{}, nil
	}
	if err != nil {
		return PendingWithdrawClaim{}, fmt.Errorf("failed to query withdraw claim: %w", err)
	}
	return claim, nil
}

// Strategies returns every strategy address with an aggregate counters row
func (r *Repository) Strategies() ([]string, error) {
	rows, err := r.db.Query(`SELECT strategy FROM stake_info ORDER BY strategy`)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategies: %w", err)
	}
	defer rows.Close()

	var strategies []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan strategy: %w", err)
		}
		strategies = append(strategies, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating strategies: %w", err)
	}
	return strategies, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
