package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridianyield/stakeledger/internal/database"
	"github.com/meridianyield/stakeledger/internal/events"
	"github.com/meridianyield/stakeledger/internal/modules/custody"
	"github.com/meridianyield/stakeledger/internal/modules/shares"
	"github.com/meridianyield/stakeledger/internal/modules/strategy"
	"github.com/meridianyield/stakeledger/internal/roles"
)

// moduleName tags events emitted by the settlement engine
const moduleName = "ledger"

// StrategyProvider resolves a registered strategy's live adapter.
// Implemented by the strategy registry.
type StrategyProvider interface {
	Get(address string) (strategy.Strategy, bool)
}

// EventEmitter publishes typed events. Implemented by events.Manager.
type EventEmitter interface {
	EmitTyped(eventType events.EventType, module string, data events.EventData)
}

// Service owns the request lifecycle and aggregate accounting.
//
// Every mutating entry point is router-gated, applies its whole effect in
// one SQLite transaction, and emits events only after the transaction
// commits - a failed call leaves counters and records exactly as before.
// Time gates are re-checked preconditions against the injected clock, not
// scheduled callbacks.
type Service struct {
	repo       *Repository
	journal    *Journal
	shares     *shares.Ledger
	custody    *custody.Lockbox
	strategies StrategyProvider
	policy     roles.Policy
	events     EventEmitter
	now        func() time.Time
	log        zerolog.Logger
}

// NewService creates the allocation and settlement engine
func NewService(
	repo *Repository,
	journal *Journal,
	shareLedger *shares.Ledger,
	lockbox *custody.Lockbox,
	strategies StrategyProvider,
	policy roles.Policy,
	emitter EventEmitter,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:       repo,
		journal:    journal,
		shares:     shareLedger,
		custody:    lockbox,
		strategies: strategies,
		policy:     policy,
		events:     emitter,
		now:        time.Now,
		log:        log.With().Str("service", "ledger").Logger(),
	}
}

// SetClock overrides the time source. Used by tests to control time gates.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// pendingEvent is collected during a transaction and emitted after commit
type pendingEvent struct {
	eventType events.EventType
	data      events.EventData
}

func (s *Service) emitAll(pending []pendingEvent) {
	if s.events == nil {
		return
	}
	for _, p := range pending {
		s.events.EmitTyped(p.eventType, moduleName, p.data)
	}
}

// resolveStrategy returns the adapter for an address or ErrUnknownStrategy
func (s *Service) resolveStrategy(address string) (strategy.Strategy, error) {
	strat, ok := s.strategies.Get(address)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, address)
	}
	return strat, nil
}

// RequestAllocation records a new deposit request and optimistically adds
// its amount to the strategy's total stake. Returns the unix time at which
// the request becomes claimable (equal to now for synchronous strategies).
func (s *Service) RequestAllocation(caller, strategyAddr string, id, amount int64, user string) (int64, error) {
	if err := s.policy.Check(caller, roles.RoleRouter); err != nil {
		return 0, fmt.Errorf("request allocation: %w", err)
	}
	if amount <= 0 {
		return 0, ErrZeroAmount
	}
	if user == "" {
		return 0, ErrZeroAddress
	}

	strat, err := s.resolveStrategy(strategyAddr)
	if err != nil {
		return 0, err
	}

	depositDelay, _ := strat.ReadyAtOffsets()
	readyAt := s.now().Add(depositDelay).Unix()

	err = database.WithTransaction(s.repo.DB(), func(tx *sql.Tx) error {
		if err := s.repo.InsertRequestTx(tx, AllocationRequest{
			Strategy: strategyAddr,
			ID:       id,
			User:     user,
			IsExit:   false,
			Amount:   amount,
			ReadyAt:  readyAt,
		}); err != nil {
			return err
		}
		if err := s.repo.AddStakeTx(tx, strategyAddr, amount); err != nil {
			return err
		}
		return s.journal.AppendTx(tx, strategyAddr, EntryDepositRequested, id, amount, JournalSnapshot{
			User:    user,
			Amount:  amount,
			ReadyAt: readyAt,
		})
	})
	if err != nil {
		return 0, err
	}

	s.emitAll([]pendingEvent{{events.AllocationRequested, &events.AllocationRequestedData{
		Strategy: strategyAddr,
		ID:       id,
		User:     user,
		Amount:   amount,
		ReadyAt:  readyAt,
	}}})

	s.log.Info().
		Str("strategy", strategyAddr).
		Int64("id", id).
		Int64("amount", amount).
		Int64("ready_at", readyAt).
		Msg("Allocation requested")

	return readyAt, nil
}

// ClaimAllocation settles ready deposit requests. The conversion happens
// at claim-time price, custody is credited with the converted asset, and
// derived shares are minted to each request's user. The batch is
// all-or-nothing: any not-ready, unknown or already-terminal id rolls the
// whole batch back.
func (s *Service) ClaimAllocation(caller, strategyAddr string, ids []int64, recipient string) error {
	if err := s.policy.Check(caller, roles.RoleRouter); err != nil {
		return fmt.Errorf("claim allocation: %w", err)
	}
	if recipient == "" {
		return ErrZeroAddress
	}
	if len(ids) == 0 {
		return nil
	}

	strat, err := s.resolveStrategy(strategyAddr)
	if err != nil {
		return err
	}

	nowUnix := s.now().Unix()
	var pending []pendingEvent

	err = database.WithTransaction(s.repo.DB(), func(tx *sql.Tx) error {
		pending = pending[:0]
		for _, id := range ids {
			req, err := s.repo.GetRequestTx(tx, strategyAddr, id)
			if err != nil {
				return err
			}
			if req.IsExit {
				return fmt.Errorf("%w: %d is an exit request", ErrNotFound, id)
			}
			if req.Claimed {
				return fmt.Errorf("%w: %d", ErrAlreadyClaimed, id)
			}
			if req.ReadyAt > nowUnix {
				return fmt.Errorf("%w: %d ready at %d", ErrNotReady, id, req.ReadyAt)
			}

			// Conversion is computed now, not at request time: the price
			// may have moved while the request waited.
			converted, err := strat.PreviewAllocation(req.Amount)
			if err != nil {
				return fmt.Errorf("failed to convert request %d: %w", id, err)
			}
			price, err := strat.AssetPrice()
			if err != nil {
				return fmt.Errorf("failed to read asset price: %w", err)
			}

			if err := s.repo.MarkClaimedTx(tx, strategyAddr, id); err != nil {
				return err
			}
			if err := s.repo.AddAllocationTx(tx, strategyAddr, converted); err != nil {
				return err
			}
			if err := s.custody.CreditTx(tx, strategyAddr, converted); err != nil {
				return err
			}
			if err := s.shares.MintTx(tx, strategyAddr, req.User, converted); err != nil {
				return err
			}
			if err := s.journal.AppendTx(tx, strategyAddr, EntryDepositClaimed, id, converted, JournalSnapshot{
				User:            req.User,
				Recipient:       recipient,
				Amount:          req.Amount,
				ConvertedAmount: converted,
				AssetPrice:      price,
			}); err != nil {
				return err
			}

			pending = append(pending, pendingEvent{events.AllocationClaimed, &events.AllocationClaimedData{
				Strategy:        strategyAddr,
				ID:              id,
				Recipient:       recipient,
				ConvertedAmount: converted,
			}})
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.emitAll(pending)
	s.log.Info().
		Str("strategy", strategyAddr).
		Int("count", len(ids)).
		Msg("Allocations claimed")

	return nil
}

// RefundDeposit aborts a deposit request once its time gate has opened,
// reversing the optimistic stake increment. There is deliberately no
// early-cancel path: a request that has not reached ReadyAt cannot be
// refunded either.
func (s *Service) RefundDeposit(caller, strategyAddr string, id int64, user string) error {
	if err := s.policy.Check(caller, roles.RoleRouter); err != nil {
		return fmt.Errorf("refund deposit: %w", err)
	}
	if user == "" {
		return ErrZeroAddress
	}

	if _, err := s.resolveStrategy(strategyAddr); err != nil {
		return err
	}

	nowUnix := s.now().Unix()
	var amount int64

	err := database.WithTransaction(s.repo.DB(), func(tx *sql.Tx) error {
		req, err := s.repo.GetRequestTx(tx, strategyAddr, id)
		if err != nil {
			return err
		}
		if req.IsExit {
			return fmt.Errorf("%w: %d is an exit request", ErrNotFound, id)
		}
		if req.Claimed {
			return fmt.Errorf("%w: %d", ErrAlreadyClaimed, id)
		}
		if req.User != user {
			return fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		if req.ReadyAt > nowUnix {
			return fmt.Errorf("%w: %d ready at %d", ErrNotReady, id, req.ReadyAt)
		}

		amount = req.Amount

		if err := s.repo.MarkClaimedTx(tx, strategyAddr, id); err != nil {
			return err
		}
		if err := s.repo.AddStakeTx(tx, strategyAddr, -req.Amount); err != nil {
			return err
		}
		return s.journal.AppendTx(tx, strategyAddr, EntryDepositRefunded, id, req.Amount, JournalSnapshot{
			User:   user,
			Amount: req.Amount,
		})
	})
	if err != nil {
		return err
	}

	s.emitAll([]pendingEvent{{events.AllocationRefunded, &events.AllocationRefundedData{
		Strategy: strategyAddr,
		ID:       id,
		User:     user,
		Amount:   amount,
	}}})

	s.log.Info().
		Str("strategy", strategyAddr).
		Int64("id", id).
		Int64("amount", amount).
		Msg("Deposit refunded")

	return nil
}

// RequestExit queues a redemption of allocation back to base currency.
// The derived shares backing the allocation are burned immediately and the
// strategy's total allocation is decremented immediately - both reversible
// by RefundWithdraw. Returns the unlock time of the created withdraw claim.
func (s *Service) RequestExit(caller, strategyAddr string, id, allocationAmount int64, user string) (int64, error) {
	if err := s.policy.Check(caller, roles.RoleRouter); err != nil {
		return 0, fmt.Errorf("request exit: %w", err)
	}
	if allocationAmount <= 0 {
		return 0, ErrZeroAmount
	}
	if user == "" {
		return 0, ErrZeroAddress
	}

	strat, err := s.resolveStrategy(strategyAddr)
	if err != nil {
		return 0, err
	}

	_, exitDelay := strat.ReadyAtOffsets()
	readyAt := s.now().Add(exitDelay).Unix()

	expectedAmount, err := strat.PreviewExit(allocationAmount)
	if err != nil {
		return 0, fmt.Errorf("failed to preview exit: %w", err)
	}

	err = database.WithTransaction(s.repo.DB(), func(tx *sql.Tx) error {
		info, err := s.repo.StakeInfoTx(tx, strategyAddr)
		if err != nil {
			return err
		}
		if allocationAmount > info.TotalAllocation {
			return fmt.Errorf("%w: %d > %d", ErrExceedsAllocation, allocationAmount, info.TotalAllocation)
		}

		if err := s.repo.InsertRequestTx(tx, AllocationRequest{
			Strategy: strategyAddr,
			ID:       id,
			User:     user,
			IsExit:   true,
			Amount:   allocationAmount,
			ReadyAt:  readyAt,
		}); err != nil {
			return err
		}

		// Burn-on-request: shares leave the user's balance the moment the
		// exit is queued, which is exactly what RefundWithdraw re-mints.
		if err := s.shares.BurnTx(tx, strategyAddr, user, allocationAmount); err != nil {
			if errors.Is(err, shares.ErrInsufficientBalance) {
				return fmt.Errorf("%w: user %s", ErrInsufficientShares, user)
			}
			return err
		}
		if err := s.repo.AddAllocationTx(tx, strategyAddr, -allocationAmount); err != nil {
			return err
		}

		if err := s.repo.InsertWithdrawClaimTx(tx, PendingWithdrawClaim{
			Strategy:         strategyAddr,
			ClaimID:          id,
			ExpectedAmount:   expectedAmount,
			AllocationAmount: allocationAmount,
			UnlockTime:       readyAt,
			Eligible:         user,
		}); err != nil {
			return err
		}

		return s.journal.AppendTx(tx, strategyAddr, EntryExitRequested, id, allocationAmount, JournalSnapshot{
			User:    user,
			Amount:  expectedAmount,
			ReadyAt: readyAt,
		})
	})
	if err != nil {
		return 0, err
	}

	s.emitAll([]pendingEvent{{events.ExitRequested, &events.ExitRequestedData{
		Strategy:   strategyAddr,
		ID:         id,
		User:       user,
		Allocation: allocationAmount,
		ReadyAt:    readyAt,
	}}})

	s.log.Info().
		Str("strategy", strategyAddr).
		Int64("id", id).
		Int64("allocation", allocationAmount).
		Int64("unlock_time", readyAt).
		Msg("Exit requested")

	return readyAt, nil
}

// ClaimWithdraws settles unlocked withdraw claims, converting each claim's
// allocation back to base currency at claim-time price, debiting custody
// and deleting the claim. All-or-nothing across the batch.
func (s *Service) ClaimWithdraws(caller, strategyAddr string, claimIDs []int64, recipient string) error {
	if err := s.policy.Check(caller, roles.RoleRouter); err != nil {
		return fmt.Errorf("claim withdraws: %w", err)
	}
	if recipient == "" {
		return ErrZeroAddress
	}
	if len(claimIDs) == 0 {
		return nil
	}

	strat, err := s.resolveStrategy(strategyAddr)
	if err != nil {
		return err
	}

	nowUnix := s.now().Unix()
	var pending []pendingEvent

	err = database.WithTransaction(s.repo.DB(), func(tx *sql.Tx) error {
		pending = pending[:0]
		for _, claimID := range claimIDs {
			claim, err := s.repo.GetWithdrawClaimTx(tx, strategyAddr, claimID)
			if err != nil {
				return err
			}
			if claim.UnlockTime > nowUnix {
				return fmt.Errorf("%w: claim %d unlocks at %d", ErrNotReady, claimID, claim.UnlockTime)
			}

			amountOut, err := strat.PreviewExit(claim.AllocationAmount)
			if err != nil {
				return fmt.Errorf("failed to convert claim %d: %w", claimID, err)
			}

			if err := s.repo.AddStakeTx(tx, strategyAddr, -amountOut); err != nil {
				return err
			}
			if err := s.custody.DebitTx(tx, strategyAddr, claim.AllocationAmount); err != nil {
				return err
			}
			if err := s.repo.MarkClaimedTx(tx, strategyAddr, claimID); err != nil {
				return err
			}
			if err := s.repo.DeleteWithdrawClaimTx(tx, strategyAddr, claimID); err != nil {
				return err
			}
			if err := s.journal.AppendTx(tx, strategyAddr, EntryExitClaimed, claimID, amountOut, JournalSnapshot{
				User:            claim.Eligible,
				Recipient:       recipient,
				Amount:          amountOut,
				ConvertedAmount: claim.AllocationAmount,
			}); err != nil {
				return err
			}

			pending = append(pending, pendingEvent{events.ExitClaimed, &events.ExitClaimedData{
				Strategy:   strategyAddr,
				ClaimID:    claimID,
				Recipient:  recipient,
				Allocation: claim.AllocationAmount,
				AmountOut:  amountOut,
			}})
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.emitAll(pending)
	s.log.Info().
		Str("strategy", strategyAddr).
		Int("count", len(claimIDs)).
		Msg("Withdraws claimed")

	return nil
}

// RefundWithdraw aborts an unlocked exit request: the optimistic
// allocation decrement is reversed and the burned shares are re-minted to
// the original holder, so request-then-refund is a net no-op on both the
// counters and the user's share balance. Gated by the same time check as
// ClaimWithdraws.
func (s *Service) RefundWithdraw(caller, strategyAddr string, claimID int64, user string) error {
	if err := s.policy.Check(caller, roles.RoleRouter); err != nil {
		return fmt.Errorf("refund withdraw: %w", err)
	}
	if user == "" {
		return ErrZeroAddress
	}

	if _, err := s.resolveStrategy(strategyAddr); err != nil {
		return err
	}

	nowUnix := s.now().Unix()
	var allocationAmount int64

	err := database.WithTransaction(s.repo.DB(), func(tx *sql.Tx) error {
		claim, err := s.repo.GetWithdrawClaimTx(tx, strategyAddr, claimID)
		if err != nil {
			return err
		}
		if claim.Eligible != user {
			return fmt.Errorf("%w: claim %d", ErrNotFound, claimID)
		}
		if claim.UnlockTime > nowUnix {
			return fmt.Errorf("%w: claim %d unlocks at %d", ErrNotReady, claimID, claim.UnlockTime)
		}

		allocationAmount = claim.AllocationAmount

		if err := s.repo.AddAllocationTx(tx, strategyAddr, claim.AllocationAmount); err != nil {
			return err
		}
		if err := s.shares.MintTx(tx, strategyAddr, user, claim.AllocationAmount); err != nil {
			return err
		}
		if err := s.repo.MarkClaimedTx(tx, strategyAddr, claimID); err != nil {
			return err
		}
		if err := s.repo.DeleteWithdrawClaimTx(tx, strategyAddr, claimID); err != nil {
			return err
		}
		return s.journal.AppendTx(tx, strategyAddr, EntryExitRefunded, claimID, claim.AllocationAmount, JournalSnapshot{
			User:   user,
			Amount: claim.AllocationAmount,
		})
	})
	if err != nil {
		return err
	}

	s.emitAll([]pendingEvent{{events.ExitRefunded, &events.ExitRefundedData{
		Strategy:   strategyAddr,
		ClaimID:    claimID,
		Custody:    custody.Address,
		Allocation: allocationAmount,
	}}})

	s.log.Info().
		Str("strategy", strategyAddr).
		Int64("claim_id", claimID).
		Int64("allocation", allocationAmount).
		Msg("Withdraw refunded")

	return nil
}

// RequestInfo returns the public view of a request.
// Pure read: unknown ids return the zero value.
func (s *Service) RequestInfo(strategyAddr string, id int64) (RequestInfo, error) {
	return s.repo.RequestInfo(strategyAddr, id, s.now())
}

// RequestInfoBatch returns one RequestInfo per id, index-aligned with ids.
// Equivalent to calling RequestInfo per id; ids never interact.
func (s *Service) RequestInfoBatch(strategyAddr string, ids []int64) ([]RequestInfo, error) {
	infos := make([]RequestInfo, len(ids))
	for i, id := range ids {
		info, err := s.repo.RequestInfo(strategyAddr, id, s.now())
		if err != nil {
			return nil, err
		}
		infos[i] = info
	}
	return infos, nil
}

// PendingWithdrawClaims returns one claim per id, index-aligned with
// claimIDs. Deleted or unknown claims return the zero value with an empty
// strategy as the sentinel.
func (s *Service) PendingWithdrawClaims(strategyAddr string, claimIDs []int64) ([]PendingWithdrawClaim, error) {
	claims := make([]PendingWithdrawClaim, len(claimIDs))
	for i, claimID := range claimIDs {
		claim, err := s.repo.WithdrawClaim(strategyAddr, claimID)
		if err != nil {
			return nil, err
		}
		claims[i] = claim
	}
	return claims, nil
}

// StakeInfo returns a strategy's aggregate counters
func (s *Service) StakeInfo(strategyAddr string) (StakeInfo, error) {
	return s.repo.StakeInfo(strategyAddr)
}
