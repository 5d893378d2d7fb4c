package reliability

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/meridianyield/stakeledger/internal/events"
	"github.com/meridianyield/stakeledger/internal/modules/ledger"
)

// ReconcileJob replays the journal for every strategy and checks that the
// stored aggregate counters match. The counters are updated incrementally
// on every operation; the journal is the source of truth, so any drift
// means a bug or database corruption.
//
// The expected identities per strategy:
//
//	total_stake      = deposits requested - deposits refunded - exits paid out
//	total_allocation = deposits converted - exits requested + exits refunded
type ReconcileJob struct {
	repo    *ledger.Repository
	journal *ledger.Journal
	events  *events.Manager
	log     zerolog.Logger
}

// NewReconcileJob creates a new reconciliation job
func NewReconcileJob(repo *ledger.Repository, journal *ledger.Journal, eventManager *events.Manager, log zerolog.Logger) *ReconcileJob {
	return &ReconcileJob{
		repo:    repo,
		journal: journal,
		events:  eventManager,
		log:     log.With().Str("job", "reconcile").Logger(),
	}
}

// Name returns the job name for the scheduler
func (j *ReconcileJob) Name() string {
	return "reconcile"
}

// Run verifies every strategy's counters against the journal
func (j *ReconcileJob) Run() error {
	strategies, err := j.repo.Strategies()
	if err != nil {
		return fmt.Errorf("failed to list strategies: %w", err)
	}

	drifted := 0
	for _, strategyAddr := range strategies {
		ok, err := j.reconcileStrategy(strategyAddr)
		if err != nil {
			return err
		}
		if !ok {
			drifted++
		}
	}

	if j.events != nil {
		j.events.EmitTyped(events.ReconcileCompleted, "reliability", &events.ReconcileCompletedData{
			Strategies: len(strategies),
			Drifted:    drifted,
			Healthy:    drifted == 0,
		})
	}

	if drifted > 0 {
		return fmt.Errorf("reconciliation found %d drifted strategies", drifted)
	}

	j.log.Debug().Int("strategies", len(strategies)).Msg("Reconciliation clean")
	return nil
}

// reconcileStrategy checks one strategy. Returns false when the stored
// counters disagree with the journal.
func (j *ReconcileJob) reconcileStrategy(strategyAddr string) (bool, error) {
	sums := make(map[string]int64, 6)
	for _, entryType := range []string{
		ledger.EntryDepositRequested,
		ledger.EntryDepositClaimed,
		ledger.EntryDepositRefunded,
		ledger.EntryExitRequested,
		ledger.EntryExitClaimed,
		ledger.EntryExitRefunded,
	} {
		sum, err := j.journal.SumByType(strategyAddr, entryType)
		if err != nil {
			return false, fmt.Errorf("failed to sum %s for %s: %w", entryType, strategyAddr, err)
		}
		sums[entryType] = sum
	}

	expectedStake := sums[ledger.EntryDepositRequested] -
		sums[ledger.EntryDepositRefunded] -
		sums[ledger.EntryExitClaimed]
	expectedAllocation := sums[ledger.EntryDepositClaimed] -
		sums[ledger.EntryExitRequested] +
		sums[ledger.EntryExitRefunded]

	info, err := j.repo.StakeInfo(strategyAddr)
	if err != nil {
		return false, fmt.Errorf("failed to read stake info for %s: %w", strategyAddr, err)
	}

	if info.TotalStake == expectedStake && info.TotalAllocation == expectedAllocation {
		return true, nil
	}

	j.log.Error().
		Str("strategy", strategyAddr).
		Int64("stored_stake", info.TotalStake).
		Int64("expected_stake", expectedStake).
		Int64("stored_allocation", info.TotalAllocation).
		Int64("expected_allocation", expectedAllocation).
		Msg("Counter drift detected")

	if j.events != nil {
		j.events.EmitError("reliability",
			fmt.Errorf("counter drift on %s", strategyAddr),
			map[string]interface{}{
				"strategy":            strategyAddr,
				"stored_stake":        info.TotalStake,
				"expected_stake":      expectedStake,
				"stored_allocation":   info.TotalAllocation,
				"expected_allocation": expectedAllocation,
			})
	}

	return false, nil
}
