package strategy

import (
	"fmt"
	"sync"
	"time"

	"github.com/meridianyield/stakeledger/internal/roles"
)

// PriceStrategy converts at a fixed, manager-settable exchange rate.
// All mutations go through the policy check and are persisted via the
// store so restarts see the last configured rate and offsets.
type PriceStrategy struct {
	address      string
	price        int64 // PriceScale fixed-point
	depositDelay time.Duration
	exitDelay    time.Duration
	policy       roles.Policy
	store        Store
	mu           sync.RWMutex
}

// Store persists strategy configuration changes.
// Implemented by the Registry; split out so strategies stay testable.
type Store interface {
	SavePrice(address string, price int64) error
	SaveOffsets(address string, deposit, exit time.Duration) error
}

// NewPriceStrategy creates a price-based strategy
func NewPriceStrategy(address string, price int64, policy roles.Policy, store Store) (*PriceStrategy, error) {
	if price <= 0 {
		return nil, ErrInvalidPrice
	}
	return &PriceStrategy{
		address: address,
		price:   price,
		policy:  policy,
		store:   store,
	}, nil
}

// Address returns the strategy's registry identity
func (s *PriceStrategy) Address() string {
	return s.address
}

// PreviewAllocation converts a base-currency amount to allocation units
func (s *PriceStrategy) PreviewAllocation(amount int64) (int64, error) {
	s.mu.RLock()
	price := s.price
	s.mu.RUnlock()
	return previewAllocation(amount, price)
}

// PreviewExit converts allocation units back to a base-currency amount
func (s *PriceStrategy) PreviewExit(allocation int64) (int64, error) {
	s.mu.RLock()
	price := s.price
	s.mu.RUnlock()
	return previewExit(allocation, price)
}

// AssetPrice returns the current exchange rate
func (s *PriceStrategy) AssetPrice() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.price, nil
}

// SetAssetPrice updates the exchange rate. Manager-gated.
func (s *PriceStrategy) SetAssetPrice(caller string, price int64) error {
	if err := s.policy.Check(caller, roles.RoleManager); err != nil {
		return fmt.Errorf("set asset price: %w", err)
	}
	if price <= 0 {
		return ErrInvalidPrice
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SavePrice(s.address, price); err != nil {
			return fmt.Errorf("failed to persist asset price: %w", err)
		}
	}
	s.price = price
	return nil
}

// ReadyAtOffsets returns the deposit and exit settlement delays
func (s *PriceStrategy) ReadyAtOffsets() (time.Duration, time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.depositDelay, s.exitDelay
}

// SetReadyAtOffsets adjusts the settlement delays. Manager-gated.
func (s *PriceStrategy) SetReadyAtOffsets(caller string, deposit, exit time.Duration) error {
	if err := s.policy.Check(caller, roles.RoleManager); err != nil {
		return fmt.Errorf("set ready-at offsets: %w", err)
	}
	if deposit < 0 || exit < 0 {
		return fmt.Errorf("ready-at offsets must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveOffsets(s.address, deposit, exit); err != nil {
			return fmt.Errorf("failed to persist ready-at offsets: %w", err)
		}
	}
	s.depositDelay = deposit
	s.exitDelay = exit
	return nil
}

// restoreOffsets sets delays without a policy check, used when loading
// persisted configuration at startup.
func (s *PriceStrategy) restoreOffsets(deposit, exit time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depositDelay = deposit
	s.exitDelay = exit
}
