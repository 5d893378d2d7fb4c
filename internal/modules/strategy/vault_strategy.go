package strategy

import (
	"fmt"
	"sync"
	"time"

	"github.com/meridianyield/stakeledger/internal/roles"
)

// VaultClient exposes the share price of an external auto-compounding
// vault. The price is PriceScale fixed-point, base units per vault share.
type VaultClient interface {
	SharePrice() (int64, error)
}

// VaultStrategy derives its exchange rate from an external vault's share
// price instead of a configured number. The rate therefore moves between
// request and claim as the vault compounds.
type VaultStrategy struct {
	address      string
	vault        VaultClient
	depositDelay time.Duration
	exitDelay    time.Duration
	policy       roles.Policy
	store        Store
	mu           sync.RWMutex
}

// NewVaultStrategy creates a vault-backed strategy
func NewVaultStrategy(address string, vault VaultClient, policy roles.Policy, store Store) *VaultStrategy {
	return &VaultStrategy{
		address: address,
		vault:   vault,
		policy:  policy,
		store:   store,
	}
}

// Address returns the strategy's registry identity
func (s *VaultStrategy) Address() string {
	return s.address
}

// PreviewAllocation converts a base-currency amount to vault shares
func (s *VaultStrategy) PreviewAllocation(amount int64) (int64, error) {
	price, err := s.AssetPrice()
	if err != nil {
		return 0, err
	}
	return previewAllocation(amount, price)
}

// PreviewExit converts vault shares back to a base-currency amount
func (s *VaultStrategy) PreviewExit(allocation int64) (int64, error) {
	price, err := s.AssetPrice()
	if err != nil {
		return 0, err
	}
	return previewExit(allocation, price)
}

// AssetPrice returns the vault's current share price
func (s *VaultStrategy) AssetPrice() (int64, error) {
	price, err := s.vault.SharePrice()
	if err != nil {
		return 0, fmt.Errorf("failed to fetch vault share price: %w", err)
	}
	if price <= 0 {
		return 0, ErrInvalidPrice
	}
	return price, nil
}

// ReadyAtOffsets returns the deposit and exit settlement delays
func (s *VaultStrategy) ReadyAtOffsets() (time.Duration, time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.depositDelay, s.exitDelay
}

// SetReadyAtOffsets adjusts the settlement delays. Manager-gated.
func (s *VaultStrategy) SetReadyAtOffsets(caller string, deposit, exit time.Duration) error {
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
func (s *VaultStrategy) restoreOffsets(deposit, exit time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depositDelay = deposit
	s.exitDelay = exit
}
