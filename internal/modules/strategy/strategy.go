// Package strategy provides yield strategy adapters and their registry.
//
// A strategy converts base currency into a revenue-bearing asset at an
// exchange rate it controls. The ledger only ever sees the Strategy
// interface; rate sourcing (fixed price vs. external vault share price)
// stays behind the adapter.
package strategy

import (
	"errors"
	"math"
	"time"
)

// PriceScale is the fixed-point scale for asset prices.
// AssetPrice is the number of base-currency units per allocation unit,
// multiplied by PriceScale.
const PriceScale int64 = 100_000_000 // 1e8

// Strategy kinds stored in the registry
const (
	KindPrice = "price"
	KindVault = "vault"
)

var (
	// ErrInvalidPrice is returned for zero or negative asset prices
	ErrInvalidPrice = errors.New("asset price must be positive")
	// ErrAmountTooLarge is returned when conversion math would overflow
	ErrAmountTooLarge = errors.New("amount too large to convert")
	// ErrNegativeAmount is returned for negative conversion inputs
	ErrNegativeAmount = errors.New("amount must not be negative")
)

// Strategy is a pluggable yield source adapter.
// PreviewAllocation and PreviewExit are pure conversions at the current
// rate; the ledger calls them both when a request is recorded and again at
// claim time, so the amount actually converted follows the live rate.
type Strategy interface {
	// Address returns the strategy's registry identity
	Address() string

	// PreviewAllocation converts a base-currency amount to allocation units
	PreviewAllocation(amount int64) (int64, error)

	// PreviewExit converts allocation units back to a base-currency amount
	PreviewExit(allocation int64) (int64, error)

	// AssetPrice returns the current exchange rate (PriceScale fixed-point)
	AssetPrice() (int64, error)

	// ReadyAtOffsets returns the deposit and exit settlement delays.
	// Zero means synchronous settlement (ready immediately at request time).
	ReadyAtOffsets() (deposit, exit time.Duration)

	// SetReadyAtOffsets adjusts the settlement delays. Manager-gated.
	SetReadyAtOffsets(caller string, deposit, exit time.Duration) error
}

// previewAllocation is the shared conversion used by all strategy kinds:
// allocation = amount * PriceScale / price
func previewAllocation(amount, price int64) (int64, error) {
	if amount < 0 {
		return 0, ErrNegativeAmount
	}
	if price <= 0 {
		return 0, ErrInvalidPrice
	}
	if amount > math.MaxInt64/PriceScale {
		return 0, ErrAmountTooLarge
	}
	return amount * PriceScale / price, nil
}

// previewExit is the inverse conversion: amount = allocation * price / PriceScale
func previewExit(allocation, price int64) (int64, error) {
	if allocation < 0 {
		return 0, ErrNegativeAmount
	}
	if price <= 0 {
		return 0, ErrInvalidPrice
	}
	if allocation > math.MaxInt64/price {
		return 0, ErrAmountTooLarge
	}
	return allocation * price / PriceScale, nil
}
