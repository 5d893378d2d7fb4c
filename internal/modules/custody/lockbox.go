// Package custody provides the lockbox holding converted revenue-bearing
// assets on behalf of all depositors in a strategy.
package custody

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Address identifies the custody component in emitted events
const Address = "custody:lockbox"

var (
	// ErrInsufficientHoldings is returned when a debit exceeds the lockbox balance
	ErrInsufficientHoldings = errors.New("insufficient custody holdings")
	// ErrInvalidAmount is returned for zero or negative amounts
	ErrInvalidAmount = errors.New("custody amount must be positive")
)

// Lockbox tracks per-strategy holdings of the converted asset
type Lockbox struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewLockbox creates a custody lockbox
func NewLockbox(db *sql.DB, log zerolog.Logger) *Lockbox {
	return &Lockbox{
		db:  db,
		log: log.With().Str("service", "custody").Logger(),
	}
}

// CreditTx adds converted assets to a strategy's holdings within a transaction
func (l *Lockbox) CreditTx(tx *sql.Tx, strategy string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	_, err := tx.Exec(`
		INSERT INTO custody_holdings (strategy, balance) VALUES (?, ?)
		ON CONFLICT(strategy) DO UPDATE SET balance = balance + excluded.balance`,
		strategy, amount)
	if err != nil {
		return fmt.Errorf("failed to credit custody: %w", err)
	}
	return nil
}

// DebitTx removes converted assets from a strategy's holdings within a
// transaction. Fails with ErrInsufficientHoldings rather than going negative.
func (l *Lockbox) DebitTx(tx *sql.Tx, strategy string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	res, err := tx.Exec(`
		UPDATE custody_holdings SET balance = balance - ?
		WHERE strategy = ? AND balance >= ?`,
		amount, strategy, amount)
	if err != nil {
		return fmt.Errorf("failed to debit custody: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInsufficientHoldings
	}
	return nil
}

// Holdings returns a strategy's current lockbox balance
func (l *Lockbox) Holdings(strategy string) (int64, error) {
	var balance int64
	err := l.db.QueryRow(`SELECT balance FROM custody_holdings WHERE strategy = ?`,
		strategy).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query custody holdings: %w", err)
	}
	return balance, nil
}
