// Package shares provides the derived share ledger.
//
// Derived shares are the transferable claim on a strategy's allocation.
// They move in lock-step with the settlement engine: minted when a deposit
// claim settles, burned the moment an exit is requested, re-minted if that
// exit is refunded. All moves happen inside the settlement transaction, so
// the tx-aware variants are the ones the ledger service uses.
package shares

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

var (
	// ErrInsufficientBalance is returned when a burn exceeds the holder's balance
	ErrInsufficientBalance = errors.New("insufficient share balance")
	// ErrInvalidAmount is returned for zero or negative share amounts
	ErrInvalidAmount = errors.New("share amount must be positive")
)

// Ledger is the per-strategy derived share balance book
type Ledger struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewLedger creates a derived share ledger
func NewLedger(db *sql.DB, log zerolog.Logger) *Ledger {
	return &Ledger{
		db:  db,
		log: log.With().Str("service", "shares").Logger(),
	}
}

// MintTx credits shares to a holder within an existing transaction
func (l *Ledger) MintTx(tx *sql.Tx, strategy, user string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	_, err := tx.Exec(`
		INSERT INTO share_balances (strategy, user, balance) VALUES (?, ?, ?)
		ON CONFLICT(strategy, user) DO UPDATE SET balance = balance + excluded.balance`,
		strategy, user, amount)
	if err != nil {
		return fmt.Errorf("failed to mint shares: %w", err)
	}
	return nil
}

// BurnTx debits shares from a holder within an existing transaction.
// Fails with ErrInsufficientBalance rather than going negative.
func (l *Ledger) BurnTx(tx *sql.Tx, strategy, user string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	res, err := tx.Exec(`
		UPDATE share_balances SET balance = balance - ?
		WHERE strategy = ? AND user = ? AND balance >= ?`,
		amount, strategy, user, amount)
	if err != nil {
		return fmt.Errorf("failed to burn shares: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// BalanceOf returns a holder's share balance for a strategy.
// Unknown holders have a zero balance.
func (l *Ledger) BalanceOf(strategy, user string) (int64, error) {
	var balance int64
	err := l.db.QueryRow(`SELECT balance FROM share_balances WHERE strategy = ? AND user = ?`,
		strategy, user).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query share balance: %w", err)
	}
	return balance, nil
}

// BalanceOfTx is BalanceOf within an existing transaction
func (l *Ledger) BalanceOfTx(tx *sql.Tx, strategy, user string) (int64, error) {
	var balance int64
	err := tx.QueryRow(`SELECT balance FROM share_balances WHERE strategy = ? AND user = ?`,
		strategy, user).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query share balance: %w", err)
	}
	return balance, nil
}

// TotalSupply returns the total shares outstanding for a strategy
func (l *Ledger) TotalSupply(strategy string) (int64, error) {
	var total sql.NullInt64
	err := l.db.QueryRow(`SELECT SUM(balance) FROM share_balances WHERE strategy = ?`,
		strategy).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to query total supply: %w", err)
	}
	return total.Int64, nil
}
