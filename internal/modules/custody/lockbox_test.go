package custody

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE custody_holdings (
			strategy TEXT PRIMARY KEY,
			balance  INTEGER NOT NULL DEFAULT 0
		)
	`)
	require.NoError(t, err)

	return db
}

func inTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	require.NoError(t, err)
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	require.NoError(t, tx.Commit())
	return nil
}

func TestCreditAndDebit(t *testing.T) {
	db := setupDB(t)
	lockbox := NewLockbox(db, zerolog.New(nil).Level(zerolog.Disabled))

	err := inTx(t, db, func(tx *sql.Tx) error {
		return lockbox.CreditTx(tx, "strategy:a", 1000)
	})
	require.NoError(t, err)

	err = inTx(t, db, func(tx *sql.Tx) error {
		return lockbox.DebitTx(tx, "strategy:a", 400)
	})
	require.NoError(t, err)

	holdings, err := lockbox.Holdings("strategy:a")
	require.NoError(t, err)
	assert.Equal(t, int64(600), holdings)

	// Unknown strategies hold nothing
	holdings, err = lockbox.Holdings("strategy:none")
	require.NoError(t, err)
	assert.Equal(t, int64(0), holdings)
}

func TestDebitCannotGoNegative(t *testing.T) {
	db := setupDB(t)
	lockbox := NewLockbox(db, zerolog.New(nil).Level(zerolog.Disabled))

	err := inTx(t, db, func(tx *sql.Tx) error {
		return lockbox.CreditTx(tx, "strategy:a", 100)
	})
	require.NoError(t, err)

	err = inTx(t, db, func(tx *sql.Tx) error {
		return lockbox.DebitTx(tx, "strategy:a", 101)
	})
	assert.ErrorIs(t, err, ErrInsufficientHoldings)

	err = inTx(t, db, func(tx *sql.Tx) error {
		return lockbox.DebitTx(tx, "strategy:none", 1)
	})
	assert.ErrorIs(t, err, ErrInsufficientHoldings)
}

func TestInvalidAmounts(t *testing.T) {
	db := setupDB(t)
	lockbox := NewLockbox(db, zerolog.New(nil).Level(zerolog.Disabled))

	err := inTx(t, db, func(tx *sql.Tx) error {
		return lockbox.CreditTx(tx, "strategy:a", 0)
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	err = inTx(t, db, func(tx *sql.Tx) error {
		return lockbox.DebitTx(tx, "strategy:a", -1)
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
