package database

import "fmt"

// ledgerSchema is the schema for ledger.db - the settlement audit trail.
// Aggregate counters, request records, withdraw claims, share balances and
// custody holdings live in the same database so every state transition can
// be applied in a single transaction.
const ledgerSchema = `
CREATE TABLE IF NOT EXISTS stake_info (
    strategy         TEXT PRIMARY KEY,
    total_stake      INTEGER NOT NULL DEFAULT 0,
    total_allocation INTEGER NOT NULL DEFAULT 0,
    updated_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS allocation_requests (
    strategy   TEXT NOT NULL,
    id         INTEGER NOT NULL,
    user       TEXT NOT NULL,
    is_exit    INTEGER NOT NULL DEFAULT 0,
    amount     INTEGER NOT NULL,
    ready_at   INTEGER NOT NULL,
    claimed    INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    PRIMARY KEY (strategy, id)
);

CREATE INDEX IF NOT EXISTS idx_allocation_requests_user
    ON allocation_requests(strategy, user);

CREATE TABLE IF NOT EXISTS withdraw_claims (
    strategy          TEXT NOT NULL,
    claim_id          INTEGER NOT NULL,
    expected_amount   INTEGER NOT NULL,
    allocation_amount INTEGER NOT NULL,
    unlock_time       INTEGER NOT NULL,
    eligible          TEXT NOT NULL,
    created_at        TEXT NOT NULL,
    PRIMARY KEY (strategy, claim_id)
);

CREATE TABLE IF NOT EXISTS share_balances (
    strategy TEXT NOT NULL,
    user     TEXT NOT NULL,
    balance  INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (strategy, user)
);

CREATE TABLE IF NOT EXISTS custody_holdings (
    strategy TEXT PRIMARY KEY,
    balance  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ledger_journal (
    uuid       TEXT PRIMARY KEY,
    strategy   TEXT NOT NULL,
    entry_type TEXT NOT NULL,
    request_id INTEGER NOT NULL,
    amount     INTEGER NOT NULL,
    payload    BLOB,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_journal_strategy
    ON ledger_journal(strategy, entry_type);
`

// registrySchema is the schema for registry.db - strategy registration,
// metadata and observed rate history.
const registrySchema = `
CREATE TABLE IF NOT EXISTS strategies (
    address       TEXT PRIMARY KEY,
    kind          TEXT NOT NULL,
    symbol        TEXT NOT NULL,
    name          TEXT NOT NULL,
    enabled       INTEGER NOT NULL DEFAULT 1,
    asset_price   INTEGER NOT NULL DEFAULT 0,
    deposit_delay INTEGER NOT NULL DEFAULT 0,
    exit_delay    INTEGER NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rate_history (
    strategy    TEXT NOT NULL,
    asset_price INTEGER NOT NULL,
    observed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rate_history_strategy
    ON rate_history(strategy, observed_at);
`

// schemas maps database names to their embedded schema
var schemas = map[string]string{
	"ledger":   ledgerSchema,
	"registry": registrySchema,
}

// Migrate applies the embedded schema for this database.
// Schemas are idempotent (CREATE IF NOT EXISTS), so Migrate is safe to call
// on every startup. Unknown database names are skipped.
func (db *DB) Migrate() error {
	schema, ok := schemas[db.name]
	if !ok {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for %s schema: %w", db.name, err)
	}

	if _, err := tx.Exec(schema); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to apply %s schema: %w", db.name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s schema: %w", db.name, err)
	}

	return nil
}
