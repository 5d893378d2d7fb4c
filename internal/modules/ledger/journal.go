package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Journal entry types. Every ledger state transition appends exactly one
// entry in the same transaction, forming an append-only audit trail the
// reconciler replays to verify the aggregate counters.
const (
	EntryDepositRequested = "DEPOSIT_REQUESTED"
	EntryDepositClaimed   = "DEPOSIT_CLAIMED"
	EntryDepositRefunded  = "DEPOSIT_REFUNDED"
	EntryExitRequested    = "EXIT_REQUESTED"
	EntryExitClaimed      = "EXIT_CLAIMED"
	EntryExitRefunded     = "EXIT_REFUNDED"
)

// JournalEntry is one recorded state transition
type JournalEntry struct {
	UUID      string
	Strategy  string
	EntryType string
	RequestID int64
	Amount    int64 // The amount the transition moved (base units or allocation units per type)
	CreatedAt time.Time
}

// JournalSnapshot is the msgpack-encoded payload stored with each entry
type JournalSnapshot struct {
	User            string `msgpack:"user,omitempty"`
	Recipient       string `msgpack:"recipient,omitempty"`
	Amount          int64  `msgpack:"amount"`
	ConvertedAmount int64  `msgpack:"converted_amount,omitempty"`
	AssetPrice      int64  `msgpack:"asset_price,omitempty"`
	ReadyAt         int64  `msgpack:"ready_at,omitempty"`
}

// Journal appends settlement transitions to the audit trail
type Journal struct {
	db *sql.DB
}

// NewJournal creates a ledger journal
func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// AppendTx writes a journal entry within an existing transaction
func (j *Journal) AppendTx(tx *sql.Tx, strategy, entryType string, requestID, amount int64, snapshot JournalSnapshot) error {
	payload, err := msgpack.Marshal(&snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode journal snapshot: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO ledger_journal (uuid, strategy, entry_type, request_id, amount, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), strategy, entryType, requestID, amount, payload,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

// SumByType returns the total amount journaled for one entry type and strategy
func (j *Journal) SumByType(strategy, entryType string) (int64, error) {
	var total sql.NullInt64
	err := j.db.QueryRow(`
		SELECT SUM(amount) FROM ledger_journal WHERE strategy = ? AND entry_type = ?`,
		strategy, entryType).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum journal entries: %w", err)
	}
	return total.Int64, nil
}

// Entries returns the most recent journal entries for a strategy with
// decoded snapshots, newest first.
func (j *Journal) Entries(strategy string, limit int) ([]JournalEntry, []JournalSnapshot, error) {
	rows, err := j.db.Query(`
		SELECT uuid, strategy, entry_type, request_id, amount, payload, created_at
		FROM ledger_journal WHERE strategy = ?
		ORDER BY created_at DESC LIMIT ?`,
		strategy, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	var snapshots []JournalSnapshot
	for rows.Next() {
		var entry JournalEntry
		var payload []byte
		var createdAt string
		if err := rows.Scan(&entry.UUID, &entry.Strategy, &entry.EntryType,
			&entry.RequestID, &entry.Amount, &payload, &createdAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

		var snapshot JournalSnapshot
		if len(payload) > 0 {
			if err := msgpack.Unmarshal(payload, &snapshot); err != nil {
				return nil, nil, fmt.Errorf("failed to decode journal snapshot: %w", err)
			}
		}

		entries = append(entries, entry)
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating journal: %w", err)
	}

	return entries, snapshots, nil
}
