package strategy

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridianyield/stakeledger/internal/roles"
)

// Record is a registered strategy's persisted state
type Record struct {
	Address      string
	Kind         string // KindPrice or KindVault
	Symbol       string
	Name         string
	Enabled      bool
	AssetPrice   int64 // Last configured price (price strategies only)
	DepositDelay time.Duration
	ExitDelay    time.Duration
}

// Registry maps strategy identities to enablement, metadata and live
// adapter instances. The router consults it before forwarding any user
// call; the ledger itself never re-validates registration.
type Registry struct {
	db           *sql.DB
	policy       roles.Policy
	vaultClients map[string]VaultClient
	instances    map[string]Strategy
	mu           sync.RWMutex
	log          zerolog.Logger
}

// NewRegistry creates a strategy registry backed by registry.db
func NewRegistry(db *sql.DB, policy roles.Policy, log zerolog.Logger) *Registry {
	return &Registry{
		db:           db,
		policy:       policy,
		vaultClients: make(map[string]VaultClient),
		instances:    make(map[string]Strategy),
		log:          log.With().Str("service", "strategy_registry").Logger(),
	}
}

// RegisterVaultClient associates an external vault client with a strategy
// address. Must be called before Load for persisted vault strategies.
func (r *Registry) RegisterVaultClient(address string, client VaultClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vaultClients[address] = client
}

// Register persists a new strategy and builds its adapter instance
func (r *Registry) Register(rec Record) (Strategy, error) {
	if rec.Address == "" {
		return nil, fmt.Errorf("strategy address is required")
	}
	if rec.Kind != KindPrice && rec.Kind != KindVault {
		return nil, fmt.Errorf("unknown strategy kind %q", rec.Kind)
	}
	if rec.Kind == KindPrice && rec.AssetPrice <= 0 {
		return nil, ErrInvalidPrice
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.Exec(`
		INSERT INTO strategies (address, kind, symbol, name, enabled, asset_price,
		                        deposit_delay, exit_delay, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Address, rec.Kind, rec.Symbol, rec.Name, boolToInt(rec.Enabled),
		rec.AssetPrice, int64(rec.DepositDelay.Seconds()), int64(rec.ExitDelay.Seconds()),
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register strategy %s: %w", rec.Address, err)
	}

	instance, err := r.build(rec)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.instances[rec.Address] = instance
	r.mu.Unlock()

	r.log.Info().
		Str("strategy", rec.Address).
		Str("kind", rec.Kind).
		Str("symbol", rec.Symbol).
		Msg("Strategy registered")

	return instance, nil
}

// Load builds adapter instances for all persisted strategies
func (r *Registry) Load() error {
	records, err := r.List()
	if err != nil {
		return err
	}

	for _, rec := range records {
		instance, err := r.build(rec)
		if err != nil {
			return fmt.Errorf("failed to load strategy %s: %w", rec.Address, err)
		}
		r.mu.Lock()
		r.instances[rec.Address] = instance
		r.mu.Unlock()
	}

	r.log.Info().Int("count", len(records)).Msg("Strategies loaded")
	return nil
}

// build constructs the adapter instance for a record
func (r *Registry) build(rec Record) (Strategy, error) {
	switch rec.Kind {
	case KindPrice:
		s, err := NewPriceStrategy(rec.Address, rec.AssetPrice, r.policy, r)
		if err != nil {
			return nil, err
		}
		s.restoreOffsets(rec.DepositDelay, rec.ExitDelay)
		return s, nil

	case KindVault:
		r.mu.RLock()
		client, ok := r.vaultClients[rec.Address]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("no vault client registered for strategy %s", rec.Address)
		}
		s := NewVaultStrategy(rec.Address, client, r.policy, r)
		s.restoreOffsets(rec.DepositDelay, rec.ExitDelay)
		return s, nil

	default:
		return nil, fmt.Errorf("unknown strategy kind %q", rec.Kind)
	}
}

// Get returns the live adapter for a registered strategy
func (r *Registry) Get(address string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	instance, ok := r.instances[address]
	return instance, ok
}

// IsEnabled reports whether a strategy is registered and enabled
func (r *Registry) IsEnabled(address string) (bool, error) {
	var enabled int
	err := r.db.QueryRow(`SELECT enabled FROM strategies WHERE address = ?`, address).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query strategy %s: %w", address, err)
	}
	return enabled == 1, nil
}

// SetEnabled toggles a strategy's enablement. Manager-gated.
func (r *Registry) SetEnabled(caller, address string, enabled bool) error {
	if err := r.policy.Check(caller, roles.RoleManager); err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}

	res, err := r.db.Exec(`UPDATE strategies SET enabled = ?, updated_at = ? WHERE address = ?`,
		boolToInt(enabled), time.Now().UTC().Format(time.RFC3339), address)
	if err != nil {
		return fmt.Errorf("failed to update strategy %s: %w", address, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("strategy %s is not registered", address)
	}
	return nil
}

// List returns all persisted strategy records
func (r *Registry) List() ([]Record, error) {
	rows, err := r.db.Query(`
		SELECT address, kind, symbol, name, enabled, asset_price, deposit_delay, exit_delay
		FROM strategies ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategies: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var enabled int
		var depositSecs, exitSecs int64
		if err := rows.Scan(&rec.Address, &rec.Kind, &rec.Symbol, &rec.Name,
			&enabled, &rec.AssetPrice, &depositSecs, &exitSecs); err != nil {
			return nil, fmt.Errorf("failed to scan strategy row: %w", err)
		}
		rec.Enabled = enabled == 1
		rec.DepositDelay = time.Duration(depositSecs) * time.Second
		rec.ExitDelay = time.Duration(exitSecs) * time.Second
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating strategies: %w", err)
	}

	return records, nil
}

// SavePrice persists a price change and appends it to the rate history.
// Implements Store for strategy adapters.
func (r *Registry) SavePrice(address string, price int64) error {
	now := time.Now()
	_, err := r.db.Exec(`UPDATE strategies SET asset_price = ?, updated_at = ? WHERE address = ?`,
		price, now.UTC().Format(time.RFC3339), address)
	if err != nil {
		return fmt.Errorf("failed to persist price for %s: %w", address, err)
	}

	_, err = r.db.Exec(`INSERT INTO rate_history (strategy, asset_price, observed_at) VALUES (?, ?, ?)`,
		address, price, now.Unix())
	if err != nil {
		return fmt.Errorf("failed to append rate history for %s: %w", address, err)
	}
	return nil
}

// SaveOffsets persists ready-at offset changes.
// Implements Store for strategy adapters.
func (r *Registry) SaveOffsets(address string, deposit, exit time.Duration) error {
	_, err := r.db.Exec(`UPDATE strategies SET deposit_delay = ?, exit_delay = ?, updated_at = ? WHERE address = ?`,
		int64(deposit.Seconds()), int64(exit.Seconds()),
		time.Now().UTC().Format(time.RFC3339), address)
	if err != nil {
		return fmt.Errorf("failed to persist offsets for %s: %w", address, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
