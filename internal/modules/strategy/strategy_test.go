package strategy

import (
	"database/sql"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/meridianyield/stakeledger/internal/roles"
)

// allowAll grants every role to every caller
type allowAll struct{}

func (allowAll) Check(caller string, role roles.Role) error { return nil }

// fixedVault returns a constant share price
type fixedVault struct {
	price int64
	err   error
}

func (v fixedVault) SharePrice() (int64, error) { return v.price, v.err }

func setupRegistryDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE strategies (
			address       TEXT PRIMARY KEY,
			kind          TEXT NOT NULL,
			symbol        TEXT NOT NULL DEFAULT '',
			name          TEXT NOT NULL DEFAULT '',
			enabled       INTEGER NOT NULL DEFAULT 1,
			asset_price   INTEGER NOT NULL DEFAULT 0,
			deposit_delay INTEGER NOT NULL DEFAULT 0,
			exit_delay    INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);
		CREATE TABLE rate_history (
			strategy    TEXT NOT NULL,
			asset_price INTEGER NOT NULL,
			observed_at INTEGER NOT NULL
		)
	`)
	require.NoError(t, err)

	return db
}

func TestPreviewConversions(t *testing.T) {
	tests := []struct {
		name       string
		price      int64
		amount     int64
		allocation int64
	}{
		{"price 1.0 is identity", PriceScale, 1000, 1000},
		{"price 2.0 halves allocation", 2 * PriceScale, 1000, 500},
		{"price 0.5 doubles allocation", PriceScale / 2, 1000, 2000},
		{"zero amount", PriceScale, 0, 0},
		{"fractional price truncates", 3 * PriceScale, 100, 33},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewPriceStrategy("strategy:a", tt.price, allowAll{}, nil)
			require.NoError(t, err)

			got, err := s.PreviewAllocation(tt.amount)
			require.NoError(t, err)
			assert.Equal(t, tt.allocation, got)

			back, err := s.PreviewExit(tt.allocation)
			require.NoError(t, err)
			assert.LessOrEqual(t, back, tt.amount)
		})
	}
}

func TestPreviewGuards(t *testing.T) {
	s, err := NewPriceStrategy("strategy:a", PriceScale, allowAll{}, nil)
	require.NoError(t, err)

	_, err = s.PreviewAllocation(-1)
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, err = s.PreviewExit(-1)
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, err = s.PreviewAllocation(math.MaxInt64/PriceScale + 1)
	assert.ErrorIs(t, err, ErrAmountTooLarge)

	_, err = s.PreviewExit(math.MaxInt64/PriceScale + 1)
	assert.ErrorIs(t, err, ErrAmountTooLarge)
}

func TestNewPriceStrategyRejectsBadPrice(t *testing.T) {
	_, err := NewPriceStrategy("strategy:a", 0, allowAll{}, nil)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = NewPriceStrategy("strategy:a", -1, allowAll{}, nil)
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestSetAssetPricePolicyGated(t *testing.T) {
	policy := roles.NewStaticPolicy()
	policy.Grant(roles.RoleManager, "manager")

	s, err := NewPriceStrategy("strategy:a", PriceScale, policy, nil)
	require.NoError(t, err)

	err = s.SetAssetPrice("user:mallory", 2*PriceScale)
	assert.ErrorIs(t, err, roles.ErrForbidden)

	price, err := s.AssetPrice()
	require.NoError(t, err)
	assert.Equal(t, PriceScale, price)

	require.NoError(t, s.SetAssetPrice("manager", 2*PriceScale))
	price, err = s.AssetPrice()
	require.NoError(t, err)
	assert.Equal(t, 2*PriceScale, price)

	err = s.SetAssetPrice("manager", 0)
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestSetReadyAtOffsets(t *testing.T) {
	policy := roles.NewStaticPolicy()
	policy.Grant(roles.RoleManager, "manager")

	s, err := NewPriceStrategy("strategy:a", PriceScale, policy, nil)
	require.NoError(t, err)

	err = s.SetReadyAtOffsets("user:mallory", time.Hour, time.Hour)
	assert.ErrorIs(t, err, roles.ErrForbidden)

	err = s.SetReadyAtOffsets("manager", -time.Second, 0)
	assert.Error(t, err)

	require.NoError(t, s.SetReadyAtOffsets("manager", time.Hour, 2*time.Hour))
	dep, exit := s.ReadyAtOffsets()
	assert.Equal(t, time.Hour, dep)
	assert.Equal(t, 2*time.Hour, exit)
}

func TestVaultStrategyTracksSharePrice(t *testing.T) {
	s := NewVaultStrategy("strategy:vault", fixedVault{price: 2 * PriceScale}, allowAll{}, nil)

	got, err := s.PreviewAllocation(1000)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got)

	back, err := s.PreviewExit(500)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), back)
}

func TestVaultStrategyRejectsBadSharePrice(t *testing.T) {
	s := NewVaultStrategy("strategy:vault", fixedVault{price: 0}, allowAll{}, nil)

	_, err := s.AssetPrice()
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = s.PreviewAllocation(100)
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestRegistryRegisterAndGet(t *testing.T) {
	db := setupRegistryDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)

	policy := roles.NewStaticPolicy()
	policy.Grant(roles.RoleManager, "manager")

	registry := NewRegistry(db, policy, log)

	_, err := registry.Register(Record{
		Address:    "strategy:alpha",
		Kind:       KindPrice,
		Symbol:     "ALPH",
		Name:       "Alpha Yield",
		Enabled:    true,
		AssetPrice: PriceScale,
	})
	require.NoError(t, err)

	s, ok := registry.Get("strategy:alpha")
	require.True(t, ok)
	assert.Equal(t, "strategy:alpha", s.Address())

	_, ok = registry.Get("strategy:unknown")
	assert.False(t, ok)

	enabled, err := registry.IsEnabled("strategy:alpha")
	require.NoError(t, err)
	assert.True(t, enabled)

	enabled, err = registry.IsEnabled("strategy:unknown")
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestRegistryRejectsInvalidRecords(t *testing.T) {
	db := setupRegistryDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	registry := NewRegistry(db, allowAll{}, log)

	_, err := registry.Register(Record{Kind: KindPrice, AssetPrice: PriceScale})
	assert.Error(t, err)

	_, err = registry.Register(Record{Address: "strategy:a", Kind: "futures"})
	assert.Error(t, err)

	_, err = registry.Register(Record{Address: "strategy:a", Kind: KindPrice, AssetPrice: 0})
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestRegistryPersistsConfigurationAcrossLoad(t *testing.T) {
	db := setupRegistryDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)

	policy := roles.NewStaticPolicy()
	policy.Grant(roles.RoleManager, "manager")

	registry := NewRegistry(db, policy, log)
	instance, err := registry.Register(Record{
		Address:    "strategy:alpha",
		Kind:       KindPrice,
		Enabled:    true,
		AssetPrice: PriceScale,
	})
	require.NoError(t, err)

	ps := instance.(*PriceStrategy)
	require.NoError(t, ps.SetAssetPrice("manager", 3*PriceScale))
	require.NoError(t, ps.SetReadyAtOffsets("manager", time.Hour, 2*time.Hour))

	// A fresh registry over the same database sees the saved state
	reloaded := NewRegistry(db, policy, log)
	require.NoError(t, reloaded.Load())

	s, ok := reloaded.Get("strategy:alpha")
	require.True(t, ok)

	price, err := s.AssetPrice()
	require.NoError(t, err)
	assert.Equal(t, 3*PriceScale, price)

	dep, exit := s.ReadyAtOffsets()
	assert.Equal(t, time.Hour, dep)
	assert.Equal(t, 2*time.Hour, exit)
}

func TestRegistrySetEnabled(t *testing.T) {
	db := setupRegistryDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)

	policy := roles.NewStaticPolicy()
	policy.Grant(roles.RoleManager, "manager")

	registry := NewRegistry(db, policy, log)
	_, err := registry.Register(Record{
		Address: "strategy:alpha", Kind: KindPrice, Enabled: true, AssetPrice: PriceScale,
	})
	require.NoError(t, err)

	err = registry.SetEnabled("user:mallory", "strategy:alpha", false)
	assert.ErrorIs(t, err, roles.ErrForbidden)

	require.NoError(t, registry.SetEnabled("manager", "strategy:alpha", false))
	enabled, err := registry.IsEnabled("strategy:alpha")
	require.NoError(t, err)
	assert.False(t, enabled)

	err = registry.SetEnabled("manager", "strategy:unknown", true)
	assert.Error(t, err)
}

func TestRegistryLoadVaultRequiresClient(t *testing.T) {
	db := setupRegistryDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	registry := NewRegistry(db, allowAll{}, log)

	_, err := db.Exec(`
		INSERT INTO strategies (address, kind, symbol, name, enabled, asset_price,
		                        deposit_delay, exit_delay, created_at, updated_at)
		VALUES ('strategy:vault', 'vault', '', '', 1, 0, 0, 0, '', '')`)
	require.NoError(t, err)

	err = registry.Load()
	assert.Error(t, err)

	// With a client registered the load succeeds
	registry.RegisterVaultClient("strategy:vault", fixedVault{price: PriceScale})
	require.NoError(t, registry.Load())

	s, ok := registry.Get("strategy:vault")
	require.True(t, ok)
	price, err := s.AssetPrice()
	require.NoError(t, err)
	assert.Equal(t, PriceScale, price)
}
