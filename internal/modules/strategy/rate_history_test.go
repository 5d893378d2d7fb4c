package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateHistoryAppendAndQuery(t *testing.T) {
	db := setupRegistryDB(t)
	repo := NewRateHistoryRepository(db)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Append("strategy:alpha", PriceScale, base))
	require.NoError(t, repo.Append("strategy:alpha", 2*PriceScale, base.Add(24*time.Hour)))
	require.NoError(t, repo.Append("strategy:other", 5*PriceScale, base))

	observations, err := repo.History("strategy:alpha", base)
	require.NoError(t, err)
	require.Len(t, observations, 2)
	assert.Equal(t, PriceScale, observations[0].AssetPrice)
	assert.Equal(t, 2*PriceScale, observations[1].AssetPrice)

	// The since cutoff excludes older observations
	observations, err = repo.History("strategy:alpha", base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, observations, 1)
	assert.Equal(t, 2*PriceScale, observations[0].AssetPrice)
}

func TestRateHistoryStats(t *testing.T) {
	db := setupRegistryDB(t)
	repo := NewRateHistoryRepository(db)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Append("strategy:alpha", 100, base))
	require.NoError(t, repo.Append("strategy:alpha", 200, base.Add(24*time.Hour)))
	require.NoError(t, repo.Append("strategy:alpha", 300, base.Add(48*time.Hour)))

	stats, err := repo.Stats("strategy:alpha", base)
	require.NoError(t, err)

	assert.Equal(t, "strategy:alpha", stats.Strategy)
	assert.Equal(t, 3, stats.Observations)
	assert.InDelta(t, 200.0, stats.MeanPrice, 0.001)
	assert.Equal(t, int64(100), stats.MinPrice)
	assert.Equal(t, int64(300), stats.MaxPrice)
	assert.Greater(t, stats.StdDevPrice, 0.0)
	// Price tripled in two days: annualized growth is strongly positive
	assert.Greater(t, stats.AnnualizedAPY, 1.0)
}

func TestRateHistoryStatsEmpty(t *testing.T) {
	db := setupRegistryDB(t)
	repo := NewRateHistoryRepository(db)

	stats, err := repo.Stats("strategy:none", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Observations)
	assert.Equal(t, 0.0, stats.AnnualizedAPY)
}
