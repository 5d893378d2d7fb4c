package strategy

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// secondsPerYear is used to annualize observed rate growth
const secondsPerYear = 365.25 * 24 * 3600

// RateObservation is one historical price point for a strategy
type RateObservation struct {
	AssetPrice int64 `json:"asset_price"`
	ObservedAt int64 `json:"observed_at"`
}

// YieldStats summarizes a strategy's observed rate history
type YieldStats struct {
	Strategy      string  `json:"strategy"`
	Observations  int     `json:"observations"`
	MeanPrice     float64 `json:"mean_price"`
	StdDevPrice   float64 `json:"stddev_price"`
	MinPrice      int64   `json:"min_price"`
	MaxPrice      int64   `json:"max_price"`
	AnnualizedAPY float64 `json:"annualized_apy"` // Growth of first->last observation, annualized
}

// RateHistoryRepository reads and appends strategy rate observations
type RateHistoryRepository struct {
	db *sql.DB
}

// NewRateHistoryRepository creates a rate history repository
func NewRateHistoryRepository(db *sql.DB) *RateHistoryRepository {
	return &RateHistoryRepository{db: db}
}

// Append records a price observation
func (r *RateHistoryRepository) Append(strategy string, price int64, observedAt time.Time) error {
	_, err := r.db.Exec(`INSERT INTO rate_history (strategy, asset_price, observed_at) VALUES (?, ?, ?)`,
		strategy, price, observedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to append rate observation: %w", err)
	}
	return nil
}

// History returns observations for a strategy since the given time, oldest first
func (r *RateHistoryRepository) History(strategy string, since time.Time) ([]RateObservation, error) {
	rows, err := r.db.Query(`
		SELECT asset_price, observed_at FROM rate_history
		WHERE strategy = ? AND observed_at >= ?
		ORDER BY observed_at ASC`,
		strategy, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query rate history: %w", err)
	}
	defer rows.Close()

	var observations []RateObservation
	for rows.Next() {
		var obs RateObservation
		if err := rows.Scan(&obs.AssetPrice, &obs.ObservedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rate observation: %w", err)
		}
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rate history: %w", err)
	}

	return observations, nil
}

// Stats computes yield statistics over a strategy's observed rate history
func (r *RateHistoryRepository) Stats(strategy string, since time.Time) (YieldStats, error) {
	observations, err := r.History(strategy, since)
	if err != nil {
		return YieldStats{}, err
	}

	stats := YieldStats{
		Strategy:     strategy,
		Observations: len(observations),
	}
	if len(observations) == 0 {
		return stats, nil
	}

	prices := make([]float64, len(observations))
	stats.MinPrice = observations[0].AssetPrice
	stats.MaxPrice = observations[0].AssetPrice
	for i, obs := range observations {
		prices[i] = float64(obs.AssetPrice)
		if obs.AssetPrice < stats.MinPrice {
			stats.MinPrice = obs.AssetPrice
		}
		if obs.AssetPrice > stats.MaxPrice {
			stats.MaxPrice = obs.AssetPrice
		}
	}

	stats.MeanPrice = stat.Mean(prices, nil)
	if len(prices) > 1 {
		stats.StdDevPrice = stat.StdDev(prices, nil)
	}

	// Annualize the growth between first and last observation. A vault's
	// share price compounds, so this approximates the realized APY.
	first, last := observations[0], observations[len(observations)-1]
	elapsed := float64(last.ObservedAt - first.ObservedAt)
	if elapsed > 0 && first.AssetPrice > 0 {
		growth := float64(last.AssetPrice) / float64(first.AssetPrice)
		stats.AnnualizedAPY = math.Pow(growth, secondsPerYear/elapsed) - 1
	}

	return stats, nil
}
