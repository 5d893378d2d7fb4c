// Package handlers provides HTTP handlers for strategy administration.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridianyield/stakeledger/internal/auth"
	"github.com/meridianyield/stakeledger/internal/events"
	"github.com/meridianyield/stakeledger/internal/modules/strategy"
	"github.com/meridianyield/stakeledger/internal/roles"
)

// EventEmitter publishes strategy administration events. May be nil.
type EventEmitter interface {
	EmitTyped(eventType events.EventType, module string, data events.EventData)
}

// Handler handles strategy HTTP requests
type Handler struct {
	registry *strategy.Registry
	rates    *strategy.RateHistoryRepository
	events   EventEmitter
	log      zerolog.Logger
}

// NewHandler creates a new strategy handler
func NewHandler(registry *strategy.Registry, rates *strategy.RateHistoryRepository, emitter EventEmitter, log zerolog.Logger) *Handler {
	return &Handler{
		registry: registry,
		rates:    rates,
		events:   emitter,
		log:      log.With().Str("handler", "strategy").Logger(),
	}
}

func (h *Handler) emit(eventType events.EventType, data events.EventData) {
	if h.events != nil {
		h.events.EmitTyped(eventType, "strategy", data)
	}
}

// HandleList handles GET /api/strategies
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.registry.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list strategies")
		http.Error(w, "Failed to list strategies", http.StatusInternalServerError)
		return
	}

	results := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		results = append(results, recordJSON(rec))
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"strategies": results,
			"count":      len(results),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleRegister handles POST /api/strategies
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if err := h.requireManager(r); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	var req struct {
		Address      string `json:"address"`
		Kind         string `json:"kind"`
		Symbol       string `json:"symbol"`
		Name         string `json:"name"`
		AssetPrice   int64  `json:"asset_price"`
		DepositDelay int64  `json:"deposit_delay_seconds"`
		ExitDelay    int64  `json:"exit_delay_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Address == "" {
		http.Error(w, "Address is required", http.StatusBadRequest)
		return
	}

	_, err := h.registry.Register(strategy.Record{
		Address:      req.Address,
		Kind:         req.Kind,
		Symbol:       req.Symbol,
		Name:         req.Name,
		Enabled:      true,
		AssetPrice:   req.AssetPrice,
		DepositDelay: time.Duration(req.DepositDelay) * time.Second,
		ExitDelay:    time.Duration(req.ExitDelay) * time.Second,
	})
	if err != nil {
		if errors.Is(err, strategy.ErrInvalidPrice) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error().Err(err).Str("address", req.Address).Msg("Failed to register strategy")
		http.Error(w, "Failed to register strategy", http.StatusInternalServerError)
		return
	}

	h.emit(events.StrategyRegistered, &events.StrategyRegisteredData{
		Address: req.Address,
		Kind:    req.Kind,
		Symbol:  req.Symbol,
	})

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"data": map[string]interface{}{
			"address":    req.Address,
			"kind":       req.Kind,
			"registered": true,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleSetPrice handles POST /api/strategies/{address}/price
func (h *Handler) HandleSetPrice(w http.ResponseWriter, r *http.Request, address string) {
	var req struct {
		Price int64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	strat, ok := h.registry.Get(address)
	if !ok {
		http.Error(w, "Strategy not found", http.StatusNotFound)
		return
	}

	priced, ok := strat.(*strategy.PriceStrategy)
	if !ok {
		http.Error(w, "Strategy price is vault-derived", http.StatusConflict)
		return
	}

	if err := priced.SetAssetPrice(auth.CallerFromContext(r.Context()), req.Price); err != nil {
		if errors.Is(err, strategy.ErrInvalidPrice) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.writeRoleError(w, err, "Failed to set asset price")
		return
	}

	h.emit(events.PriceUpdated, &events.PriceUpdatedData{
		Strategy:   address,
		AssetPrice: req.Price,
	})

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"address": address,
			"price":   req.Price,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleSetOffsets handles POST /api/strategies/{address}/offsets
func (h *Handler) HandleSetOffsets(w http.ResponseWriter, r *http.Request, address string) {
	var req struct {
		DepositDelay int64 `json:"deposit_delay_seconds"`
		ExitDelay    int64 `json:"exit_delay_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.DepositDelay < 0 || req.ExitDelay < 0 {
		http.Error(w, "Delays must not be negative", http.StatusBadRequest)
		return
	}

	strat, ok := h.registry.Get(address)
	if !ok {
		http.Error(w, "Strategy not found", http.StatusNotFound)
		return
	}

	err := strat.SetReadyAtOffsets(
		auth.CallerFromContext(r.Context()),
		time.Duration(req.DepositDelay)*time.Second,
		time.Duration(req.ExitDelay)*time.Second,
	)
	if err != nil {
		h.writeRoleError(w, err, "Failed to set offsets")
		return
	}

	h.emit(events.OffsetsUpdated, &events.OffsetsUpdatedData{
		Strategy:            address,
		DepositDelaySeconds: req.DepositDelay,
		ExitDelaySeconds:    req.ExitDelay,
	})

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"address":               address,
			"deposit_delay_seconds": req.DepositDelay,
			"exit_delay_seconds":    req.ExitDelay,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleSetEnabled handles POST /api/strategies/{address}/enabled
func (h *Handler) HandleSetEnabled(w http.ResponseWriter, r *http.Request, address string) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.registry.SetEnabled(auth.CallerFromContext(r.Context()), address, req.Enabled); err != nil {
		h.writeRoleError(w, err, "Failed to update strategy")
		return
	}

	eventType := events.StrategyEnabled
	if !req.Enabled {
		eventType = events.StrategyDisabled
	}
	h.emit(eventType, &events.StrategyEnabledData{
		Strategy: address,
		Enabled:  req.Enabled,
	})

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"address": address,
			"enabled": req.Enabled,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandlePreview handles GET /api/strategies/{address}/preview?amount=N
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request, address string) {
	strat, ok := h.registry.Get(address)
	if !ok {
		http.Error(w, "Strategy not found", http.StatusNotFound)
		return
	}

	amount, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid amount parameter", http.StatusBadRequest)
		return
	}

	allocation, err := strat.PreviewAllocation(amount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"address":    address,
			"amount":     amount,
			"allocation": allocation,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandlePreviewExit handles GET /api/strategies/{address}/preview-exit?allocation=N
func (h *Handler) HandlePreviewExit(w http.ResponseWriter, r *http.Request, address string) {
	strat, ok := h.registry.Get(address)
	if !ok {
		http.Error(w, "Strategy not found", http.StatusNotFound)
		return
	}

	allocation, err := strconv.ParseInt(r.URL.Query().Get("allocation"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid allocation parameter", http.StatusBadRequest)
		return
	}

	amount, err := strat.PreviewExit(allocation)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"address":    address,
			"allocation": allocation,
			"amount":     amount,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleYieldStats handles GET /api/strategies/{address}/yield?days=N
func (h *Handler) HandleYieldStats(w http.ResponseWriter, r *http.Request, address string) {
	days := 30 // default window
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		if parsed, err := strconv.Atoi(daysStr); err == nil && parsed > 0 {
			days = parsed
		}
	}

	since := time.Now().AddDate(0, 0, -days)
	stats, err := h.rates.Stats(address, since)
	if err != nil {
		h.log.Error().Err(err).Str("address", address).Msg("Failed to compute yield stats")
		http.Error(w, "Failed to compute yield stats", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"strategy":       stats.Strategy,
			"observations":   stats.Observations,
			"mean_price":     stats.MeanPrice,
			"stddev_price":   stats.StdDevPrice,
			"min_price":      stats.MinPrice,
			"max_price":      stats.MaxPrice,
			"annualized_apy": stats.AnnualizedAPY,
			"window_days":    days,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleRateHistory handles GET /api/strategies/{address}/rate-history?days=N
func (h *Handler) HandleRateHistory(w http.ResponseWriter, r *http.Request, address string) {
	days := 30 // default window
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		if parsed, err := strconv.Atoi(daysStr); err == nil && parsed > 0 {
			days = parsed
		}
	}

	since := time.Now().AddDate(0, 0, -days)
	observations, err := h.rates.History(address, since)
	if err != nil {
		h.log.Error().Err(err).Str("address", address).Msg("Failed to query rate history")
		http.Error(w, "Failed to query rate history", http.StatusInternalServerError)
		return
	}

	results := make([]map[string]interface{}, 0, len(observations))
	for _, obs := range observations {
		results = append(results, map[string]interface{}{
			"asset_price": obs.AssetPrice,
			"observed_at": time.Unix(obs.ObservedAt, 0).UTC().Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"strategy":     address,
			"observations": results,
			"count":        len(results),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func recordJSON(rec strategy.Record) map[string]interface{} {
	return map[string]interface{}{
		"address":               rec.Address,
		"kind":                  rec.Kind,
		"symbol":                rec.Symbol,
		"name":                  rec.Name,
		"enabled":               rec.Enabled,
		"asset_price":           rec.AssetPrice,
		"deposit_delay_seconds": int64(rec.DepositDelay / time.Second),
		"exit_delay_seconds":    int64(rec.ExitDelay / time.Second),
	}
}

func (h *Handler) requireManager(r *http.Request) error {
	caller := auth.CallerFromContext(r.Context())
	if caller != auth.CallerManager {
		return roles.ErrForbidden
	}
	return nil
}

// writeRoleError maps role errors to 403, everything else to 500
func (h *Handler) writeRoleError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, roles.ErrForbidden) {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	h.log.Error().Err(err).Msg(msg)
	http.Error(w, msg, http.StatusInternalServerError)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
