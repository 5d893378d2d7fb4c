// Package handlers provides HTTP handlers for ledger operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridianyield/stakeledger/internal/auth"
	"github.com/meridianyield/stakeledger/internal/modules/custody"
	"github.com/meridianyield/stakeledger/internal/modules/ledger"
	"github.com/meridianyield/stakeledger/internal/modules/shares"
	"github.com/meridianyield/stakeledger/internal/roles"
)

// StrategyGate reports whether a strategy accepts new operations.
// Implemented by the strategy registry. The gate is consulted here, at the
// routing boundary; the ledger service itself never re-validates enablement.
type StrategyGate interface {
	IsEnabled(address string) (bool, error)
}

// Handler handles ledger HTTP requests
type Handler struct {
	service *ledger.Service
	journal *ledger.Journal
	shares  *shares.Ledger
	custody *custody.Lockbox
	gate    StrategyGate
	log     zerolog.Logger
}

// NewHandler creates a new ledger handler. A nil gate disables the
// enablement check.
func NewHandler(
	service *ledger.Service,
	journal *ledger.Journal,
	shareLedger *shares.Ledger,
	lockbox *custody.Lockbox,
	gate StrategyGate,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		service: service,
		journal: journal,
		shares:  shareLedger,
		custody: lockbox,
		gate:    gate,
		log:     log.With().Str("handler", "ledger").Logger(),
	}
}

// checkEnabled rejects mutations against disabled or unregistered
// strategies. Queries stay open so existing positions remain visible.
func (h *Handler) checkEnabled(w http.ResponseWriter, strategy string) bool {
	if h.gate == nil {
		return true
	}
	enabled, err := h.gate.IsEnabled(strategy)
	if err != nil {
		h.log.Error().Err(err).Str("strategy", strategy).Msg("Failed to check strategy enablement")
		http.Error(w, "Failed to check strategy", http.StatusInternalServerError)
		return false
	}
	if !enabled {
		http.Error(w, "Strategy is not accepting operations", http.StatusConflict)
		return false
	}
	return true
}

// HandleRequestAllocation handles POST /api/ledger/{strategy}/allocations
func (h *Handler) HandleRequestAllocation(w http.ResponseWriter, r *http.Request, strategy string) {
	if !h.checkEnabled(w, strategy) {
		return
	}

	var req struct {
		ID     int64  `json:"id"`
		Amount int64  `json:"amount"`
		User   string `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	readyAt, err := h.service.RequestAllocation(auth.CallerFromContext(r.Context()), strategy, req.ID, req.Amount, req.User)
	if err != nil {
		h.writeError(w, err, "Failed to request allocation")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"data": map[string]interface{}{
			"strategy": strategy,
			"id":       req.ID,
			"ready_at": readyAt,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleClaimAllocations handles POST /api/ledger/{strategy}/allocations/claim
func (h *Handler) HandleClaimAllocations(w http.ResponseWriter, r *http.Request, strategy string) {
	if !h.checkEnabled(w, strategy) {
		return
	}

	var req struct {
		IDs       []int64 `json:"ids"`
		Recipient string  `json:"recipient"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := h.service.ClaimAllocation(auth.CallerFromContext(r.Context()), strategy, req.IDs, req.Recipient)
	if err != nil {
		h.writeError(w, err, "Failed to claim allocations")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"strategy": strategy,
			"claimed":  req.IDs,
			"count":    len(req.IDs),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleRefundDeposit handles POST /api/ledger/{strategy}/allocations/{id}/refund
func (h *Handler) HandleRefundDeposit(w http.ResponseWriter, r *http.Request, strategy, idStr string) {
	if !h.checkEnabled(w, strategy) {
		return
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid request ID", http.StatusBadRequest)
		return
	}

	var req struct {
		User string `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.RefundDeposit(auth.CallerFromContext(r.Context()), strategy, id, req.User); err != nil {
		h.writeError(w, err, "Failed to refund deposit")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"strategy": strategy,
			"id":       id,
			"refunded": true,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleRequestExit handles POST /api/ledger/{strategy}/exits
func (h *Handler) HandleRequestExit(w http.ResponseWriter, r *http.Request, strategy string) {
	if !h.checkEnabled(w, strategy) {
		return
	}

	var req struct {
		ID         int64  `json:"id"`
		Allocation int64  `json:"allocation"`
		User       string `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	unlockTime, err := h.service.RequestExit(auth.CallerFromContext(r.Context()), strategy, req.ID, req.Allocation, req.User)
	if err != nil {
		h.writeError(w, err, "Failed to request exit")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"data": map[string]interface{}{
			"strategy":    strategy,
			"claim_id":    req.ID,
			"unlock_time": unlockTime,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleClaimWithdraws handles POST /api/ledger/{strategy}/exits/claim
func (h *Handler) HandleClaimWithdraws(w http.ResponseWriter, r *http.Request, strategy string) {
	if !h.checkEnabled(w, strategy) {
		return
	}

	var req struct {
		ClaimIDs  []int64 `json:"claim_ids"`
		Recipient string  `json:"recipient"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := h.service.ClaimWithdraws(auth.CallerFromContext(r.Context()), strategy, req.ClaimIDs, req.Recipient)
	if err != nil {
		h.writeError(w, err, "Failed to claim withdraws")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"strategy": strategy,
			"claimed":  req.ClaimIDs,
			"count":    len(req.ClaimIDs),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleRefundWithdraw handles POST /api/ledger/{strategy}/exits/{id}/refund
func (h *Handler) HandleRefundWithdraw(w http.ResponseWriter, r *http.Request, strategy, idStr string) {
	if !h.checkEnabled(w, strategy) {
		return
	}

	claimID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid claim ID", http.StatusBadRequest)
		return
	}

	var req struct {
		User string `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.RefundWithdraw(auth.CallerFromContext(r.Context()), strategy, claimID, req.User); err != nil {
		h.writeError(w, err, "Failed to refund withdraw")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"strategy": strategy,
			"claim_id": claimID,
			"refunded": true,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetRequest handles GET /api/ledger/{strategy}/requests/{id}
func (h *Handler) HandleGetRequest(w http.ResponseWriter, r *http.Request, strategy, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid request ID", http.StatusBadRequest)
		return
	}

	info, err := h.service.RequestInfo(strategy, id)
	if err != nil {
		h.writeError(w, err, "Failed to query request")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": requestInfoJSON(id, info),
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetRequests handles GET /api/ledger/{strategy}/requests?ids=1,2,3
func (h *Handler) HandleGetRequests(w http.ResponseWriter, r *http.Request, strategy string) {
	ids, err := parseIDList(r.URL.Query().Get("ids"))
	if err != nil {
		http.Error(w, "Invalid ids parameter", http.StatusBadRequest)
		return
	}

	infos, err := h.service.RequestInfoBatch(strategy, ids)
	if err != nil {
		h.writeError(w, err, "Failed to query requests")
		return
	}

	results := make([]map[string]interface{}, len(infos))
	for i, info := range infos {
		results[i] = requestInfoJSON(ids[i], info)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"requests": results,
			"count":    len(results),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetWithdrawClaims handles GET /api/ledger/{strategy}/claims?ids=1,2,3
func (h *Handler) HandleGetWithdrawClaims(w http.ResponseWriter, r *http.Request, strategy string) {
	ids, err := parseIDList(r.URL.Query().Get("ids"))
	if err != nil {
		http.Error(w, "Invalid ids parameter", http.StatusBadRequest)
		return
	}

	claims, err := h.service.PendingWithdrawClaims(strategy, ids)
	if err != nil {
		h.writeError(w, err, "Failed to query withdraw claims")
		return
	}

	results := make([]map[string]interface{}, len(claims))
	for i, claim := range claims {
		results[i] = map[string]interface{}{
			"claim_id":          ids[i],
			"expected_amount":   claim.ExpectedAmount,
			"allocation_amount": claim.AllocationAmount,
			"unlock_time":       claim.UnlockTime,
			"eligible":          claim.Eligible,
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"claims": results,
			"count":  len(results),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetStakeInfo handles GET /api/ledger/{strategy}/stake-info
func (h *Handler) HandleGetStakeInfo(w http.ResponseWriter, r *http.Request, strategy string) {
	info, err := h.service.StakeInfo(strategy)
	if err != nil {
		h.writeError(w, err, "Failed to query stake info")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"strategy":         strategy,
			"total_stake":      info.TotalStake,
			"total_allocation": info.TotalAllocation,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetShareBalance handles GET /api/ledger/{strategy}/shares/{user}
func (h *Handler) HandleGetShareBalance(w http.ResponseWriter, r *http.Request, strategy, user string) {
	balance, err := h.shares.BalanceOf(strategy, user)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query share balance")
		http.Error(w, "Failed to query share balance", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"strategy": strategy,
			"user":     user,
			"balance":  balance,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetCustody handles GET /api/ledger/{strategy}/custody
func (h *Handler) HandleGetCustody(w http.ResponseWriter, r *http.Request, strategy string) {
	holdings, err := h.custody.Holdings(strategy)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query custody holdings")
		http.Error(w, "Failed to query custody holdings", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"strategy": strategy,
			"custody":  custody.Address,
			"holdings": holdings,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetJournal handles GET /api/ledger/{strategy}/journal
func (h *Handler) HandleGetJournal(w http.ResponseWriter, r *http.Request, strategy string) {
	limit := 100 // default
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}

	entries, snapshots, err := h.journal.Entries(strategy, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query journal")
		http.Error(w, "Failed to query journal", http.StatusInternalServerError)
		return
	}

	results := make([]map[string]interface{}, 0, len(entries))
	for i, e := range entries {
		results = append(results, map[string]interface{}{
			"uuid":       e.UUID,
			"entry_type": e.EntryType,
			"request_id": e.RequestID,
			"amount":     e.Amount,
			"user":       snapshots[i].User,
			"created_at": e.CreatedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"strategy": strategy,
			"entries":  results,
			"count":    len(results),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func requestInfoJSON(id int64, info ledger.RequestInfo) map[string]interface{} {
	return map[string]interface{}{
		"id":        id,
		"user":      info.User,
		"is_exit":   info.IsExit,
		"amount":    info.Amount,
		"ready_at":  info.ReadyAt,
		"claimed":   info.Claimed,
		"claimable": info.Claimable,
	}
}

// parseIDList parses a comma-separated list of int64 ids
func parseIDList(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// writeError maps service errors to HTTP status codes
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, roles.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrUnknownStrategy):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrNotReady),
		errors.Is(err, ledger.ErrAlreadyClaimed),
		errors.Is(err, ledger.ErrDuplicateRequest):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrZeroAmount),
		errors.Is(err, ledger.ErrZeroAddress),
		errors.Is(err, ledger.ErrExceedsAllocation),
		errors.Is(err, ledger.ErrInsufficientShares):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg(msg)
	}
	http.Error(w, err.Error(), status)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
