package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all ledger routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/ledger/{strategy}", func(r chi.Router) {
		strategyOf := func(r *http.Request) string {
			return chi.URLParam(r, "strategy")
		}

		// Deposit lifecycle
		r.Route("/allocations", func(r chi.Router) {
			r.Post("/", func(w http.ResponseWriter, r *http.Request) {
				h.HandleRequestAllocation(w, r, strategyOf(r))
			})
			r.Post("/claim", func(w http.ResponseWriter, r *http.Request) {
				h.HandleClaimAllocations(w, r, strategyOf(r))
			})
			r.Post("/{id}/refund", func(w http.ResponseWriter, r *http.Request) {
				h.HandleRefundDeposit(w, r, strategyOf(r), chi.URLParam(r, "id"))
			})
		})

		// Exit lifecycle
		r.Route("/exits", func(r chi.Router) {
			r.Post("/", func(w http.ResponseWriter, r *http.Request) {
				h.HandleRequestExit(w, r, strategyOf(r))
			})
			r.Post("/claim", func(w http.ResponseWriter, r *http.Request) {
				h.HandleClaimWithdraws(w, r, strategyOf(r))
			})
			r.Post("/{id}/refund", func(w http.ResponseWriter, r *http.Request) {
				h.HandleRefundWithdraw(w, r, strategyOf(r), chi.URLParam(r, "id"))
			})
		})

		// Queries
		r.Get("/requests", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetRequests(w, r, strategyOf(r))
		})
		r.Get("/requests/{id}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetRequest(w, r, strategyOf(r), chi.URLParam(r, "id"))
		})
		r.Get("/claims", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetWithdrawClaims(w, r, strategyOf(r))
		})
		r.Get("/stake-info", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetStakeInfo(w, r, strategyOf(r))
		})
		r.Get("/shares/{user}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetShareBalance(w, r, strategyOf(r), chi.URLParam(r, "user"))
		})
		r.Get("/custody", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetCustody(w, r, strategyOf(r))
		})
		r.Get("/journal", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetJournal(w, r, strategyOf(r))
		})
	})
}
