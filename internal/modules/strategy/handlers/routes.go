package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all strategy routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/strategies", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleRegister)

		r.Route("/{address}", func(r chi.Router) {
			addressOf := func(r *http.Request) string {
				return chi.URLParam(r, "address")
			}

			r.Post("/price", func(w http.ResponseWriter, r *http.Request) {
				h.HandleSetPrice(w, r, addressOf(r))
			})
			r.Post("/offsets", func(w http.ResponseWriter, r *http.Request) {
				h.HandleSetOffsets(w, r, addressOf(r))
			})
			r.Post("/enabled", func(w http.ResponseWriter, r *http.Request) {
				h.HandleSetEnabled(w, r, addressOf(r))
			})
			r.Get("/preview", func(w http.ResponseWriter, r *http.Request) {
				h.HandlePreview(w, r, addressOf(r))
			})
			r.Get("/preview-exit", func(w http.ResponseWriter, r *http.Request) {
				h.HandlePreviewExit(w, r, addressOf(r))
			})
			r.Get("/yield", func(w http.ResponseWriter, r *http.Request) {
				h.HandleYieldStats(w, r, addressOf(r))
			})
			r.Get("/rate-history", func(w http.ResponseWriter, r *http.Request) {
				h.HandleRateHistory(w, r, addressOf(r))
			})
		})
	})
}
