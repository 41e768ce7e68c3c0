package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all transfer routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/transfers", func(r chi.Router) {
		r.Post("/runs", h.HandleStartRun)
		r.Get("/runs", h.HandleListRuns)
		r.Get("/runs/last", h.HandleGetLastRun)
		r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetRun(w, r, chi.URLParam(r, "id"))
		})
		r.Get("/quotas", h.HandleGetQuotas)
		r.Get("/in-transit", h.HandleListInTransit)
		r.Post("/reconcile", h.HandleReconcile)
	})
}
