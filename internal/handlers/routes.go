package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Authorizer middleware для администраторских маршрутов
type Authorizer interface {
	RequireAdmin(next http.Handler) http.Handler
}

// Routes собирает роутер API
func (h *Handler) Routes(auth Authorizer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", h.PingHandler)

		// заявки, только администратор
		r.Route("/work-orders", func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Post("/", h.CreateWorkOrderHandler)
			r.Get("/", h.ListWorkOrdersHandler)
			r.Get("/{id}", h.GetWorkOrderHandler)
			r.Delete("/{id}", h.DeleteWorkOrderHandler)
			r.Get("/{id}/events", h.EventsHandler)
			r.Post("/{id}/quotes/{quoteId}/approve", h.ApproveQuoteHandler)
			r.Post("/{id}/interests/{interestId}/select", h.SelectInterestHandler)
			r.Post("/{id}/proof/approve", h.ApproveProofHandler)
			r.Post("/{id}/proof/rework", h.RequestReworkHandler)
			r.Post("/{id}/cancel", h.CancelHandler)
			r.Get("/{id}/proofs/{proofId}/photo", h.ProofPhotoHandler)
		})

		// портал исполнителя, доступ по токену
		r.Route("/portal/{token}", func(r chi.Router) {
			r.Get("/", h.PortalHandler)
			r.Post("/interest", h.SubmitInterestHandler)
			r.Post("/quote", h.SubmitQuoteHandler)
			r.Post("/proof", h.SubmitProofHandler)
		})
	})
	return r
}
