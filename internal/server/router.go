package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func buildRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthzHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/mask", s.maskHandler)

		r.Get("/titles", s.listTitlesHandler)
		r.Put("/titles", s.replaceTitlesHandler)
		r.Patch("/titles/{id}", s.patchTitleHandler)
		r.Put("/settings", s.settingsHandler)

		r.Get("/stats", s.statsHandler)
		r.Get("/events", s.eventsHandler)
	})

	return r
}
