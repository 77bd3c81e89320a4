package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/scivault/internal/paperservice"
	"github.com/starford/scivault/internal/status"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *paperservice.Service, tracker *status.Tracker, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc, tracker)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/papers/latest", h.LatestPapers)
	r.Get("/versions/*", h.Versions)
	r.Get("/pdf/*", h.DownloadPDF)
	r.Head("/pdf/*", h.DownloadPDF)
	r.Get("/status", h.Status)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
