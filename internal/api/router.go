package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/sketchmark/internal/drawingservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// liveHandler, if non-nil, serves GET /sessions/{id}/live.
func NewRouter(svc *drawingservice.Service, authEnabled bool, token string, sseHandler, liveHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Drawings.
	r.Get("/drawings", h.ListDrawings)
	r.Post("/drawings", h.CreateDrawing)
	r.Get("/drawings/*", h.GetDrawing)

	// Search.
	r.Get("/search", h.Search)

	// Sessions.
	r.Post("/sessions", h.OpenSession)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Delete("/", h.CloseSession)
		r.Put("/mode", h.SetMode)
		r.Post("/scene", h.SyncScene)
		r.Post("/refresh", h.Refresh)
		r.Get("/texts/{eid}", h.GetText)
		r.Put("/texts/{eid}", h.SetText)
		r.Delete("/texts/{eid}", h.DeleteText)
		r.Post("/save", h.Save)
		if liveHandler != nil {
			r.Get("/live", liveHandler.ServeHTTP)
		}
	})

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
