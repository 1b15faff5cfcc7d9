package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mnemo/internal/service"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// events, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *service.Service, authEnabled bool, token string, events http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Post("/capture", h.Capture)

	r.Get("/search", h.Search)
	r.Get("/search/config", h.GetSearchConfig)
	r.Put("/search/config", h.PutSearchConfig)

	r.Post("/ask", h.Ask)

	r.Get("/entries", h.ListEntries)
	r.Delete("/entries", h.DeleteEntries)
	r.Get("/entries/{id}", h.GetEntry)

	r.Get("/privacy", h.GetPrivacy)
	r.Put("/privacy", h.PutPrivacy)
	r.Post("/privacy/rules", h.AddPrivacyRule)
	r.Delete("/privacy/rules", h.RemovePrivacyRule)

	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.PutSettings)

	r.Get("/llm", h.GetLLMConfig)
	r.Put("/llm", h.PutLLMConfig)

	r.Get("/stats", h.Stats)

	if events != nil {
		r.Get("/events", events.ServeHTTP)
	}

	return r
}
