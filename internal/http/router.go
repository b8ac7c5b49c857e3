package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ledgerchat/internal/handlers"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	QueryService handlers.QueryService
	Backfill     handlers.Backfiller

	DB         handlers.DBPinger
	Vectors    handlers.CollectionChecker
	Embedder   handlers.ReadyChecker
	Collection string
}

// NewRouter creates the HTTP router for the query API.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware)
	r.Use(RequestLogger)
	r.Use(CORS)

	queryHandler := handlers.NewQueryHandler(deps.QueryService)
	historyHandler := handlers.NewHistoryHandler(deps.QueryService)
	suggestionsHandler := handlers.NewSuggestionsHandler(deps.QueryService)
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Vectors, deps.Embedder, deps.Collection)

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodPost, "/query", queryHandler)
		r.Method(http.MethodGet, "/history", historyHandler)
		r.Method(http.MethodDelete, "/history", historyHandler)
		r.Method(http.MethodGet, "/suggestions", suggestionsHandler)
		r.Method(http.MethodGet, "/health", healthHandler)
		if deps.Backfill != nil {
			r.Method(http.MethodPost, "/backfill", handlers.NewBackfillHandler(deps.Backfill))
		}
	})

	return r
}
