package handlers

import (
	"encoding/json"
	"net/http"

	"ledgerchat/internal/contextutil"
)

// SuggestionsHandler serves starter questions for an empty chat box.
type SuggestionsHandler struct {
	queries QueryService
}

// NewSuggestionsHandler creates a new SuggestionsHandler.
func NewSuggestionsHandler(queries QueryService) *SuggestionsHandler {
	return &SuggestionsHandler{queries: queries}
}

// SuggestionsResponse represents the suggested queries payload.
type SuggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
}

// ServeHTTP handles GET /api/suggestions.
func (h *SuggestionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp := SuggestionsResponse{Suggestions: h.queries.SuggestedQueries(ctx)}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.ErrorContext(ctx, "failed to encode suggestions response", "error", err)
	}
}
