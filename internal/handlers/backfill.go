package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"ledgerchat/internal/contextutil"
)

// Backfiller embeds transactions that still carry the placeholder vector.
type Backfiller interface {
	Run(ctx context.Context) (int, error)
}

// BackfillHandler triggers an embedding backfill pass over the ledger.
type BackfillHandler struct {
	backfill Backfiller
}

// NewBackfillHandler creates a new BackfillHandler.
func NewBackfillHandler(backfill Backfiller) *BackfillHandler {
	return &BackfillHandler{backfill: backfill}
}

// BackfillResponse represents the response from the backfill endpoint.
type BackfillResponse struct {
	Message    string `json:"message"`
	Backfilled int    `json:"backfilled"`
}

// ServeHTTP handles POST /api/backfill. The pass runs synchronously; it is
// idempotent, so a retried request is harmless.
func (h *BackfillHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	n, err := h.backfill.Run(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "embedding backfill failed", "error", err, "backfilled", n)
		writeError(w, http.StatusInternalServerError, "Backfill failed")
		return
	}

	logger.InfoContext(ctx, "embedding backfill complete", "backfilled", n)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(BackfillResponse{
		Message:    "backfill complete",
		Backfilled: n,
	})
}
