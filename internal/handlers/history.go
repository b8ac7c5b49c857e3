package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"ledgerchat/internal/contextutil"
	"ledgerchat/internal/domain"
)

// HistoryHandler serves and clears per-session conversation history.
type HistoryHandler struct {
	queries QueryService
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(queries QueryService) *HistoryHandler {
	return &HistoryHandler{queries: queries}
}

// MessagePayload is the wire form of one conversation turn.
type MessagePayload struct {
	Role               string            `json:"role"`
	Content            string            `json:"content"`
	Timestamp          string            `json:"timestamp"`
	Intent             string            `json:"intent,omitempty"`
	Citations          []CitationPayload `json:"citations,omitempty"`
	SuggestedFollowups []string          `json:"suggestedFollowups,omitempty"`
}

// HistoryResponse represents the conversation history payload.
type HistoryResponse struct {
	SessionID string           `json:"sessionId"`
	Messages  []MessagePayload `json:"messages"`
}

// ServeHTTP handles GET (fetch) and DELETE (clear) for
// /api/history?sessionId=...
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		resp := HistoryResponse{
			SessionID: sessionID,
			Messages:  toMessagePayloads(h.queries.History(sessionID)),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.ErrorContext(ctx, "failed to encode history response", "error", err)
		}
	case http.MethodDelete:
		h.queries.ClearHistory(sessionID)
		logger.InfoContext(ctx, "cleared conversation history", "session_id", sessionID)
		w.WriteHeader(http.StatusNoContent)
	default:
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func toMessagePayloads(msgs []domain.ChatMessage) []MessagePayload {
	out := make([]MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		p := MessagePayload{
			Role:               m.Role,
			Content:            m.Content,
			Timestamp:          m.Timestamp.Format(time.RFC3339),
			Intent:             string(m.Intent),
			SuggestedFollowups: m.SuggestedFollowups,
		}
		for _, c := range m.Citations {
			p.Citations = append(p.Citations, CitationPayload{
				TransactionID:  c.TransactionID,
				RelevanceScore: c.RelevanceScore,
				Snippet:        c.Snippet,
				Label:          c.Label,
				Date:           c.Date.Format(time.RFC3339),
				Amount:         c.Amount,
				Vendor:         c.Vendor,
			})
		}
		out = append(out, p)
	}
	return out
}
