package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ledgerchat/internal/contextutil"
	"ledgerchat/internal/domain"
	"ledgerchat/internal/service"
)

// QueryService is the slice of the service layer the HTTP handlers consume.
type QueryService interface {
	ProcessQuery(ctx context.Context, sessionID, query string) (*domain.QueryResponse, error)
	ProcessQueryStream(ctx context.Context, sessionID, query string, onChunk func(service.StreamChunk) error) (*domain.QueryResponse, error)
	History(sessionID string) []domain.ChatMessage
	ClearHistory(sessionID string)
	SuggestedQueries(ctx context.Context) []string
}

// QueryHandler handles HTTP requests for financial questions.
type QueryHandler struct {
	queries QueryService
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(queries QueryService) *QueryHandler {
	return &QueryHandler{queries: queries}
}

// QueryRequest represents the HTTP request payload for a question.
type QueryRequest struct {
	SessionID string `json:"sessionId"`
	Query     string `json:"query"`
}

// CitationPayload is the wire form of a citation.
type CitationPayload struct {
	TransactionID  string  `json:"transactionId"`
	RelevanceScore float64 `json:"relevanceScore"`
	Snippet        string  `json:"snippet"`
	Label          string  `json:"label,omitempty"`
	Date           string  `json:"date"`
	Amount         float64 `json:"amount"`
	Vendor         string  `json:"vendor,omitempty"`
}

// QueryResponse represents the HTTP response payload for a question.
type QueryResponse struct {
	Text               string                        `json:"text"`
	Citations          []CitationPayload             `json:"citations,omitempty"`
	SuggestedFollowups []string                      `json:"suggestedFollowups,omitempty"`
	VerifiedData       *domain.VerifiedFinancialData `json:"verifiedData,omitempty"`
	ResponseTimeMs     int64                         `json:"responseTimeMs"`
	OfflineGenerated   bool                          `json:"offlineGenerated"`
	WasCorrected       bool                          `json:"wasCorrected"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ServeHTTP handles POST /api/query, with ?stream=true switching to
// Server-Sent Events.
func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if r.URL.Query().Get("stream") == "true" {
		h.serveStream(w, r, req)
		return
	}

	resp, err := h.queries.ProcessQuery(ctx, req.SessionID, req.Query)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to process query")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toPayload(resp)); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// serveStream answers over Server-Sent Events: text deltas as plain data
// events, then one final JSON event with the complete verified response.
func (h *QueryHandler) serveStream(w http.ResponseWriter, r *http.Request, req QueryRequest) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.ErrorContext(ctx, "streaming not supported by response writer")
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	resp, err := h.queries.ProcessQueryStream(ctx, req.SessionID, req.Query, func(chunk service.StreamChunk) error {
		if chunk.IsFinal {
			return nil // the final event is written below with full metadata
		}
		if _, err := fmt.Fprintf(w, "event: delta\ndata: %s\n\n", jsonString(chunk.Text)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		logger.ErrorContext(ctx, "error streaming query response", "error", err)
		_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", jsonString(err.Error()))
		flusher.Flush()
		return
	}

	final, err := json.Marshal(toPayload(resp))
	if err != nil {
		logger.ErrorContext(ctx, "failed to encode final event", "error", err)
		return
	}
	_, _ = fmt.Fprintf(w, "event: final\ndata: %s\n\n", final)
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func toPayload(resp *domain.QueryResponse) QueryResponse {
	out := QueryResponse{
		Text:               resp.Text,
		SuggestedFollowups: resp.SuggestedFollowups,
		VerifiedData:       resp.VerifiedData,
		ResponseTimeMs:     resp.ResponseTimeMs,
		OfflineGenerated:   resp.OfflineGenerated,
		WasCorrected:       resp.WasCorrected,
	}
	for _, c := range resp.Citations {
		out.Citations = append(out.Citations, CitationPayload{
			TransactionID:  c.TransactionID,
			RelevanceScore: c.RelevanceScore,
			Snippet:        c.Snippet,
			Label:          c.Label,
			Date:           c.Date.Format(time.RFC3339),
			Amount:         c.Amount,
			Vendor:         c.Vendor,
		})
	}
	return out
}

// jsonString encodes a string as a JSON literal so SSE payloads survive
// embedded newlines and quotes.
func jsonString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

// handleServiceError maps service errors to HTTP status codes.
func handleServiceError(w http.ResponseWriter, ctx context.Context, err error, defaultMsg string) {
	logger := contextutil.LoggerFromContext(ctx)
	logger.ErrorContext(ctx, "service error", "error", err)

	var validationErr *service.ValidationError
	if errors.As(err, &validationErr) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Validation error: %s", validationErr.Error()))
		return
	}
	if errors.Is(err, service.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, "Invalid input")
		return
	}
	writeError(w, http.StatusInternalServerError, defaultMsg)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
