package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"ledgerchat/internal/contextutil"
)

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 5 * time.Second

// DBPinger is satisfied by *sql.DB.
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// CollectionChecker is satisfied by the qdrant-backed vector store.
type CollectionChecker interface {
	CollectionExists(ctx context.Context, collection string) (bool, error)
}

// ReadyChecker reports whether the embedding engine finished initializing.
type ReadyChecker interface {
	IsReady() bool
}

// HealthHandler reports the status of the pipeline's dependencies.
type HealthHandler struct {
	db         DBPinger
	vectors    CollectionChecker
	embedder   ReadyChecker
	collection string
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(db DBPinger, vectors CollectionChecker, embedder ReadyChecker, collection string) *HealthHandler {
	return &HealthHandler{
		db:         db,
		vectors:    vectors,
		embedder:   embedder,
		collection: collection,
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	// Overall health status: "healthy", "degraded", or "unhealthy"
	Status string `json:"status"`

	Timestamp string `json:"timestamp"`

	// Individual check results
	Checks map[string]string `json:"checks"`

	Issues []string `json:"issues,omitempty"`
}

// ServeHTTP handles GET /api/health. The database is the critical
// dependency; a missing vector index or a cold embedding engine only
// degrades semantic search, so those report "degraded" with 200.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	checks := make(map[string]string)
	var issues []string
	degraded := false
	unhealthy := false

	if err := h.db.PingContext(checkCtx); err != nil {
		logger.WarnContext(ctx, "database health check failed", "error", err)
		checks["database"] = "error"
		issues = append(issues, "database_unavailable")
		unhealthy = true
	} else {
		checks["database"] = "ok"
	}

	if exists, err := h.vectors.CollectionExists(checkCtx, h.collection); err != nil || !exists {
		if err != nil {
			logger.WarnContext(ctx, "vector store health check failed", "error", err)
		}
		checks["vector_store"] = "error"
		issues = append(issues, "vector_store_unavailable")
		degraded = true
	} else {
		checks["vector_store"] = "ok"
	}

	if h.embedder.IsReady() {
		checks["embedding_engine"] = "ok"
	} else {
		checks["embedding_engine"] = "initializing"
		issues = append(issues, "embedding_engine_not_ready")
		degraded = true
	}

	status := "healthy"
	httpStatus := http.StatusOK
	switch {
	case unhealthy:
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	case degraded:
		status = "degraded"
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Issues:    issues,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.ErrorContext(ctx, "failed to encode health response", "error", err)
	}
}
