package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_vector_store.go -package=mocks ledgerchat/internal/vectorstore VectorStore

import "context"

// Point represents a vector point with metadata. Point IDs are transaction
// IDs, so upserts are idempotent by construction.
type Point struct {
	ID   string
	Vec  []float32
	Meta map[string]any
}

// SearchResult represents a search result from vector search.
type SearchResult struct {
	PointID string
	Score   float32
	Meta    map[string]any
}

// VectorStore defines the interface for vector index operations.
type VectorStore interface {
	// Upsert inserts or updates points in the collection.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search performs a cosine similarity search, returning up to k results
	// scoring at least minScore.
	Search(ctx context.Context, collection string, query []float32, k int, minScore float32) ([]SearchResult, error)

	// Delete removes points by their IDs.
	Delete(ctx context.Context, collection string, ids []string) error
}
