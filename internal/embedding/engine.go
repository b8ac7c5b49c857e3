package embedding

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_embedder.go -package=mocks ledgerchat/internal/embedding Embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"ledgerchat/internal/contextutil"
)

// State describes the lifecycle of the local embedding engine.
type State string

const (
	StateInitiating  State = "initiating"
	StateDownloading State = "downloading"
	StateLoading     State = "loading"
	StateReady       State = "ready"
	StateError       State = "error"
)

const (
	// maxInputChars approximates the model's token budget (~512 tokens at
	// roughly 4 characters per token). Longer text is truncated before
	// inference rather than rejected.
	maxInputChars = 2000

	// batchChunkSize bounds peak memory during batch embedding.
	batchChunkSize = 16

	// loadPollInterval and loadPollAttempts bound how long Initialize waits
	// for the model server to finish loading.
	loadPollInterval = time.Second
	loadPollAttempts = 60
)

// Embedder is the async text-to-vector contract consumed by the classifier,
// the retrieval engine and the backfill pipeline.
type Embedder interface {
	// EmbedText embeds a single text, truncating to the token budget first.
	EmbedText(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch embeds many texts, chunking internally to bound memory.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// IsReady reports whether the engine has finished initializing.
	IsReady() bool
	// Dimension returns the fixed vector size.
	Dimension() int
}

// Engine is the on-device embedding engine. Initialization is lazy: the
// first caller pays for model load; everyone else waits on the same result.
type Engine struct {
	client *Client

	mu    sync.RWMutex
	state State
	err   error

	initOnce sync.Once
}

// NewEngine creates an engine over the given local embeddings client.
// The engine starts in the initiating state; call Initialize before use.
func NewEngine(client *Client) *Engine {
	return &Engine{
		client: client,
		state:  StateInitiating,
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// IsReady reports whether the engine can serve embedding requests.
func (e *Engine) IsReady() bool {
	return e.State() == StateReady
}

// Dimension returns the fixed vector size.
func (e *Engine) Dimension() int {
	return e.client.ExpectedSize
}

// Initialize loads the model and validates the embedding dimensionality.
// It is safe to call concurrently; only the first call does work. The
// progress callback (may be nil) observes state transitions.
func (e *Engine) Initialize(ctx context.Context, progress func(State)) error {
	e.initOnce.Do(func() {
		e.initialize(ctx, progress)
	})

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != StateReady {
		if e.err != nil {
			return e.err
		}
		return fmt.Errorf("embedding engine in state %q", e.state)
	}
	return nil
}

func (e *Engine) initialize(ctx context.Context, progress func(State)) {
	logger := contextutil.LoggerFromContext(ctx)

	e.setState(StateDownloading, nil, progress)
	if err := e.loadModel(ctx); err != nil {
		logger.ErrorContext(ctx, "failed to load embedding model", "model", e.client.Model, "error", err)
		e.setState(StateError, fmt.Errorf("failed to load embedding model: %w", err), progress)
		return
	}

	e.setState(StateLoading, nil, progress)

	// Validate the advertised vector size with a probe embedding (fail-fast).
	vecs, err := e.client.EmbedTexts(ctx, []string{"ready check"})
	if err != nil {
		logger.ErrorContext(ctx, "embedding probe failed", "error", err)
		e.setState(StateError, fmt.Errorf("embedding probe failed: %w", err), progress)
		return
	}
	if len(vecs) != 1 || len(vecs[0]) != e.client.ExpectedSize {
		err := fmt.Errorf("embedding vector size mismatch: expected %d", e.client.ExpectedSize)
		e.setState(StateError, err, progress)
		return
	}

	logger.InfoContext(ctx, "embedding engine ready", "model", e.client.Model, "dimension", e.client.ExpectedSize)
	e.setState(StateReady, nil, progress)
}

func (e *Engine) setState(s State, err error, progress func(State)) {
	e.mu.Lock()
	e.state = s
	e.err = err
	e.mu.Unlock()
	if progress != nil {
		progress(s)
	}
}

// loadModel asks the server to load the embedding model and polls until it
// reports the model in cache. Servers without a /models/load endpoint (model
// baked in at startup) are treated as already loaded.
func (e *Engine) loadModel(ctx context.Context) error {
	loaded, err := e.isModelLoaded(ctx)
	if err == nil && loaded {
		return nil
	}

	url := fmt.Sprintf("%s/models/load", e.client.BaseURL)
	body := fmt.Sprintf(`{"model":%q}`, e.client.Model)
	req, err := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create load request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send load request: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		// No dynamic loading; the server serves a fixed model.
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model load returned status %d", resp.StatusCode)
	}

	// Loading happens asynchronously; poll until the model is in cache.
	for i := 0; i < loadPollAttempts; i++ {
		loaded, err := e.isModelLoaded(ctx)
		if err == nil && loaded {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(loadPollInterval):
		}
	}
	return fmt.Errorf("model did not load within timeout period")
}

// isModelLoaded checks the server's model list for our model.
func (e *Engine) isModelLoaded(ctx context.Context) (bool, error) {
	url := fmt.Sprintf("%s/models", e.client.BaseURL)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create status request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to check model status: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("bad status %d", resp.StatusCode)
	}

	var modelsResp struct {
		Data []struct {
			ID      string `json:"id"`
			InCache bool   `json:"in_cache"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&modelsResp); err != nil {
		return false, fmt.Errorf("failed to decode models response: %w", err)
	}

	for _, model := range modelsResp.Data {
		if model.ID == e.client.Model {
			return model.InCache, nil
		}
	}
	return false, nil
}

// EmbedText embeds a single text, truncating to the token budget first.
func (e *Engine) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds many texts. Inputs are truncated to the token budget and
// processed in fixed-size chunks to bound peak memory.
func (e *Engine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !e.IsReady() {
		return nil, fmt.Errorf("embedding engine not ready (state %q)", e.State())
	}
	if len(texts) == 0 {
		return nil, nil
	}

	truncated := make([]string, len(texts))
	for i, t := range texts {
		truncated[i] = Truncate(t)
	}

	result := make([][]float32, 0, len(truncated))
	for start := 0; start < len(truncated); start += batchChunkSize {
		end := min(start+batchChunkSize, len(truncated))
		vecs, err := e.client.EmbedTexts(ctx, truncated[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch [%d:%d]: %w", start, end, err)
		}
		result = append(result, vecs...)
	}
	return result, nil
}

// Dispose releases the engine. Subsequent embedding calls fail until a new
// engine is constructed.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateInitiating
	e.err = nil
}

// Truncate clips text to the approximate model token budget on a rune boundary.
func Truncate(text string) string {
	if len(text) <= maxInputChars {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxInputChars {
		return text
	}
	return string(runes[:maxInputChars])
}
