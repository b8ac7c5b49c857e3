package learn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"ledgerchat/internal/embedding"
	"ledgerchat/internal/storage"
)

const (
	modelKey = "learn/categorizer"

	learningRate = 0.05
	epochs       = 50
	l2Penalty    = 0.001

	// incrementalLRFactor halves the learning rate for single-sample updates
	// so one correction cannot swing the whole model.
	incrementalLRFactor = 0.5

	// incrementalEpochs is how many passes a single new sample gets. A few
	// reduced-rate steps move the boundary enough to matter without a retrain.
	incrementalEpochs = 5

	// maxSamples bounds the replay buffer used for full retrains.
	maxSamples = 1000

	// topPredictions returned by Predict.
	topPredictions = 3
)

// ErrNotEmbedded rejects training or prediction on a placeholder vector.
var ErrNotEmbedded = errors.New("embedding is a placeholder, not yet computed")

// Sample is one labeled training example: a transaction embedding with its
// user-assigned category.
type Sample struct {
	Vector []float32 `json:"vector"`
	Class  string    `json:"class"`
}

// Prediction is a ranked class guess.
type Prediction struct {
	Class string
	Score float64
}

// Classifier is a softmax linear model over transaction embeddings, trained
// on the user's own corrections. It learns incrementally: known classes get a
// cheap gradient step, a new class triggers a full retrain over the replay
// buffer. State persists through the key-value store.
type Classifier struct {
	mu sync.RWMutex

	dim     int
	classes []string
	weights [][]float64 // one row per class
	bias    []float64
	samples []Sample

	kv storage.KVStore
}

type persistedModel struct {
	Dim     int         `json:"dim"`
	Classes []string    `json:"classes"`
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
	Samples []Sample    `json:"samples"`
}

// NewClassifier creates a classifier for vectors of the given dimension.
// kv may be nil for a purely in-memory model.
func NewClassifier(dim int, kv storage.KVStore) *Classifier {
	return &Classifier{dim: dim, kv: kv}
}

// Load restores persisted state. A missing model is not an error; the
// classifier simply starts empty.
func (c *Classifier) Load(ctx context.Context) error {
	if c.kv == nil {
		return nil
	}
	raw, ok, err := c.kv.Get(ctx, modelKey)
	if err != nil {
		return fmt.Errorf("failed to load classifier state: %w", err)
	}
	if !ok {
		return nil
	}

	var m persistedModel
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("failed to decode classifier state: %w", err)
	}
	if m.Dim != c.dim {
		// Embedding model changed; the old weights are meaningless.
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.classes = m.Classes
	c.weights = m.Weights
	c.bias = m.Bias
	c.samples = m.Samples
	return nil
}

// Learn folds one labeled example into the model. A known class gets a few
// gradient steps at a reduced rate; an unseen class forces a full retrain so
// its weights start from a sane initialization.
func (c *Classifier) Learn(ctx context.Context, sample Sample) error {
	if embedding.IsZeroVector(sample.Vector) {
		return ErrNotEmbedded
	}
	if len(sample.Vector) != c.dim {
		return fmt.Errorf("vector dimension %d does not match model dimension %d", len(sample.Vector), c.dim)
	}

	c.mu.Lock()
	c.appendSample(sample)
	if c.classIndex(sample.Class) < 0 {
		c.retrainLocked()
	} else {
		for epoch := 0; epoch < incrementalEpochs; epoch++ {
			c.stepLocked(sample, learningRate*incrementalLRFactor)
		}
	}
	c.mu.Unlock()

	return c.persist(ctx)
}

// Retrain rebuilds the model from the full replay buffer.
func (c *Classifier) Retrain(ctx context.Context) error {
	c.mu.Lock()
	c.retrainLocked()
	c.mu.Unlock()
	return c.persist(ctx)
}

// Predict returns up to the top 3 classes for the vector, most probable
// first. An untrained model predicts nothing.
func (c *Classifier) Predict(vec []float32) ([]Prediction, error) {
	if embedding.IsZeroVector(vec) {
		return nil, ErrNotEmbedded
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.classes) == 0 {
		return nil, nil
	}
	if len(vec) != c.dim {
		return nil, fmt.Errorf("vector dimension %d does not match model dimension %d", len(vec), c.dim)
	}

	probs := c.softmaxLocked(vec)
	preds := make([]Prediction, len(c.classes))
	for i, class := range c.classes {
		preds[i] = Prediction{Class: class, Score: probs[i]}
	}
	sort.Slice(preds, func(i, j int) bool { return preds[i].Score > preds[j].Score })
	if len(preds) > topPredictions {
		preds = preds[:topPredictions]
	}
	return preds, nil
}

// Classes returns the known class labels.
func (c *Classifier) Classes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.classes...)
}

func (c *Classifier) appendSample(sample Sample) {
	c.samples = append(c.samples, sample)
	if len(c.samples) > maxSamples {
		c.samples = c.samples[len(c.samples)-maxSamples:]
	}
}

// retrainLocked rebuilds classes from the buffer, Xavier-initializes the
// weights, and runs full SGD with cross-entropy loss and L2 regularization.
func (c *Classifier) retrainLocked() {
	classSet := make(map[string]bool)
	for _, s := range c.samples {
		classSet[s.Class] = true
	}
	c.classes = c.classes[:0]
	for class := range classSet {
		c.classes = append(c.classes, class)
	}
	sort.Strings(c.classes)
	if len(c.classes) == 0 {
		c.weights, c.bias = nil, nil
		return
	}

	// Xavier initialization keeps early softmax outputs well-scaled.
	rng := rand.New(rand.NewSource(1))
	scale := math.Sqrt(2.0 / float64(c.dim+len(c.classes)))
	c.weights = make([][]float64, len(c.classes))
	for i := range c.weights {
		row := make([]float64, c.dim)
		for j := range row {
			row[j] = rng.NormFloat64() * scale
		}
		c.weights[i] = row
	}
	c.bias = make([]float64, len(c.classes))

	for epoch := 0; epoch < epochs; epoch++ {
		for _, s := range c.samples {
			c.stepLocked(s, learningRate)
		}
	}
}

// stepLocked applies one SGD step of the cross-entropy gradient with L2
// weight decay for a single sample.
func (c *Classifier) stepLocked(sample Sample, lr float64) {
	target := c.classIndex(sample.Class)
	if target < 0 {
		return
	}

	probs := c.softmaxLocked(sample.Vector)
	for i := range c.classes {
		grad := probs[i]
		if i == target {
			grad -= 1
		}
		row := c.weights[i]
		for j, x := range sample.Vector {
			row[j] -= lr * (grad*float64(x) + l2Penalty*row[j])
		}
		c.bias[i] -= lr * grad
	}
}

func (c *Classifier) softmaxLocked(vec []float32) []float64 {
	logits := make([]float64, len(c.classes))
	maxLogit := math.Inf(-1)
	for i, row := range c.weights {
		var z float64
		for j, x := range vec {
			z += row[j] * float64(x)
		}
		z += c.bias[i]
		logits[i] = z
		if z > maxLogit {
			maxLogit = z
		}
	}

	var sum float64
	for i, z := range logits {
		logits[i] = math.Exp(z - maxLogit)
		sum += logits[i]
	}
	for i := range logits {
		logits[i] /= sum
	}
	return logits
}

func (c *Classifier) classIndex(class string) int {
	for i, existing := range c.classes {
		if existing == class {
			return i
		}
	}
	return -1
}

func (c *Classifier) persist(ctx context.Context) error {
	if c.kv == nil {
		return nil
	}

	c.mu.RLock()
	m := persistedModel{
		Dim:     c.dim,
		Classes: c.classes,
		Weights: c.weights,
		Bias:    c.bias,
		Samples: c.samples,
	}
	raw, err := json.Marshal(m)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode classifier state: %w", err)
	}

	if err := c.kv.Put(ctx, modelKey, raw); err != nil {
		return fmt.Errorf("failed to persist classifier state: %w", err)
	}
	return nil
}
