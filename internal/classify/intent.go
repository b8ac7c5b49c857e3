package classify

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"ledgerchat/internal/contextutil"
	"ledgerchat/internal/domain"
	"ledgerchat/internal/embedding"
)

const (
	// generalThreshold is the minimum semantic score before falling back to
	// the general intent.
	generalThreshold = 0.45

	// regexOverrideConfidence is the bar a disagreeing regex match must clear
	// to override the semantic result.
	regexOverrideConfidence = 0.8

	// topKSimilarities is how many example similarities are averaged per intent.
	topKSimilarities = 3
)

// regexRule maps a pattern to an intent with a fixed confidence. Rules are
// evaluated in order; the first match wins.
type regexRule struct {
	intent     domain.Intent
	re         *regexp.Regexp
	confidence float64
}

var regexRules = []regexRule{
	{domain.IntentComparison, regexp.MustCompile(`(?i)\b(compare|compared|versus|vs\.?)\b|more than last|less than last`), 0.85},
	{domain.IntentTrend, regexp.MustCompile(`(?i)\b(trend|trends|over time|month over month|monthly breakdown|pattern|history of)\b`), 0.8},
	{domain.IntentBudget, regexp.MustCompile(`(?i)\b(budget|afford|overspend|overspent|saving|savings goal)\b`), 0.85},
	{domain.IntentIncome, regexp.MustCompile(`(?i)\b(income|earn|earned|salary|paycheck|deposits?|received|revenue)\b`), 0.85},
	{domain.IntentSpending, regexp.MustCompile(`(?i)how much .*(spen[dt]|pa(y|id)|cost)|\b(spending|spent|expenses?)\b`), 0.9},
	{domain.IntentSearch, regexp.MustCompile(`(?i)\b(find|show|list|search|look up|lookup)\b|transactions? (at|from)`), 0.8},
}

// canonicalExamples are the reference phrasings each intent is scored against.
var canonicalExamples = map[domain.Intent][]string{
	domain.IntentSpending: {
		"how much did I spend on groceries last month",
		"what did I pay for dining this week",
		"total expenses in March",
		"how much money went to rent",
		"what was my biggest purchase",
	},
	domain.IntentIncome: {
		"how much did I earn last month",
		"what was my salary deposit in January",
		"show my income this year",
		"total money received from clients",
	},
	domain.IntentSearch: {
		"find my transactions at Starbucks",
		"show purchases from Amazon",
		"list all payments over 100 dollars",
		"look up the charge from last Tuesday",
	},
	domain.IntentBudget: {
		"am I over budget this month",
		"can I afford a new laptop",
		"did I overspend on entertainment",
		"how are my savings doing",
	},
	domain.IntentTrend: {
		"how has my spending changed over time",
		"show my monthly grocery trend",
		"what is my spending pattern this year",
		"is my dining spend going up",
	},
	domain.IntentComparison: {
		"did I spend more this month than last month",
		"compare my groceries to dining",
		"January versus February expenses",
		"how does this year compare to last year",
	},
}

var isQuestionRe = regexp.MustCompile(`(?i)^(how|what|when|where|which|who|why|did|do|does|is|are|was|were|can|could|will|would|should|am)\b`)

// IntentClassifier scores queries against canonical intent examples in
// embedding space, with a regex layer for override and degraded operation.
// Example embeddings are computed once, lazily, after the engine is ready.
type IntentClassifier struct {
	embedder embedding.Embedder

	mu       sync.Mutex
	examples map[domain.Intent][][]float32
}

// NewIntentClassifier creates a classifier over the given embedder. A nil
// embedder yields a regex-only classifier.
func NewIntentClassifier(embedder embedding.Embedder) *IntentClassifier {
	return &IntentClassifier{embedder: embedder}
}

// Classify determines the query's intent and confidence. The semantic score
// is primary; a regex match for a different intent overrides it only above
// the override bar, and regex alone serves when the engine is unavailable.
func (c *IntentClassifier) Classify(ctx context.Context, query string) (domain.Intent, float64) {
	regexIntent, regexConf := classifyByRegex(query)

	if c.embedder == nil || !c.embedder.IsReady() {
		return regexIntent, regexConf
	}

	semIntent, semConf, err := c.classifySemantic(ctx, query)
	if err != nil {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx,
			"semantic classification failed, using regex result", "error", err)
		return regexIntent, regexConf
	}

	if regexIntent != domain.IntentGeneral && regexIntent != semIntent && regexConf > regexOverrideConfidence {
		return regexIntent, regexConf
	}
	return semIntent, semConf
}

// IsQuestion reports whether the query reads as a question.
func IsQuestion(query string) bool {
	trimmed := strings.TrimSpace(query)
	return strings.HasSuffix(trimmed, "?") || isQuestionRe.MatchString(trimmed)
}

func classifyByRegex(query string) (domain.Intent, float64) {
	for _, rule := range regexRules {
		if rule.re.MatchString(query) {
			return rule.intent, rule.confidence
		}
	}
	return domain.IntentGeneral, 0.3
}

// classifySemantic embeds the query and scores each intent as the average of
// its top example similarities.
func (c *IntentClassifier) classifySemantic(ctx context.Context, query string) (domain.Intent, float64, error) {
	examples, err := c.exampleVectors(ctx)
	if err != nil {
		return domain.IntentGeneral, 0, err
	}

	queryVec, err := c.embedder.EmbedText(ctx, query)
	if err != nil {
		return domain.IntentGeneral, 0, err
	}

	best := domain.IntentGeneral
	bestScore := 0.0
	for intent, vecs := range examples {
		score := topKAverage(queryVec, vecs, topKSimilarities)
		if score > bestScore {
			best, bestScore = intent, score
		}
	}

	if bestScore < generalThreshold {
		return domain.IntentGeneral, bestScore, nil
	}
	return best, bestScore, nil
}

// exampleVectors embeds the canonical examples on first use and caches them.
func (c *IntentClassifier) exampleVectors(ctx context.Context) (map[domain.Intent][][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.examples != nil {
		return c.examples, nil
	}

	// Deterministic embedding order.
	intents := make([]domain.Intent, 0, len(canonicalExamples))
	for intent := range canonicalExamples {
		intents = append(intents, intent)
	}
	sort.Slice(intents, func(i, j int) bool { return intents[i] < intents[j] })

	var texts []string
	for _, intent := range intents {
		texts = append(texts, canonicalExamples[intent]...)
	}

	vecs, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	examples := make(map[domain.Intent][][]float32, len(intents))
	offset := 0
	for _, intent := range intents {
		n := len(canonicalExamples[intent])
		examples[intent] = vecs[offset : offset+n]
		offset += n
	}
	c.examples = examples
	return examples, nil
}

// topKAverage averages the k highest cosine similarities between query and
// the example vectors.
func topKAverage(query []float32, examples [][]float32, k int) float64 {
	sims := make([]float64, 0, len(examples))
	for _, ex := range examples {
		sims = append(sims, embedding.CosineSimilarity(query, ex))
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(sims)))
	if len(sims) > k {
		sims = sims[:k]
	}
	if len(sims) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sims {
		sum += s
	}
	return sum / float64(len(sims))
}
