package classify

import (
	"context"

	"ledgerchat/internal/domain"
	"ledgerchat/internal/embedding"
)

// Classifier combines intent classification and entity extraction into the
// single result the retrieval pipeline routes on.
type Classifier struct {
	intents   *IntentClassifier
	extractor *Extractor
}

// NewClassifier creates a classifier. A nil embedder degrades intent
// classification to regex-only; a nil alias table uses the defaults.
func NewClassifier(embedder embedding.Embedder, aliases CategoryAliases) *Classifier {
	return &Classifier{
		intents:   NewIntentClassifier(embedder),
		extractor: NewExtractor(aliases),
	}
}

// Classify produces the full classification for a standalone query (call
// Reformulate first for follow-ups).
func (c *Classifier) Classify(ctx context.Context, query string) domain.QueryClassification {
	intent, confidence := c.intents.Classify(ctx, query)
	entities := c.extractor.Extract(query, intent)

	return domain.QueryClassification{
		Intent:               intent,
		Confidence:           confidence,
		Entities:             entities,
		IsQuestion:           IsQuestion(query),
		NeedsAggregateLookup: needsAggregate(intent),
		NeedsLocalSearch:     needsLocalSearch(intent, entities),
	}
}

// needsAggregate reports whether the intent requires ground-truth totals.
func needsAggregate(intent domain.Intent) bool {
	switch intent {
	case domain.IntentSpending, domain.IntentIncome, domain.IntentBudget,
		domain.IntentTrend, domain.IntentComparison:
		return true
	}
	return false
}

// needsLocalSearch reports whether transaction retrieval should run. General
// chit-chat with no extractable constraints skips it.
func needsLocalSearch(intent domain.Intent, e domain.ExtractedEntities) bool {
	if intent != domain.IntentGeneral {
		return true
	}
	return e.DateRange != nil || len(e.Vendors) > 0 || len(e.Categories) > 0 ||
		len(e.Keywords) > 0 || e.AmountMin != nil || e.AmountMax != nil
}
