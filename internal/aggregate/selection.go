package aggregate

import (
	"sort"

	"ledgerchat/internal/domain"
	"ledgerchat/internal/retrieval"
)

const (
	// ContextBudget caps how many transactions enter the prompt.
	ContextBudget = 20

	// perCategoryLimit bounds each category's share during round-robin
	// selection so one dominant category cannot crowd out the rest.
	perCategoryLimit = 3
)

// SelectContext picks which retrieved transactions to show the model,
// strategy chosen by intent. The input is assumed ranked by relevance.
func SelectContext(ranked []retrieval.ScoredTransaction, cls domain.QueryClassification) []retrieval.ScoredTransaction {
	var out []retrieval.ScoredTransaction
	switch {
	case cls.Entities.Superlative != "":
		out = selectBySuperlative(ranked, cls.Entities.Superlative)
	case cls.Intent == domain.IntentTrend || cls.Intent == domain.IntentComparison:
		out = selectTemporalSample(ranked)
	case cls.NeedsAggregateLookup:
		out = selectCategoryRoundRobin(ranked)
	default:
		out = append(out, ranked...)
	}

	if len(out) > ContextBudget {
		out = out[:ContextBudget]
	}
	return out
}

// selectBySuperlative orders by absolute amount so "biggest purchase"
// questions see the actual extremes regardless of relevance score.
func selectBySuperlative(ranked []retrieval.ScoredTransaction, superlative string) []retrieval.ScoredTransaction {
	out := append([]retrieval.ScoredTransaction(nil), ranked...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Tx.AbsAmount(), out[j].Tx.AbsAmount()
		if superlative == domain.SuperlativeSmallest {
			return a < b
		}
		return a > b
	})
	return out
}

// selectCategoryRoundRobin interleaves categories, each contributing its
// largest transactions first, so the model sees a representative spread for
// aggregate questions. Budget left after the rounds goes to the best
// remaining picks by relevance.
func selectCategoryRoundRobin(ranked []retrieval.ScoredTransaction) []retrieval.ScoredTransaction {
	byCategory := make(map[string][]retrieval.ScoredTransaction)
	var order []string
	for _, st := range ranked {
		key := st.Tx.CategoryID
		if _, seen := byCategory[key]; !seen {
			order = append(order, key)
		}
		byCategory[key] = append(byCategory[key], st)
	}
	for _, key := range order {
		bucket := byCategory[key]
		sort.SliceStable(bucket, func(i, j int) bool {
			return bucket[i].Tx.AbsAmount() > bucket[j].Tx.AbsAmount()
		})
	}

	picked := make(map[string]bool)
	var out []retrieval.ScoredTransaction
	for round := 0; round < perCategoryLimit; round++ {
		for _, key := range order {
			if round < len(byCategory[key]) {
				st := byCategory[key][round]
				picked[st.Tx.ID] = true
				out = append(out, st)
			}
		}
	}
	for _, st := range ranked {
		if len(out) >= ContextBudget {
			break
		}
		if !picked[st.Tx.ID] {
			out = append(out, st)
		}
	}
	return out
}

// selectTemporalSample spreads picks evenly across the date span so trend
// and comparison questions see the whole timeline, not one hot spot.
func selectTemporalSample(ranked []retrieval.ScoredTransaction) []retrieval.ScoredTransaction {
	if len(ranked) <= ContextBudget {
		out := append([]retrieval.ScoredTransaction(nil), ranked...)
		sort.SliceStable(out, func(i, j int) bool { return out[i].Tx.Date.Before(out[j].Tx.Date) })
		return out
	}

	byDate := append([]retrieval.ScoredTransaction(nil), ranked...)
	sort.SliceStable(byDate, func(i, j int) bool { return byDate[i].Tx.Date.Before(byDate[j].Tx.Date) })

	out := make([]retrieval.ScoredTransaction, 0, ContextBudget)
	step := float64(len(byDate)) / float64(ContextBudget)
	for i := 0; i < ContextBudget; i++ {
		out = append(out, byDate[int(float64(i)*step)])
	}
	return out
}
