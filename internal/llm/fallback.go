package llm

import (
	"fmt"
	"sort"
	"strings"

	"ledgerchat/internal/domain"
)

// fallbackCategoryLimit caps how many categories the templated answer lists.
const fallbackCategoryLimit = 3

// fallbackFollowups are generic suggestions used when the model is not around
// to propose its own.
var fallbackFollowups = []string{
	"How much did I spend last month?",
	"What were my top spending categories?",
	"What was my biggest purchase recently?",
}

// FallbackAnswer renders a templated response straight from verified data for
// when generation is unavailable. The numbers are exact; only the prose is
// canned.
func FallbackAnswer(cls domain.QueryClassification, data *domain.VerifiedFinancialData) *Result {
	if data == nil || data.Count == 0 {
		return &Result{
			Text:      "I couldn't find any matching transactions, and the assistant is temporarily unavailable for a fuller answer. Try rephrasing or broadening the date range.",
			Followups: append([]string(nil), fallbackFollowups...),
		}
	}

	var sb strings.Builder
	switch cls.Intent {
	case domain.IntentIncome:
		fmt.Fprintf(&sb, "For %s, your income was $%.2f across %d transactions.",
			data.Period, data.TotalIncome, data.IncomeCount)
	case domain.IntentSpending, domain.IntentBudget, domain.IntentTrend, domain.IntentComparison:
		fmt.Fprintf(&sb, "For %s, you spent $%.2f across %d transactions.",
			data.Period, data.TotalExpenses, data.ExpenseCount)
	default:
		fmt.Fprintf(&sb, "For %s, I found %d transactions: $%.2f in expenses and $%.2f in income.",
			data.Period, data.Count, data.TotalExpenses, data.TotalIncome)
	}

	if tops := topCategories(data, fallbackCategoryLimit); len(tops) > 0 {
		sb.WriteString(" Largest categories: ")
		sb.WriteString(strings.Join(tops, ", "))
		sb.WriteString(".")
	}

	sb.WriteString(" (The assistant is temporarily unavailable; these figures come directly from your ledger.)")
	return &Result{Text: sb.String(), Followups: append([]string(nil), fallbackFollowups...)}
}

func topCategories(data *domain.VerifiedFinancialData, limit int) []string {
	type entry struct {
		name  string
		total float64
	}
	entries := make([]entry, 0, len(data.ByCategory))
	for name, total := range data.ByCategory {
		entries = append(entries, entry{name, total})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].total != entries[j].total {
			return entries[i].total > entries[j].total
		}
		return entries[i].name < entries[j].name
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = fmt.Sprintf("%s ($%.2f)", e.name, e.total)
	}
	return out
}
