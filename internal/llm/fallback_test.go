package llm

import (
	"strings"
	"testing"

	"ledgerchat/internal/domain"
)

func TestFallbackAnswer_Spending(t *testing.T) {
	data := &domain.VerifiedFinancialData{
		TotalExpenses: 512.34,
		ExpenseCount:  9,
		Count:         9,
		Period:        "last month",
		ByCategory:    map[string]float64{"Dining": 300, "Transport": 150, "Other": 50, "Misc": 12.34},
	}
	got := FallbackAnswer(domain.QueryClassification{Intent: domain.IntentSpending}, data)

	for _, want := range []string{"$512.34", "9 transactions", "last month", "Dining ($300.00)"} {
		if !strings.Contains(got.Text, want) {
			t.Errorf("FallbackAnswer() missing %q in %q", want, got.Text)
		}
	}
	// Only the top categories are listed.
	if strings.Contains(got.Text, "Misc") {
		t.Errorf("FallbackAnswer() listed more than %d categories", fallbackCategoryLimit)
	}
	if len(got.Followups) == 0 {
		t.Error("FallbackAnswer() returned no follow-up suggestions")
	}
}

func TestFallbackAnswer_EmptyDataset(t *testing.T) {
	got := FallbackAnswer(domain.QueryClassification{Intent: domain.IntentSpending}, &domain.VerifiedFinancialData{})
	if !strings.Contains(got.Text, "couldn't find any matching transactions") {
		t.Errorf("FallbackAnswer() = %q, want the empty-dataset message", got.Text)
	}
	if len(got.Followups) == 0 {
		t.Error("FallbackAnswer() returned no follow-up suggestions for an empty dataset")
	}
}

func TestFallbackAnswer_Income(t *testing.T) {
	data := &domain.VerifiedFinancialData{
		TotalIncome: 3000,
		IncomeCount: 2,
		Count:       2,
		Period:      "January 2025",
	}
	got := FallbackAnswer(domain.QueryClassification{Intent: domain.IntentIncome}, data)
	if !strings.Contains(got.Text, "$3000.00") || !strings.Contains(got.Text, "income") {
		t.Errorf("FallbackAnswer() = %q, want income total", got.Text)
	}
}
