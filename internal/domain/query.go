package domain

import "time"

// Intent is the coarse category of a financial question.
type Intent string

const (
	IntentSpending   Intent = "spending"
	IntentIncome     Intent = "income"
	IntentSearch     Intent = "search"
	IntentBudget     Intent = "budget"
	IntentTrend      Intent = "trend"
	IntentComparison Intent = "comparison"
	IntentGeneral    Intent = "general"
)

// Superlative values recognized in queries ("biggest purchase", "smallest bill").
const (
	SuperlativeLargest  = "largest"
	SuperlativeSmallest = "smallest"
)

// DateRange is an inclusive date interval.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether d falls inside the range.
func (r DateRange) Contains(d time.Time) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

// ExtractedEntities holds the structured constraints parsed from a query.
// A value is immutable once produced by classification; follow-up turns merge
// a fresh copy field by field with the previous turn's entities.
type ExtractedEntities struct {
	DateRange      *DateRange
	Categories     []string
	AmountMin      *float64
	AmountMax      *float64
	Vendors        []string
	Locations      []string
	TimePeriod     string
	ComparisonType string
	Keywords       []string
	Direction      Direction
	Superlative    string
}

// QueryClassification is the result of intent classification plus extraction.
type QueryClassification struct {
	Intent               Intent
	Confidence           float64
	Entities             ExtractedEntities
	IsQuestion           bool
	NeedsAggregateLookup bool
	NeedsLocalSearch     bool
}

// Citation surfaces a transaction as evidence for a generated answer.
// Citations are derived per response and never persisted.
type Citation struct {
	TransactionID  string
	RelevanceScore float64
	Snippet        string
	Label          string
	Date           time.Time
	Amount         float64
	Vendor         string
}

// VerifiedFinancialData holds ground-truth aggregates computed over the full
// date-filtered dataset. It is computed fresh per turn and never cached.
type VerifiedFinancialData struct {
	Total           float64
	TotalExpenses   float64
	TotalIncome     float64
	Count           int
	ExpenseCount    int
	IncomeCount     int
	ByCategory      map[string]float64
	CountByCategory map[string]int
	ByVendor        map[string]float64 // capped to top 15 by absolute total
	Period          string
}
