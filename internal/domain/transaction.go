package domain

import (
	"math"
	"time"
)

// Direction tags the flow of money on a transaction or query.
type Direction string

const (
	// DirectionExpense marks money leaving the account.
	DirectionExpense Direction = "expense"
	// DirectionIncome marks money entering the account.
	DirectionIncome Direction = "income"
	// DirectionAll matches both flows; used on queries, never stored on rows.
	DirectionAll Direction = "all"
)

// Transaction represents one normalized transaction in the local store.
// The embedding field is owned by the store; this pipeline reads it and
// backfills it when it is still the zero-vector placeholder.
type Transaction struct {
	ID         string
	Date       time.Time
	Amount     float64 // signed; sign is a legacy fallback for Direction
	Direction  Direction
	Vendor     string
	CategoryID string
	Currency   string
	Note       string
	Embedding  []float32 // all-zero means "not yet embedded"
	DocumentID string    // reference into the local document blob store
}

// Flow returns the canonical direction of the transaction.
// The explicit tag wins; rows written before the tag existed fall back to
// the legacy amount-sign convention (negative means income).
func (t *Transaction) Flow() Direction {
	switch t.Direction {
	case DirectionExpense, DirectionIncome:
		return t.Direction
	}
	if t.Amount < 0 {
		return DirectionIncome
	}
	return DirectionExpense
}

// AbsAmount returns the magnitude of the transaction amount.
func (t *Transaction) AbsAmount() float64 {
	return math.Abs(t.Amount)
}

// Category is a user-defined spending category.
type Category struct {
	ID   string
	Name string
}
