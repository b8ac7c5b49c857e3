package aggregate

import (
	"context"
	"fmt"
	"sort"

	"ledgerchat/internal/contextutil"
	"ledgerchat/internal/domain"
	"ledgerchat/internal/storage"
)

// topVendorLimit caps the vendor breakdown by absolute total.
const topVendorLimit = 15

// RemoteAggregator cross-checks locally computed totals against a warehouse
// copy of the ledger. Implementations are optional; a nil aggregator is
// skipped entirely.
type RemoteAggregator interface {
	TotalsForRange(ctx context.Context, r domain.DateRange) (expenses, income float64, err error)
}

// Computer produces ground-truth aggregates straight from SQL. Aggregates are
// always computed over the full date-filtered dataset, never over the
// retrieved subset, so totals stay correct regardless of retrieval quality.
type Computer struct {
	txRepo   storage.TransactionStore
	catNames map[string]string
	remote   RemoteAggregator
}

// NewComputer creates an aggregate computer. catNames maps category IDs to
// display names; remote may be nil.
func NewComputer(txRepo storage.TransactionStore, catNames map[string]string, remote RemoteAggregator) *Computer {
	return &Computer{txRepo: txRepo, catNames: catNames, remote: remote}
}

// Compute builds verified financial data for the query's date scope. Results
// are computed fresh on every call.
func (c *Computer) Compute(ctx context.Context, ents domain.ExtractedEntities) (*domain.VerifiedFinancialData, error) {
	var (
		txs []domain.Transaction
		err error
	)
	if ents.DateRange != nil {
		txs, err = c.txRepo.ListByDateRange(ctx, ents.DateRange.Start, ents.DateRange.End)
	} else {
		txs, err = c.txRepo.ListAll(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions for aggregation: %w", err)
	}

	data := Summarize(txs, c.catNames)
	data.Period = describePeriod(ents)

	if c.remote != nil && ents.DateRange != nil {
		c.crossCheck(ctx, *ents.DateRange, data)
	}
	return data, nil
}

// Summarize folds a transaction list into totals and breakdowns. The vendor
// breakdown is capped to the largest absolute totals.
func Summarize(txs []domain.Transaction, catNames map[string]string) *domain.VerifiedFinancialData {
	data := &domain.VerifiedFinancialData{
		ByCategory:      make(map[string]float64),
		CountByCategory: make(map[string]int),
		ByVendor:        make(map[string]float64),
	}

	for _, tx := range txs {
		amount := tx.AbsAmount()
		data.Count++
		switch tx.Flow() {
		case domain.DirectionIncome:
			data.TotalIncome += amount
			data.IncomeCount++
		default:
			data.TotalExpenses += amount
			data.ExpenseCount++
		}

		cat := catNames[tx.CategoryID]
		if cat == "" {
			cat = "uncategorized"
		}
		data.ByCategory[cat] += amount
		data.CountByCategory[cat]++

		if tx.Vendor != "" {
			data.ByVendor[tx.Vendor] += amount
		}
	}
	data.Total = data.TotalExpenses + data.TotalIncome

	capVendors(data.ByVendor, topVendorLimit)
	return data
}

// crossCheck compares local totals with the warehouse and logs divergence.
// The local number always wins; the remote copy exists to catch sync drift.
func (c *Computer) crossCheck(ctx context.Context, r domain.DateRange, data *domain.VerifiedFinancialData) {
	logger := contextutil.LoggerFromContext(ctx)

	expenses, income, err := c.remote.TotalsForRange(ctx, r)
	if err != nil {
		logger.WarnContext(ctx, "remote aggregate cross-check failed", "error", err)
		return
	}
	if !WithinTolerance(data.TotalExpenses, expenses) || !WithinTolerance(data.TotalIncome, income) {
		logger.WarnContext(ctx, "local and remote aggregates diverge",
			"local_expenses", data.TotalExpenses, "remote_expenses", expenses,
			"local_income", data.TotalIncome, "remote_income", income)
	}
}

func capVendors(byVendor map[string]float64, limit int) {
	if len(byVendor) <= limit {
		return
	}
	type entry struct {
		vendor string
		total  float64
	}
	entries := make([]entry, 0, len(byVendor))
	for v, t := range byVendor {
		entries = append(entries, entry{v, t})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].total != entries[j].total {
			return entries[i].total > entries[j].total
		}
		return entries[i].vendor < entries[j].vendor
	})
	for _, e := range entries[limit:] {
		delete(byVendor, e.vendor)
	}
}

// describePeriod renders the query's time scope as a human label.
func describePeriod(ents domain.ExtractedEntities) string {
	if ents.TimePeriod != "" {
		return ents.TimePeriod
	}
	if ents.DateRange == nil {
		return "all time"
	}
	r := ents.DateRange
	if r.Start.Year() == r.End.Year() && r.Start.Month() == r.End.Month() {
		return r.Start.Format("January 2006")
	}
	return fmt.Sprintf("%s to %s", r.Start.Format("Jan 2, 2006"), r.End.Format("Jan 2, 2006"))
}
