package retrieval

import (
	"sort"
	"strings"

	"ledgerchat/internal/domain"
)

// matchesConstraints applies the query's hard filters: direction, date range,
// amount bounds and category (with a vendor-keyword fallback for uncategorized
// rows) must all hold. Vendor stays a soft scoring signal so fuzzy semantic
// matches are not discarded for missing a named merchant.
func matchesConstraints(tx *domain.Transaction, ents domain.ExtractedEntities, categoryIDs map[string]string) bool {
	if ents.Direction != "" && ents.Direction != domain.DirectionAll && tx.Flow() != ents.Direction {
		return false
	}
	if ents.DateRange != nil && !ents.DateRange.Contains(tx.Date) {
		return false
	}
	if ents.AmountMin != nil && tx.AbsAmount() < *ents.AmountMin {
		return false
	}
	if ents.AmountMax != nil && tx.AbsAmount() > *ents.AmountMax {
		return false
	}
	if len(ents.Categories) > 0 && !matchesCategory(tx, ents, categoryIDs) {
		return false
	}
	return true
}

// structuredScore combines the base scores of every filter the transaction
// matched: the strongest filter counts in full, each additional one at a
// discount, capped at 1.0.
func structuredScore(tx *domain.Transaction, ents domain.ExtractedEntities, categoryIDs map[string]string) float64 {
	var bases []float64
	if ents.DateRange != nil && ents.DateRange.Contains(tx.Date) {
		bases = append(bases, dateMatchScore)
	}
	if matchesVendor(tx, ents.Vendors) {
		bases = append(bases, vendorMatchScore)
	}
	if matchesCategory(tx, ents, categoryIDs) {
		bases = append(bases, categoryMatchScore)
	}
	if len(bases) == 0 {
		// No named filter matched; the candidate survives on hard
		// constraints alone (e.g. an amount-only query).
		if ents.AmountMin != nil || ents.AmountMax != nil || ents.Direction == domain.DirectionExpense || ents.Direction == domain.DirectionIncome {
			return dateMatchScore / 2
		}
		return 0
	}

	sort.Sort(sort.Reverse(sort.Float64Slice(bases)))
	score := bases[0]
	for _, b := range bases[1:] {
		score += b * extraFilterWeight
	}
	return min(score, 1.0)
}

func matchesVendor(tx *domain.Transaction, vendors []string) bool {
	if tx.Vendor == "" {
		return false
	}
	txVendor := strings.ToLower(tx.Vendor)
	for _, v := range vendors {
		if strings.Contains(txVendor, strings.ToLower(v)) {
			return true
		}
	}
	return false
}

func matchesCategory(tx *domain.Transaction, ents domain.ExtractedEntities, categoryIDs map[string]string) bool {
	if len(ents.Categories) == 0 {
		return false
	}
	if tx.CategoryID == "" {
		return vendorInKeywords(tx.Vendor, ents.Keywords)
	}
	for _, name := range ents.Categories {
		if categoryIDs[strings.ToLower(name)] == tx.CategoryID {
			return true
		}
	}
	return false
}

func vendorInKeywords(vendor string, keywords []string) bool {
	if vendor == "" {
		return false
	}
	lower := strings.ToLower(vendor)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
