package classify

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"ledgerchat/internal/domain"
)

// aroundTolerance is the fractional band applied to "around $X" amounts.
const aroundTolerance = 0.20

// CategoryAliases maps a canonical category name to the colloquial terms
// users write for it.
type CategoryAliases map[string][]string

// DefaultCategoryAliases returns the built-in alias table. Callers may
// extend it with categories learned from the ledger itself.
func DefaultCategoryAliases() CategoryAliases {
	return CategoryAliases{
		"groceries":     {"grocery", "groceries", "supermarket", "food shopping"},
		"dining":        {"dining", "restaurant", "restaurants", "eating out", "takeout", "coffee", "cafe", "lunch", "dinner", "breakfast"},
		"transport":     {"transport", "transportation", "gas", "fuel", "uber", "lyft", "taxi", "parking", "transit", "commute"},
		"entertainment": {"entertainment", "movies", "concert", "concerts", "games", "gaming", "streaming"},
		"utilities":     {"utilities", "utility", "electric", "electricity", "water bill", "internet", "phone bill"},
		"rent":          {"rent", "mortgage", "housing"},
		"travel":        {"travel", "flight", "flights", "hotel", "hotels", "vacation", "airbnb"},
		"shopping":      {"shopping", "clothes", "clothing", "amazon", "online shopping"},
		"health":        {"health", "medical", "doctor", "pharmacy", "gym", "fitness"},
		"subscriptions": {"subscription", "subscriptions", "membership", "memberships"},
	}
}

var (
	amountBetweenRe = regexp.MustCompile(`(?i)\bbetween\s+\$?([\d,]+(?:\.\d+)?)\s+and\s+\$?([\d,]+(?:\.\d+)?)`)
	amountOverRe    = regexp.MustCompile(`(?i)\b(?:over|above|more than|greater than|at least|exceeding)\s+\$?([\d,]+(?:\.\d+)?)`)
	amountUnderRe   = regexp.MustCompile(`(?i)\b(?:under|below|less than|at most|cheaper than)\s+\$?([\d,]+(?:\.\d+)?)`)
	amountAroundRe  = regexp.MustCompile(`(?i)\b(?:around|about|approximately|roughly|near)\s+\$?([\d,]+(?:\.\d+)?)`)

	quotedRe     = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	atFromRe     = regexp.MustCompile(`(?i)\b(?:at|from)\s+((?:[A-Z][\w'&.-]*)(?:\s+[A-Z][\w'&.-]*)*)`)
	properNounRe = regexp.MustCompile(`\b(?:[A-Z][\w'&.-]*)(?:\s+[A-Z][\w'&.-]*)*\b`)
	inPlaceRe    = regexp.MustCompile(`(?i)\bin\s+((?:[A-Z][\w.-]*)(?:\s+[A-Z][\w.-]*)*)`)
)

// vendorStopwords are capitalized tokens that never name a vendor: sentence
// openers, month names, weekdays and pronouns.
var vendorStopwords = map[string]bool{
	"i": true, "how": true, "what": true, "when": true, "where": true,
	"which": true, "who": true, "why": true, "show": true, "list": true,
	"find": true, "did": true, "do": true, "was": true, "is": true,
	"the": true, "my": true, "me": true, "a": true, "an": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
	"usd": true, "eur": true, "gbp": true,
}

var keywordStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "from": true, "how": true, "much": true, "many": true,
	"what": true, "when": true, "where": true, "which": true, "who": true,
	"did": true, "do": true, "does": true, "was": true, "were": true,
	"is": true, "are": true, "have": true, "has": true, "had": true,
	"my": true, "me": true, "you": true, "this": true, "that": true,
	"all": true, "any": true, "show": true, "list": true, "find": true,
	"get": true, "give": true, "tell": true, "can": true, "could": true,
	"would": true, "should": true, "please": true, "spend": true,
	"spent": true, "spending": true, "money": true, "last": true,
	"past": true, "week": true, "month": true, "year": true, "today": true,
	"yesterday": true, "between": true, "over": true, "under": true,
	"around": true, "about": true, "than": true, "more": true, "less": true,
}

var incomeTerms = []string{
	"earn", "earned", "earning", "income", "salary", "paycheck",
	"deposit", "deposits", "received", "revenue", "refund", "made",
}

var expenseTerms = []string{
	"spend", "spent", "spending", "paid", "pay", "bought", "purchase",
	"purchases", "purchased", "cost", "costs", "expense", "expenses", "bill", "bills",
}

var largestTerms = []string{
	"biggest", "largest", "most expensive", "highest", "top purchase", "top expense", "maximum",
}

var smallestTerms = []string{
	"smallest", "cheapest", "lowest", "least expensive", "minimum",
}

// Extractor pulls structured entities out of a natural-language query.
// The clock is injectable so date-relative tests are deterministic.
type Extractor struct {
	aliases CategoryAliases
	now     func() time.Time
}

// NewExtractor creates an extractor with the given alias table. A nil table
// falls back to the built-in defaults.
func NewExtractor(aliases CategoryAliases) *Extractor {
	if aliases == nil {
		aliases = DefaultCategoryAliases()
	}
	return &Extractor{aliases: aliases, now: time.Now}
}

// Extract parses all entity kinds from the query. The intent informs the
// money direction when the query wording is ambiguous.
func (e *Extractor) Extract(query string, intent domain.Intent) domain.ExtractedEntities {
	dateRange, period := resolveDateRange(query, e.now())
	amountMin, amountMax := extractAmountRange(query)

	return domain.ExtractedEntities{
		DateRange:      dateRange,
		TimePeriod:     period,
		Categories:     e.extractCategories(query),
		AmountMin:      amountMin,
		AmountMax:      amountMax,
		Vendors:        extractVendors(query),
		Locations:      extractLocations(query),
		ComparisonType: extractComparisonType(query),
		Keywords:       extractKeywords(query),
		Direction:      resolveDirection(query, intent),
		Superlative:    extractSuperlative(query),
	}
}

func (e *Extractor) extractCategories(query string) []string {
	lower := strings.ToLower(query)
	var out []string
	for canonical, aliases := range e.aliases {
		for _, alias := range aliases {
			if containsWord(lower, alias) {
				out = append(out, canonical)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// extractAmountRange parses amount constraints. Checked in order: explicit
// between-range, over, under, then the ±20% band around an approximate amount.
func extractAmountRange(query string) (min, max *float64) {
	if m := amountBetweenRe.FindStringSubmatch(query); m != nil {
		lo, err1 := parseMoney(m[1])
		hi, err2 := parseMoney(m[2])
		if err1 == nil && err2 == nil {
			if lo > hi {
				lo, hi = hi, lo
			}
			return &lo, &hi
		}
	}

	if m := amountOverRe.FindStringSubmatch(query); m != nil {
		if v, err := parseMoney(m[1]); err == nil {
			min = &v
		}
	}
	if m := amountUnderRe.FindStringSubmatch(query); m != nil {
		if v, err := parseMoney(m[1]); err == nil {
			max = &v
		}
	}
	if min != nil || max != nil {
		return min, max
	}

	if m := amountAroundRe.FindStringSubmatch(query); m != nil {
		if v, err := parseMoney(m[1]); err == nil {
			lo := v * (1 - aroundTolerance)
			hi := v * (1 + aroundTolerance)
			return &lo, &hi
		}
	}
	return nil, nil
}

func parseMoney(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

// extractVendors finds merchant names: quoted strings first, then proper-noun
// runs after "at"/"from", then free-standing proper-noun runs.
func extractVendors(query string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" || vendorStopwords[strings.ToLower(v)] {
			return
		}
		if _, _, isMonth := containsMonthName(v); isMonth {
			return
		}
		key := strings.ToLower(v)
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}

	for _, m := range quotedRe.FindAllStringSubmatch(query, -1) {
		if m[1] != "" {
			add(m[1])
		} else {
			add(m[2])
		}
	}
	for _, m := range atFromRe.FindAllStringSubmatch(query, -1) {
		add(m[1])
	}

	// Free-standing proper nouns, skipping the sentence-initial token.
	for _, m := range properNounRe.FindAllStringIndex(query, -1) {
		if m[0] == 0 {
			continue
		}
		add(query[m[0]:m[1]])
	}
	return out
}

func extractLocations(query string) []string {
	var out []string
	for _, m := range inPlaceRe.FindAllStringSubmatch(query, -1) {
		place := strings.TrimSpace(m[1])
		if place == "" || vendorStopwords[strings.ToLower(place)] {
			continue
		}
		if _, _, isMonth := containsMonthName(place); isMonth {
			continue
		}
		out = append(out, place)
	}
	return out
}

func extractComparisonType(query string) string {
	lower := strings.ToLower(query)
	switch {
	case strings.Contains(lower, " vs "), strings.Contains(lower, "versus"),
		strings.Contains(lower, "compare"), strings.Contains(lower, "compared to"):
		return "versus"
	case strings.Contains(lower, "than last"), strings.Contains(lower, "than the previous"):
		return "previous_period"
	}
	return ""
}

func extractKeywords(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !isWordRune(r)
	})
	var out []string
	seen := make(map[string]bool)
	for _, f := range fields {
		if len(f) <= 2 || keywordStopwords[f] || seen[f] {
			continue
		}
		if _, ok := monthsByName[f]; ok {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// resolveDirection derives the money direction: the classified intent is
// authoritative, query wording breaks ties, and ambiguity means "all".
func resolveDirection(query string, intent domain.Intent) domain.Direction {
	switch intent {
	case domain.IntentSpending:
		return domain.DirectionExpense
	case domain.IntentIncome:
		return domain.DirectionIncome
	}

	lower := strings.ToLower(query)
	income := containsAny(lower, incomeTerms)
	expense := containsAny(lower, expenseTerms)
	switch {
	case income && !expense:
		return domain.DirectionIncome
	case expense && !income:
		return domain.DirectionExpense
	}
	return domain.DirectionAll
}

func extractSuperlative(query string) string {
	lower := strings.ToLower(query)
	if containsAny(lower, largestTerms) {
		return domain.SuperlativeLargest
	}
	if containsAny(lower, smallestTerms) {
		return domain.SuperlativeSmallest
	}
	return ""
}

func containsAny(lower string, terms []string) bool {
	for _, t := range terms {
		if containsWord(lower, t) {
			return true
		}
	}
	return false
}

// containsWord reports whether phrase appears in text on word boundaries.
func containsWord(text, phrase string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], phrase)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		beforeOK := start == 0 || !isWordRune(rune(text[start-1]))
		afterOK := end == len(text) || !isWordRune(rune(text[end]))
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
