package aggregate

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"ledgerchat/internal/domain"
)

const (
	// Tolerances for comparing a claimed total against the verified one.
	absTolerance = 0.01
	relTolerance = 0.01
)

// amountRe matches currency amounts in model output across the common
// symbol forms, with optional thousands separators.
var amountRe = regexp.MustCompile(`(?:[$€£]|USD |EUR |GBP )\s?([\d,]+(?:\.\d{1,2})?)`)

// totalPhrases mark an amount as a claim about the overall total rather than
// an individual transaction.
var totalPhrases = []string{
	"total", "in total", "altogether", "overall", "spent",
	"income", "received", "sums to", "adds up to", "came to", "amounting to",
}

// VerifyAndCorrect scans the generated answer for a claimed total and, when
// it diverges from the verified aggregate beyond tolerance, appends exactly
// one correction block citing the verified figure. The generated text is left
// intact; individual transaction amounts are never second-guessed.
func VerifyAndCorrect(text string, data *domain.VerifiedFinancialData, direction domain.Direction) (string, bool) {
	if data == nil || data.Count == 0 {
		return text, false
	}

	verified := verifiedTotal(data, direction)
	if verified == 0 {
		return text, false
	}

	matches := amountRe.FindAllStringSubmatchIndex(text, -1)
	for _, m := range matches {
		start := m[0]
		numStart, numEnd := m[2], m[3]
		if !nearTotalPhrase(text, start) {
			continue
		}

		claimed, err := strconv.ParseFloat(strings.ReplaceAll(text[numStart:numEnd], ",", ""), 64)
		if err != nil {
			continue
		}
		if WithinTolerance(claimed, verified) {
			return text, false
		}

		corrected := fmt.Sprintf("%s\n\nCorrection: the verified total is %s, not %s.",
			text, formatAmount(verified), formatAmount(claimed))
		return corrected, true
	}
	return text, false
}

// WithinTolerance reports whether two amounts agree within a cent or one
// percent, whichever is looser.
func WithinTolerance(a, b float64) bool {
	diff := math.Abs(a - b)
	if diff <= absTolerance {
		return true
	}
	larger := math.Max(math.Abs(a), math.Abs(b))
	return larger > 0 && diff/larger <= relTolerance
}

// verifiedTotal picks the ground-truth figure matching the query direction.
func verifiedTotal(data *domain.VerifiedFinancialData, direction domain.Direction) float64 {
	switch direction {
	case domain.DirectionIncome:
		return data.TotalIncome
	case domain.DirectionExpense:
		return data.TotalExpenses
	default:
		return data.Total
	}
}

// nearTotalPhrase checks whether a total-claiming phrase appears shortly
// before the amount.
func nearTotalPhrase(text string, amountStart int) bool {
	windowStart := amountStart - 60
	if windowStart < 0 {
		windowStart = 0
	}
	window := strings.ToLower(text[windowStart:amountStart])
	for _, p := range totalPhrases {
		if strings.Contains(window, p) {
			return true
		}
	}
	return false
}

func formatAmount(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	// Insert thousands separators into the integer part.
	dot := strings.Index(s, ".")
	intPart, frac := s[:dot], s[dot:]
	var sb strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}
	return fmt.Sprintf("$%s%s", sb.String(), frac)
}
