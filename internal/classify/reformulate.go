package classify

import (
	"fmt"
	"regexp"
	"strings"

	"ledgerchat/internal/domain"
)

var (
	affirmativeRe = regexp.MustCompile(`(?i)^(yes|yeah|yep|sure|ok|okay|please do|go ahead|sounds good|do it)[.!]?$`)
	anaphoraRe    = regexp.MustCompile(`(?i)\b(that|those|them|it|these)\b`)
	conjunctionRe = regexp.MustCompile(`(?i)^(and|what about|how about|also)\b`)
)

// Reformulate rewrites a follow-up query into a standalone one using the
// conversation so far. It returns the (possibly rewritten) query and whether
// a rewrite happened. An empty history always returns the query unchanged.
func Reformulate(query string, history []domain.ChatMessage) (string, bool) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" || len(history) == 0 {
		return query, false
	}

	lastUser := lastMessage(history, domain.RoleUser)
	lastAssistant := lastMessage(history, domain.RoleAssistant)
	if lastUser == nil {
		return query, false
	}

	// Bare affirmative: the user is accepting the assistant's suggestion.
	if affirmativeRe.MatchString(trimmed) {
		if lastAssistant != nil && len(lastAssistant.SuggestedFollowups) > 0 {
			return lastAssistant.SuggestedFollowups[0], true
		}
		return lastUser.Content + " - provide more detail", true
	}

	// "what about March?" — swap the time reference in the previous query.
	if rewritten, ok := substituteTimeReference(trimmed, lastUser.Content); ok {
		return rewritten, true
	}

	// "what about income?" — flip the money direction in the previous query.
	if rewritten, ok := substituteDirection(trimmed, lastUser.Content); ok {
		return rewritten, true
	}

	// "and dining?" — narrow the previous query to a category.
	if rewritten, ok := appendCategory(trimmed, lastUser.Content); ok {
		return rewritten, true
	}

	// Anaphora or a leading conjunction with no substitutable reference:
	// keep the query but carry the prior question as explicit context.
	if anaphoraRe.MatchString(trimmed) || conjunctionRe.MatchString(trimmed) {
		return fmt.Sprintf("%s (in the context of: %s)", trimmed, lastUser.Content), true
	}

	return query, false
}

func lastMessage(history []domain.ChatMessage, role string) *domain.ChatMessage {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == role {
			return &history[i]
		}
	}
	return nil
}

// substituteTimeReference handles short follow-ups that name only a new month
// or period ("what about March?", "and last week?") by replacing the time
// reference in the previous query.
func substituteTimeReference(query, previous string) (string, bool) {
	if countWords(query) > 4 {
		return "", false
	}

	if _, newMonth, ok := containsMonthName(query); ok {
		if _, oldMonth, ok := containsMonthName(previous); ok && !strings.EqualFold(newMonth, oldMonth) {
			re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(oldMonth) + `\b`)
			return re.ReplaceAllString(previous, newMonth), true
		}
	}

	newPeriod := matchPeriodKeyword(query)
	if newPeriod == "" {
		return "", false
	}
	oldPeriod := matchPeriodKeyword(previous)
	if oldPeriod != "" && oldPeriod != newPeriod {
		return strings.Replace(strings.ToLower(previous), oldPeriod, newPeriod, 1), true
	}
	if _, oldMonth, ok := containsMonthName(previous); ok {
		re := regexp.MustCompile(`(?i)\b(in\s+|during\s+)?` + regexp.QuoteMeta(oldMonth) + `\b`)
		return strings.TrimSpace(re.ReplaceAllString(previous, newPeriod)), true
	}
	return "", false
}

// substituteDirection handles "what about income?" after a spending question
// (and the reverse) by swapping the direction verb in the previous query.
func substituteDirection(query, previous string) (string, bool) {
	if countWords(query) > 4 {
		return "", false
	}

	lower := strings.ToLower(query)
	prevLower := strings.ToLower(previous)

	wantsIncome := containsAny(lower, incomeTerms)
	wantsExpense := containsAny(lower, expenseTerms)
	if wantsIncome == wantsExpense {
		return "", false
	}

	if wantsIncome {
		for _, t := range expenseTerms {
			if containsWord(prevLower, t) {
				return strings.Replace(prevLower, t, "earn", 1), true
			}
		}
	} else {
		for _, t := range incomeTerms {
			if containsWord(prevLower, t) {
				return strings.Replace(prevLower, t, "spend", 1), true
			}
		}
	}
	return "", false
}

// appendCategory handles terse category follow-ups ("and dining?") by
// narrowing the previous query to that category.
func appendCategory(query, previous string) (string, bool) {
	if countWords(query) > 3 {
		return "", false
	}
	cleaned := strings.ToLower(strings.Trim(query, " ?.!"))
	cleaned = strings.TrimPrefix(cleaned, "and ")
	cleaned = strings.TrimPrefix(cleaned, "what about ")
	cleaned = strings.TrimPrefix(cleaned, "how about ")
	cleaned = strings.TrimSpace(cleaned)

	for canonical, aliases := range DefaultCategoryAliases() {
		for _, alias := range aliases {
			if cleaned == alias {
				return previous + " for " + canonical, true
			}
		}
	}
	return "", false
}

func matchPeriodKeyword(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range periodKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
