package classify

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"ledgerchat/internal/domain"
)

var monthsByName = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

const monthPattern = `january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec`

var (
	betweenMonthsRe = regexp.MustCompile(`(?i)\bbetween\s+(` + monthPattern + `)\s+and\s+(` + monthPattern + `)(?:\s+(\d{4}))?`)
	monthYearRe     = regexp.MustCompile(`(?i)\b(` + monthPattern + `)\b(?:\s+(\d{4}))?`)
	relativeRe      = regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d+)\s+(day|week|month|year)s?\b`)
)

// keyword periods, checked in order so longer phrases match first.
var periodKeywords = []string{
	"this week", "last week", "this month", "last month",
	"this year", "last year", "today", "yesterday",
}

// resolveDateRange parses a date range from the query using the priority
// order: explicit between-range, explicit month name, relative "last N units",
// then generic keyword period. Returns the range (nil if none) and the
// time-period tag when a keyword period matched.
func resolveDateRange(query string, now time.Time) (*domain.DateRange, string) {
	if m := betweenMonthsRe.FindStringSubmatch(query); m != nil {
		year := now.Year()
		if m[3] != "" {
			if y, err := strconv.Atoi(m[3]); err == nil {
				year = y
			}
		}
		start := monthsByName[strings.ToLower(m[1])]
		end := monthsByName[strings.ToLower(m[2])]
		startDate := time.Date(year, start, 1, 0, 0, 0, 0, time.UTC)
		endDate := endOfMonth(year, end)
		if endDate.Before(startDate) {
			// "between November and February" wraps the year boundary
			startDate = startDate.AddDate(-1, 0, 0)
		}
		return &domain.DateRange{Start: startDate, End: endDate}, ""
	}

	if m := monthYearRe.FindStringSubmatch(query); m != nil {
		month := monthsByName[strings.ToLower(m[1])]
		year := now.Year()
		explicitYear := m[2] != ""
		if explicitYear {
			if y, err := strconv.Atoi(m[2]); err == nil {
				year = y
			}
		}
		// A named month still in the future means the user meant last year.
		if !explicitYear && month > now.Month() {
			year--
		}
		return &domain.DateRange{
			Start: time.Date(year, month, 1, 0, 0, 0, 0, time.UTC),
			End:   endOfMonth(year, month),
		}, ""
	}

	if m := relativeRe.FindStringSubmatch(query); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			n = 1
		}
		end := dayEnd(now)
		var start time.Time
		switch strings.ToLower(m[2]) {
		case "day":
			start = dayStart(now.AddDate(0, 0, -n))
		case "week":
			start = dayStart(now.AddDate(0, 0, -7*n))
		case "month":
			start = dayStart(now.AddDate(0, -n, 0))
		case "year":
			start = dayStart(now.AddDate(-n, 0, 0))
		}
		return &domain.DateRange{Start: start, End: end}, ""
	}

	lower := strings.ToLower(query)
	for _, kw := range periodKeywords {
		if strings.Contains(lower, kw) {
			return keywordPeriodRange(kw, now), kw
		}
	}

	return nil, ""
}

// keywordPeriodRange maps a generic period keyword to a concrete range.
func keywordPeriodRange(kw string, now time.Time) *domain.DateRange {
	switch kw {
	case "today":
		return &domain.DateRange{Start: dayStart(now), End: dayEnd(now)}
	case "yesterday":
		y := now.AddDate(0, 0, -1)
		return &domain.DateRange{Start: dayStart(y), End: dayEnd(y)}
	case "this week":
		return &domain.DateRange{Start: weekStart(now), End: dayEnd(now)}
	case "last week":
		thisWeek := weekStart(now)
		return &domain.DateRange{Start: thisWeek.AddDate(0, 0, -7), End: thisWeek.Add(-time.Nanosecond)}
	case "this month":
		return &domain.DateRange{
			Start: time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC),
			End:   dayEnd(now),
		}
	case "last month":
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
		return &domain.DateRange{Start: first, End: endOfMonth(first.Year(), first.Month())}
	case "this year":
		return &domain.DateRange{
			Start: time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC),
			End:   dayEnd(now),
		}
	case "last year":
		return &domain.DateRange{
			Start: time.Date(now.Year()-1, time.January, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(now.Year()-1, time.December, 31, 23, 59, 59, 0, time.UTC),
		}
	}
	return nil
}

func endOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).
		AddDate(0, 1, 0).Add(-time.Second)
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func dayEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC)
}

// weekStart returns the Monday of t's week.
func weekStart(t time.Time) time.Time {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return dayStart(t.AddDate(0, 0, -(weekday - 1)))
}

// containsMonthName reports whether the text names a calendar month.
func containsMonthName(text string) (time.Month, string, bool) {
	if m := monthYearRe.FindStringSubmatch(text); m != nil {
		return monthsByName[strings.ToLower(m[1])], m[1], true
	}
	return 0, "", false
}
