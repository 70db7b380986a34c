package orchestration

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var clockPattern = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// parseTimeExpression resolves a natural-language time expression to an
// absolute instant in loc. It only succeeds when the expression names a
// time of day; a bare day reference is not enough to anchor an event.
func parseTimeExpression(now time.Time, loc *time.Location, expr string) (time.Time, bool) {
	lowered := strings.ToLower(expr)
	now = now.In(loc)

	day, dayFound := resolveDay(now, lowered)

	hour, minute, clockFound := resolveClock(lowered)
	if !clockFound {
		return time.Time{}, false
	}

	if !dayFound {
		day = now
	}
	resolved := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
	if !dayFound && resolved.Before(now) {
		// A bare clock time that already passed today means the next one.
		resolved = resolved.AddDate(0, 0, 1)
	}
	return resolved, true
}

// parseDayWindow resolves a day-level expression to a [start, end) window in
// loc. An empty or unrecognized expression yields the next 24 hours.
func parseDayWindow(now time.Time, loc *time.Location, expr string) (time.Time, time.Time) {
	lowered := strings.ToLower(expr)
	now = now.In(loc)

	if strings.Contains(lowered, "next week") {
		start := startOfDay(now.AddDate(0, 0, daysUntil(now, time.Monday)), loc)
		return start, start.AddDate(0, 0, 7)
	}

	if day, ok := resolveDay(now, lowered); ok {
		start := startOfDay(day, loc)
		return start, start.AddDate(0, 0, 1)
	}
	return now, now.Add(24 * time.Hour)
}

func resolveDay(now time.Time, lowered string) (time.Time, bool) {
	switch {
	case strings.Contains(lowered, "tomorrow"):
		return now.AddDate(0, 0, 1), true
	case strings.Contains(lowered, "today"), strings.Contains(lowered, "tonight"):
		return now, true
	}
	for name, weekday := range weekdays {
		if strings.Contains(lowered, name) {
			return now.AddDate(0, 0, daysUntil(now, weekday)), true
		}
	}
	return time.Time{}, false
}

func resolveClock(lowered string) (hour, minute int, ok bool) {
	switch {
	case strings.Contains(lowered, "noon"):
		return 12, 0, true
	case strings.Contains(lowered, "midnight"):
		return 0, 0, true
	case strings.Contains(lowered, "morning"):
		return 9, 0, true
	case strings.Contains(lowered, "afternoon"):
		return 15, 0, true
	case strings.Contains(lowered, "evening"), strings.Contains(lowered, "tonight"):
		return 18, 0, true
	}

	match := clockPattern.FindStringSubmatch(lowered)
	if match == nil || match[3] == "" && match[2] == "" {
		// A bare number without meridiem or minutes is too ambiguous.
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(match[1])
	if match[2] != "" {
		minute, _ = strconv.Atoi(match[2])
	}
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	switch match[3] {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	return hour, minute, true
}

func daysUntil(now time.Time, weekday time.Weekday) int {
	days := (int(weekday) - int(now.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return days
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
