package club

import "time"

const monthLayout = "2006-01"

func monthOf(t time.Time) string {
	return t.Format(monthLayout)
}

func parseMonth(m string) (time.Time, bool) {
	t, err := time.Parse(monthLayout, m)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func prevMonth(month string) string {
	t, ok := parseMonth(month)
	if !ok {
		return month
	}
	return t.AddDate(0, -1, 0).Format(monthLayout)
}

func addMonths(month string, n int) string {
	t, ok := parseMonth(month)
	if !ok {
		return month
	}
	return t.AddDate(0, n, 0).Format(monthLayout)
}

// monthBefore reports whether a < b. Zero-padded "YYYY-MM" compares
// lexicographically; an empty (never paid) month sorts first.
func monthBefore(a, b string) bool {
	return a < b
}
