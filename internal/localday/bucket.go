package localday

import (
	"fmt"
	"strings"
	"time"
)

type Granularity string

const (
	GroupByDay   Granularity = "day"
	GroupByWeek  Granularity = "week"
	GroupByMonth Granularity = "month"
)

func ParseGranularity(raw string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(raw))); g {
	case "":
		return GroupByDay, nil
	case GroupByDay, GroupByWeek, GroupByMonth:
		return g, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidGranularity, raw)
	}
}

// BucketKey formats t (already in the reporting frame) as a sortable key.
// Weeks follow strftime %U: Sunday starts the week, days before the first
// Sunday of the year fall in week 00.
func BucketKey(t time.Time, g Granularity) string {
	switch g {
	case GroupByWeek:
		yday := t.YearDay() - 1
		week := (yday + 7 - int(t.Weekday())) / 7
		return fmt.Sprintf("%04d-%02d", t.Year(), week)
	case GroupByMonth:
		return t.Format("2006-01")
	default:
		return t.Format(DateLayout)
	}
}

// Buckets lists the distinct bucket keys covered by the window, ascending.
func (w Window) Buckets(g Granularity) []string {
	days := w.Days()
	keys := make([]string, 0, len(days))
	seen := make(map[string]struct{}, len(days))
	for _, day := range days {
		t, err := time.Parse(DateLayout, day)
		if err != nil {
			continue
		}
		key := BucketKey(t, g)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}
