package localday

import (
	"fmt"
	"strings"
	"time"
)

// Window is an inclusive calendar-day range. In local mode membership is
// decided by comparing the shifted day string; in absolute mode by comparing
// the unshifted instant against [start 00:00:00.000Z, end 23:59:59.999Z].
type Window struct {
	Start    string
	End      string
	UseLocal bool

	from time.Time
	to   time.Time
}

// ParseWindow returns an unbounded window when both dates are empty.
func ParseWindow(start, end string, useLocal bool) (Window, error) {
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)
	w := Window{Start: start, End: end, UseLocal: useLocal}
	if start == "" && end == "" {
		return w, nil
	}
	if start == "" || end == "" {
		return Window{}, fmt.Errorf("%w: startDate and endDate must be given together", ErrInvalidDate)
	}

	from, err := time.Parse(DateLayout, start)
	if err != nil {
		return Window{}, fmt.Errorf("%w: startDate %q", ErrInvalidDate, start)
	}
	endDay, err := time.Parse(DateLayout, end)
	if err != nil {
		return Window{}, fmt.Errorf("%w: endDate %q", ErrInvalidDate, end)
	}
	if endDay.Before(from) {
		return Window{}, fmt.Errorf("%w: endDate before startDate", ErrInvalidDate)
	}

	w.from = from
	w.to = endDay.Add(24*time.Hour - time.Millisecond)
	return w, nil
}

// LastDays is the window of n local days ending on the local day of now.
func LastDays(n Normalizer, now time.Time, days int, useLocal bool) Window {
	if days < 1 {
		days = 1
	}
	endDay := n.Day(now, useLocal)
	end, _ := time.Parse(DateLayout, endDay)
	start := end.AddDate(0, 0, -(days - 1))
	w, _ := ParseWindow(start.Format(DateLayout), endDay, useLocal)
	return w
}

func (w Window) Bounded() bool {
	return w.Start != ""
}

func (w Window) Contains(n Normalizer, t time.Time) bool {
	if !w.Bounded() {
		return true
	}
	if w.UseLocal {
		day := n.LocalDate(t)
		return day >= w.Start && day <= w.End
	}
	u := t.UTC()
	return !u.Before(w.from) && !u.After(w.to)
}

// QueryBounds is an absolute half-open range [from, to) that contains every
// instant Contains can accept. Stores use it to pre-filter; in local mode it
// is widened by a day on each side so any fixed offset is covered.
func (w Window) QueryBounds() (from, to *time.Time) {
	if !w.Bounded() {
		return nil, nil
	}
	lo := w.from
	hi := w.to.Add(time.Millisecond)
	if w.UseLocal {
		lo = lo.Add(-24 * time.Hour)
		hi = hi.Add(24 * time.Hour)
	}
	return &lo, &hi
}

// DayCount is the number of calendar days in a bounded window, or zero.
func (w Window) DayCount() int {
	if !w.Bounded() {
		return 0
	}
	return int(w.to.Sub(w.from)/(24*time.Hour)) + 1
}

// Days lists every calendar day in the window in ascending order.
func (w Window) Days() []string {
	if !w.Bounded() {
		return nil
	}
	days := make([]string, 0, 31)
	for day := w.from; !day.After(w.to); day = day.AddDate(0, 0, 1) {
		days = append(days, day.Format(DateLayout))
	}
	return days
}
