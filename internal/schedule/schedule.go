// Package schedule implements business-hours arithmetic over a weekly map of
// open intervals. All functions are pure and safe for concurrent use.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Interval is a half-open [Start,End) span expressed in minutes from midnight.
type Interval struct {
	Start int
	End   int
}

// Weekly holds the open intervals for each weekday. Construct via New or Parse;
// the zero value has no open hours and is rejected by both.
type Weekly struct {
	days [7][]Interval
}

const minutesPerDay = 24 * 60

// New validates and builds a weekly schedule. At least one open interval must
// exist somewhere in the week, each interval must satisfy 0 <= Start < End <= 1440,
// and intervals within a day must not overlap.
func New(days map[time.Weekday][]Interval) (*Weekly, error) {
	w := &Weekly{}
	total := 0
	for day, intervals := range days {
		if day < time.Sunday || day > time.Saturday {
			return nil, fmt.Errorf("invalid weekday %d", day)
		}
		sorted := append([]Interval(nil), intervals...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
		for i, iv := range sorted {
			if iv.Start < 0 || iv.End > minutesPerDay || iv.Start >= iv.End {
				return nil, fmt.Errorf("invalid interval %02d:%02d-%02d:%02d on %s",
					iv.Start/60, iv.Start%60, iv.End/60, iv.End%60, day)
			}
			if i > 0 && iv.Start < sorted[i-1].End {
				return nil, fmt.Errorf("overlapping intervals on %s", day)
			}
		}
		w.days[day] = sorted
		total += len(sorted)
	}
	if total == 0 {
		return nil, errors.New("schedule has no open intervals")
	}
	return w, nil
}

// Parse builds a schedule from a compact spec such as
// "mon=09:00-19:00;tue=09:00-13:00,14:00-19:00;sat=09:00-13:00".
func Parse(spec string) (*Weekly, error) {
	dayKeys := map[string]time.Weekday{
		"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
		"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
	}
	days := make(map[time.Weekday][]Interval)
	for _, part := range strings.Split(spec, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, ranges, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("malformed day entry %q", part)
		}
		day, ok := dayKeys[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", key)
		}
		for _, r := range strings.Split(ranges, ",") {
			from, to, found := strings.Cut(strings.TrimSpace(r), "-")
			if !found {
				return nil, fmt.Errorf("malformed interval %q", r)
			}
			start, err := parseClock(from)
			if err != nil {
				return nil, err
			}
			end, err := parseClock(to)
			if err != nil {
				return nil, err
			}
			days[day] = append(days[day], Interval{Start: start, End: end})
		}
	}
	return New(days)
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("malformed clock value %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Open reports whether t falls inside an open interval.
func (w *Weekly) Open(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()
	for _, iv := range w.days[t.Weekday()] {
		if minute >= iv.Start && minute < iv.End {
			return true
		}
	}
	return false
}

// NextOpen returns t unchanged when t is inside an open interval, otherwise the
// next opening instant. A validated schedule always opens within eight days.
func (w *Weekly) NextOpen(t time.Time) time.Time {
	if w.Open(t) {
		return t
	}
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	for offset := 0; offset < 8; offset++ {
		dayStart := midnight.AddDate(0, 0, offset)
		for _, iv := range w.days[dayStart.Weekday()] {
			opening := dayStart.Add(time.Duration(iv.Start) * time.Minute)
			if opening.After(t) {
				return opening
			}
		}
	}
	return t
}

// AddBusinessMinutes advances from by the given number of working minutes,
// skipping closed time. With minutes <= 0 it normalizes from to the next open
// instant. Monotonic in minutes for a fixed from.
func (w *Weekly) AddBusinessMinutes(from time.Time, minutes int) time.Time {
	t := w.NextOpen(from)
	remaining := time.Duration(minutes) * time.Minute
	for remaining > 0 {
		closeAt := w.closeOf(t)
		available := closeAt.Sub(t)
		if remaining <= available {
			return t.Add(remaining)
		}
		remaining -= available
		t = w.NextOpen(closeAt)
	}
	return t
}

// closeOf returns the end instant of the open interval containing t. Callers
// must only pass instants for which Open(t) holds.
func (w *Weekly) closeOf(t time.Time) time.Time {
	minute := t.Hour()*60 + t.Minute()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	for _, iv := range w.days[t.Weekday()] {
		if minute >= iv.Start && minute < iv.End {
			return midnight.Add(time.Duration(iv.End) * time.Minute)
		}
	}
	return t
}
