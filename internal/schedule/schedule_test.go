package schedule

import (
	"testing"
	"time"
)

// Mon-Sat 09:00-19:00, closed Sunday.
func workshopWeek(t *testing.T) *Weekly {
	t.Helper()
	w, err := Parse("mon=09:00-19:00;tue=09:00-19:00;wed=09:00-19:00;thu=09:00-19:00;fri=09:00-19:00;sat=09:00-19:00")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return w
}

// 2026-08-31 is a Monday.
func monday(hour, min int) time.Time {
	return time.Date(2026, 8, 31, hour, min, 0, 0, time.UTC)
}

func TestAddBusinessMinutesSkipsClosedOvernight(t *testing.T) {
	w := workshopWeek(t)

	got := w.AddBusinessMinutes(monday(18, 30), 60)
	want := time.Date(2026, 9, 1, 9, 30, 0, 0, time.UTC) // Tuesday 09:30
	if !got.Equal(want) {
		t.Errorf("AddBusinessMinutes = %v, want %v", got, want)
	}
}

func TestAddBusinessMinutesSkipsSunday(t *testing.T) {
	w := workshopWeek(t)

	saturday := time.Date(2026, 9, 5, 18, 0, 0, 0, time.UTC)
	got := w.AddBusinessMinutes(saturday, 120)
	want := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC) // Monday 10:00
	if !got.Equal(want) {
		t.Errorf("AddBusinessMinutes = %v, want %v", got, want)
	}
}

func TestZeroMinutesNormalizes(t *testing.T) {
	w := workshopWeek(t)

	inside := monday(11, 15)
	if got := w.AddBusinessMinutes(inside, 0); !got.Equal(inside) {
		t.Errorf("inside open hours: got %v, want unchanged %v", got, inside)
	}

	closed := monday(20, 0)
	want := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC) // Tuesday opening
	if got := w.AddBusinessMinutes(closed, 0); !got.Equal(want) {
		t.Errorf("after close: got %v, want next opening %v", got, want)
	}
}

func TestMonotonicity(t *testing.T) {
	w := workshopWeek(t)

	from := monday(17, 45)
	prev := w.AddBusinessMinutes(from, 0)
	for minutes := 1; minutes <= 2000; minutes += 7 {
		got := w.AddBusinessMinutes(from, minutes)
		if !got.After(prev) {
			t.Fatalf("minutes=%d: result %v not after previous %v", minutes, got, prev)
		}
		prev = got
	}
}

func TestSplitDaySchedule(t *testing.T) {
	w, err := Parse("mon=09:00-13:00,15:00-19:00")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	// 30 minutes before the midday break plus 30 after.
	got := w.AddBusinessMinutes(monday(12, 30), 60)
	want := monday(15, 30)
	if !got.Equal(want) {
		t.Errorf("AddBusinessMinutes = %v, want %v", got, want)
	}
}

func TestNextOpenWrapsToNextWeek(t *testing.T) {
	w, err := Parse("wed=10:00-12:00")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	thursday := time.Date(2026, 9, 3, 9, 0, 0, 0, time.UTC)
	got := w.NextOpen(thursday)
	want := time.Date(2026, 9, 9, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextOpen = %v, want %v", got, want)
	}
}

func TestParseRejectsBadSpecs(t *testing.T) {
	cases := []string{
		"",
		"mon=19:00-09:00",
		"mon=09:00-13:00,12:00-19:00",
		"funday=09:00-19:00",
		"mon=09h00-19h00",
	}
	for _, spec := range cases {
		if _, err := Parse(spec); err == nil {
			t.Errorf("Parse(%q): expected error", spec)
		}
	}
}
