// Package period parses the bounds of the conversation time-period filter.
//
// Expressions look backwards from now: "2h ago" and "2h" are the same
// instant, and a weekday is its most recent occurrence.
package period

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// offsetRegex matches "30m", "2h ago", "1d", "2w ago", "1mo".
var offsetRegex = regexp.MustCompile(`^(\d+)\s*(mo|w|d|h|m)(\s+ago)?$`)

// ErrEmpty is returned for a blank expression.
var ErrEmpty = errors.New("empty time expression")

// Parse resolves expr relative to now. Day-granular expressions (dates,
// weekdays, today, yesterday) start at midnight, or at the following
// midnight when end is set, so an end bound covers the whole day.
func Parse(expr string, now time.Time, end bool) (time.Time, error) {
	raw := strings.TrimSpace(expr)
	if raw == "" {
		return time.Time{}, ErrEmpty
	}
	input := strings.ToLower(raw)

	day := func(t time.Time) time.Time {
		t = startOfDay(t)
		if end {
			t = t.AddDate(0, 0, 1)
		}
		return t
	}

	switch input {
	case "now":
		return now, nil
	case "today":
		return day(now), nil
	case "yesterday":
		return day(now.AddDate(0, 0, -1)), nil
	}

	if t, ok := lastWeekday(input, now); ok {
		return day(t), nil
	}

	if m := offsetRegex.FindStringSubmatch(input); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return time.Time{}, fmt.Errorf("invalid relative time %q", raw)
		}
		return back(now, n, m[2]), nil
	}

	if t, err := time.ParseInLocation("2006-01-02", raw, now.Location()); err == nil {
		return day(t), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time expression %q", raw)
}

// Range parses a since/until pair. Both empty yields zero times. A missing
// until means now; a missing since is an error.
func Range(since, until string, now time.Time) (time.Time, time.Time, error) {
	since, until = strings.TrimSpace(since), strings.TrimSpace(until)
	if since == "" && until == "" {
		return time.Time{}, time.Time{}, nil
	}
	if since == "" {
		return time.Time{}, time.Time{}, errors.New("--until requires --since")
	}
	from, err := Parse(since, now, false)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --since: %w", err)
	}
	to := now
	if until != "" {
		if to, err = Parse(until, now, true); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --until: %w", err)
		}
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("--since must be before --until")
	}
	return from, to, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// lastWeekday resolves "mon" to today when today is Monday, otherwise the
// previous Monday. "last mon" is always strictly before today.
func lastWeekday(expr string, now time.Time) (time.Time, bool) {
	strict := false
	if rest, ok := strings.CutPrefix(expr, "last "); ok {
		strict = true
		expr = strings.TrimSpace(rest)
	}
	wd, ok := weekdays[expr]
	if !ok {
		return time.Time{}, false
	}
	base := startOfDay(now)
	delta := (int(base.Weekday()) - int(wd) + 7) % 7
	if strict && delta == 0 {
		delta = 7
	}
	return base.AddDate(0, 0, -delta), true
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "weds": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func back(now time.Time, n int, unit string) time.Time {
	switch unit {
	case "mo":
		return now.AddDate(0, -n, 0)
	case "w":
		return now.AddDate(0, 0, -7*n)
	case "d":
		return now.AddDate(0, 0, -n)
	case "h":
		return now.Add(-time.Duration(n) * time.Hour)
	default:
		return now.Add(-time.Duration(n) * time.Minute)
	}
}
