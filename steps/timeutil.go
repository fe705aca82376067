// Package steps is the built-in step catalog: resource loaders, the chat-log
// parser, timeseries windowing and splitting, LLM completion, and label
// tagging. Steps follow the engine contract: embed *chatflow.BaseStep,
// implement Run, declare parameter schemas as pointer-field structs.
package steps

import (
	"fmt"
	"time"
)

// TimeUnit is a calendar or clock unit used by the timeseries steps.
type TimeUnit string

const (
	UnitSecond  TimeUnit = "second"
	UnitMinute  TimeUnit = "minute"
	UnitHour    TimeUnit = "hour"
	UnitDay     TimeUnit = "day"
	UnitWeek    TimeUnit = "week"
	UnitMonth   TimeUnit = "month"
	UnitQuarter TimeUnit = "quarter"
	UnitYear    TimeUnit = "year"
)

// ParseTimeUnit validates a unit string from step parameters.
func ParseTimeUnit(s string) (TimeUnit, error) {
	switch u := TimeUnit(s); u {
	case UnitSecond, UnitMinute, UnitHour, UnitDay, UnitWeek, UnitMonth, UnitQuarter, UnitYear:
		return u, nil
	default:
		return "", fmt.Errorf("unknown time unit %q", s)
	}
}

// truncateTo rounds t down to the start of its unit. Weeks start on Monday.
func truncateTo(t time.Time, unit TimeUnit) time.Time {
	y, mo, d := t.Date()
	loc := t.Location()
	switch unit {
	case UnitSecond:
		return time.Date(y, mo, d, t.Hour(), t.Minute(), t.Second(), 0, loc)
	case UnitMinute:
		return time.Date(y, mo, d, t.Hour(), t.Minute(), 0, 0, loc)
	case UnitHour:
		return time.Date(y, mo, d, t.Hour(), 0, 0, 0, loc)
	case UnitDay:
		return time.Date(y, mo, d, 0, 0, 0, 0, loc)
	case UnitWeek:
		midnight := time.Date(y, mo, d, 0, 0, 0, 0, loc)
		back := (int(midnight.Weekday()) + 6) % 7
		return midnight.AddDate(0, 0, -back)
	case UnitMonth:
		return time.Date(y, mo, 1, 0, 0, 0, 0, loc)
	case UnitQuarter:
		qm := time.Month((int(mo)-1)/3*3 + 1)
		return time.Date(y, qm, 1, 0, 0, 0, 0, loc)
	case UnitYear:
		return time.Date(y, 1, 1, 0, 0, 0, 0, loc)
	}
	return t
}

// advanceBy moves t forward by n units (n may be negative). Calendar units
// use calendar arithmetic so month lengths and DST are respected.
func advanceBy(t time.Time, unit TimeUnit, n int) time.Time {
	switch unit {
	case UnitSecond:
		return t.Add(time.Duration(n) * time.Second)
	case UnitMinute:
		return t.Add(time.Duration(n) * time.Minute)
	case UnitHour:
		return t.Add(time.Duration(n) * time.Hour)
	case UnitDay:
		return t.AddDate(0, 0, n)
	case UnitWeek:
		return t.AddDate(0, 0, 7*n)
	case UnitMonth:
		return t.AddDate(0, n, 0)
	case UnitQuarter:
		return t.AddDate(0, 3*n, 0)
	case UnitYear:
		return t.AddDate(n, 0, 0)
	}
	return t
}

// formatAtUnit renders t at the unit's granularity, for context and group
// names.
func formatAtUnit(t time.Time, unit TimeUnit) string {
	switch unit {
	case UnitSecond:
		return t.Format("2006-01-02 15:04:05")
	case UnitMinute, UnitHour:
		return t.Format("2006-01-02 15:04")
	case UnitDay, UnitWeek:
		return t.Format("2006-01-02")
	case UnitMonth:
		return t.Format("2006-01")
	case UnitQuarter:
		return fmt.Sprintf("%d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
	case UnitYear:
		return t.Format("2006")
	}
	return t.Format(time.RFC3339)
}

// timestampLayouts are tried in order when parsing table index values.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTimestamp parses a table index value with a small set of accepted
// layouts.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
