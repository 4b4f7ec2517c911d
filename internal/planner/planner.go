// Package planner computes upcoming fire instants for five-field cron
// expressions evaluated in an IANA time zone. All outputs are UTC.
package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts exactly minute-hour-dom-month-dow. No seconds field, no
// @descriptors: those are a different dialect and reject at validation.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks that expr is a well-formed five-field cron expression and
// tz is a resolvable IANA zone name (empty means UTC).
func Validate(expr, tz string) error {
	if len(strings.Fields(expr)) != 5 {
		return fmt.Errorf("cron %q: expected 5 fields, got %d", expr, len(strings.Fields(expr)))
	}
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("cron %q: %w", expr, err)
	}
	if _, err := loadZone(tz); err != nil {
		return err
	}
	return nil
}

// Next returns the n fire instants strictly after ref, each in UTC.
// Wall-clock evaluation happens in tz; nonexistent spring-forward times are
// skipped and ambiguous fall-back times are emitted once, at their earlier
// UTC occurrence.
func Next(expr, tz string, ref time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron %q: %w", expr, err)
	}
	loc, err := loadZone(tz)
	if err != nil {
		return nil, err
	}

	out := make([]time.Time, 0, n)
	cursor := ref.In(loc)
	for len(out) < n {
		cand := sched.Next(cursor)
		if cand.IsZero() {
			break
		}
		cursor = cand
		if isRepeatedWallClock(cand, loc) {
			continue
		}
		out = append(out, cand.UTC())
	}
	return out, nil
}

// NextAfter returns the single next fire instant strictly after ref, in UTC.
func NextAfter(expr, tz string, ref time.Time) (time.Time, error) {
	times, err := Next(expr, tz, ref, 1)
	if err != nil {
		return time.Time{}, err
	}
	if len(times) == 0 {
		return time.Time{}, fmt.Errorf("cron %q: no upcoming match", expr)
	}
	return times[0], nil
}

// Period returns the gap between the next two fire instants after ref.
// Used as the default dependency recency window.
func Period(expr, tz string, ref time.Time) (time.Duration, error) {
	times, err := Next(expr, tz, ref, 2)
	if err != nil {
		return 0, err
	}
	if len(times) < 2 {
		return 0, fmt.Errorf("cron %q: no upcoming matches", expr)
	}
	return times[1].Sub(times[0]), nil
}

// isRepeatedWallClock reports whether cand is the second occurrence of an
// ambiguous fall-back wall-clock time: re-resolving its wall fields through
// time.Date lands on an earlier UTC instant already emitted.
func isRepeatedWallClock(cand time.Time, loc *time.Location) bool {
	wall := time.Date(cand.Year(), cand.Month(), cand.Day(),
		cand.Hour(), cand.Minute(), cand.Second(), 0, loc)
	return wall.Before(cand)
}

func loadZone(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", tz, err)
	}
	return loc, nil
}
