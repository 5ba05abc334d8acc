// Package calendar provides trading-day arithmetic over a weekday rule plus
// a configured holiday set. The holiday table is loaded once at process
// start and the calendar never touches the network afterwards.
package calendar

import (
	"fmt"
	"time"

	"tusync/internal/domain"
)

// InvalidRangeError reports a query whose start date falls after its end
// date. It is a caller error and is never retried.
type InvalidRangeError struct {
	Start, End time.Time
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid date range: start %s is after end %s",
		domain.FormatDate(e.Start), domain.FormatDate(e.End))
}

// Calendar answers whether a date is a trading day. Weekends are always
// closed; additional closures come from the holiday set. Immutable once
// constructed.
type Calendar struct {
	holidays map[string]struct{} // keyed by YYYY-MM-DD
}

// New builds a Calendar from a list of holiday dates.
func New(holidays []time.Time) *Calendar {
	set := make(map[string]struct{}, len(holidays))
	for _, h := range holidays {
		set[domain.FormatDate(h)] = struct{}{}
	}
	return &Calendar{holidays: set}
}

// NewFromStrings builds a Calendar from YYYY-MM-DD holiday strings, as they
// appear in the configuration file.
func NewFromStrings(holidays []string) (*Calendar, error) {
	set := make(map[string]struct{}, len(holidays))
	for _, s := range holidays {
		d, err := domain.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("parsing holiday %q: %w", s, err)
		}
		set[domain.FormatDate(d)] = struct{}{}
	}
	return &Calendar{holidays: set}, nil
}

// IsTradingDay reports whether the market is open on the given date.
func (c *Calendar) IsTradingDay(date time.Time) bool {
	wd := date.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	_, holiday := c.holidays[domain.FormatDate(date)]
	return !holiday
}

// TradingDaysBetween returns all trading days in [start, end], ascending.
// Returns an InvalidRangeError if start is after end.
func (c *Calendar) TradingDaysBetween(start, end time.Time) ([]time.Time, error) {
	start, end = domain.Midnight(start), domain.Midnight(end)
	if start.After(end) {
		return nil, &InvalidRangeError{Start: start, End: end}
	}

	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days, nil
}

// PreviousTradingDay returns the most recent trading day strictly before
// date. ok is false if none is found within the lookback horizon (a year of
// consecutive closures means the calendar is misconfigured).
func (c *Calendar) PreviousTradingDay(date time.Time) (prev time.Time, ok bool) {
	d := domain.Midnight(date)
	for i := 0; i < 366; i++ {
		d = d.AddDate(0, 0, -1)
		if c.IsTradingDay(d) {
			return d, true
		}
	}
	return time.Time{}, false
}

// RecentTradingDays returns the n most recent trading days at or before
// date, descending (newest first).
func (c *Calendar) RecentTradingDays(date time.Time, n int) []time.Time {
	var days []time.Time
	d := domain.Midnight(date)
	for len(days) < n {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
		var ok bool
		d, ok = c.PreviousTradingDay(d)
		if !ok {
			break
		}
	}
	return days
}
