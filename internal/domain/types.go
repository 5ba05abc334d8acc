// Package domain defines the core data types shared across the downloader:
// daily bars, instruments, and trade-date helpers.
package domain

import "time"

// DateLayout is the canonical trade-date format used throughout the system
// and in the SQLite schema.
const DateLayout = "2006-01-02"

// Bar is one daily OHLCV row for a single instrument, as returned by the
// provider's daily endpoint.
type Bar struct {
	TsCode    string    // instrument code, e.g. "000001.SZ"
	TradeDate time.Time // midnight UTC of the trading day
	Open      float64
	High      float64
	Low       float64
	Close     float64
	PreClose  float64
	Change    float64
	PctChg    float64
	Volume    float64 // in lots
	Amount    float64 // turnover, in thousands
}

// ListStatus is an instrument's listing state.
type ListStatus string

const (
	Listed    ListStatus = "L"
	Delisted  ListStatus = "D"
	Suspended ListStatus = "P"
)

// Instrument is one entry of the instrument catalog.
type Instrument struct {
	TsCode     string
	Name       string
	ListDate   time.Time
	DelistDate time.Time // zero if still listed
	Status     ListStatus
}

// ActiveOn reports whether the instrument was listed on the given trade date.
func (i Instrument) ActiveOn(date time.Time) bool {
	if !i.ListDate.IsZero() && date.Before(i.ListDate) {
		return false
	}
	if !i.DelistDate.IsZero() && !date.Before(i.DelistDate) {
		return false
	}
	return true
}

// Midnight truncates t to midnight UTC. Trade dates are compared at day
// granularity everywhere, so all dates entering the system pass through here.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD trade date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// FormatDate renders a trade date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
