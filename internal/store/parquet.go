package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"tusync/internal/domain"
)

// Archive keeps one Parquet file of raw fetched rows per trade date at
// <dir>/daily/<YYYY-MM-DD>.parquet. Archived dates can be replayed into the
// bar store without spending remote quota, which makes re-runs and database
// rebuilds free.
type Archive struct {
	Dir string
}

// NewArchive creates an Archive rooted at dir.
func NewArchive(dir string) *Archive {
	return &Archive{Dir: dir}
}

// BarRecord is the Parquet schema for archived daily bars.
type BarRecord struct {
	TsCode    string  `parquet:"ts_code"`
	TradeDate string  `parquet:"trade_date"`
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	PreClose  float64 `parquet:"pre_close"`
	Change    float64 `parquet:"change"`
	PctChg    float64 `parquet:"pct_chg"`
	Volume    float64 `parquet:"vol"`
	Amount    float64 `parquet:"amount"`
}

// path returns the archive file for a trade date.
func (a *Archive) path(date time.Time) string {
	return filepath.Join(a.Dir, "daily", domain.FormatDate(date)+".parquet")
}

// Has reports whether an archive file exists for the given trade date.
func (a *Archive) Has(date time.Time) bool {
	_, err := os.Stat(a.path(date))
	return err == nil
}

// WriteDate archives one trade date's rows, replacing any existing file.
func (a *Archive) WriteDate(date time.Time, bars []domain.Bar) error {
	records := make([]BarRecord, 0, len(bars))
	for _, b := range bars {
		records = append(records, BarRecord{
			TsCode:    b.TsCode,
			TradeDate: domain.FormatDate(b.TradeDate),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			PreClose:  b.PreClose,
			Change:    b.Change,
			PctChg:    b.PctChg,
			Volume:    b.Volume,
			Amount:    b.Amount,
		})
	}

	path := a.path(date)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}
	if err := parquet.WriteFile(path, records); err != nil {
		return fmt.Errorf("writing archive for %s: %w", domain.FormatDate(date), err)
	}
	return nil
}

// ReadDate loads the archived rows for one trade date.
func (a *Archive) ReadDate(date time.Time) ([]domain.Bar, error) {
	records, err := parquet.ReadFile[BarRecord](a.path(date))
	if err != nil {
		return nil, fmt.Errorf("reading archive for %s: %w", domain.FormatDate(date), err)
	}

	bars := make([]domain.Bar, 0, len(records))
	for _, r := range records {
		d, err := domain.ParseDate(r.TradeDate)
		if err != nil {
			return nil, fmt.Errorf("parsing archived trade date %q: %w", r.TradeDate, err)
		}
		bars = append(bars, domain.Bar{
			TsCode:    r.TsCode,
			TradeDate: d,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			PreClose:  r.PreClose,
			Change:    r.Change,
			PctChg:    r.PctChg,
			Volume:    r.Volume,
			Amount:    r.Amount,
		})
	}
	return bars, nil
}

// Dates lists all archived trade dates, ascending.
func (a *Archive) Dates() ([]time.Time, error) {
	matches, err := filepath.Glob(filepath.Join(a.Dir, "daily", "*.parquet"))
	if err != nil {
		return nil, fmt.Errorf("globbing archive files: %w", err)
	}

	var dates []time.Time
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), ".parquet")
		d, err := domain.ParseDate(name)
		if err != nil {
			continue
		}
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}
