package update

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tusync/internal/calendar"
	"tusync/internal/domain"
	"tusync/internal/store"
)

// GapAnalyzer compares the trading calendar against store contents and
// reports what is missing. One range query per instrument, never one per
// day, so I/O stays bounded by the instrument count.
type GapAnalyzer struct {
	bars store.BarStore
	cal  *calendar.Calendar
	log  *slog.Logger
}

// NewGapAnalyzer creates a GapAnalyzer over the given store and calendar.
func NewGapAnalyzer(bars store.BarStore, cal *calendar.Calendar) *GapAnalyzer {
	return &GapAnalyzer{
		bars: bars,
		cal:  cal,
		log:  slog.Default().With("component", "gap"),
	}
}

// Analyze computes coverage for the given instruments over [start, end].
// Instruments carry their listing dates so expected coverage starts at
// listing, not at the range start. A nil instrument slice produces only the
// global (all-instrument) day coverage.
func (a *GapAnalyzer) Analyze(ctx context.Context, instruments []domain.Instrument, start, end time.Time) (*CoverageReport, error) {
	start, end = domain.Midnight(start), domain.Midnight(end)
	days, err := a.cal.TradingDaysBetween(start, end)
	if err != nil {
		return nil, err
	}

	report := &CoverageReport{Start: start, End: end, TradingDays: days}

	// Global day coverage: one query across all instruments.
	presentDays, err := a.bars.TradeDates(ctx, "", start, end)
	if err != nil {
		return nil, fmt.Errorf("querying stored trade dates: %w", err)
	}
	presentSet := dateSet(presentDays)

	for _, d := range days {
		if _, ok := presentSet[domain.FormatDate(d)]; !ok {
			report.MissingDays = append(report.MissingDays, d)
		}
	}
	if len(days) > 0 {
		report.Ratio = float64(len(days)-len(report.MissingDays)) / float64(len(days))
	}

	// Per-instrument coverage: one range query each.
	for _, inst := range instruments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cov := InstrumentCoverage{TsCode: inst.TsCode}
		instPresent, err := a.bars.TradeDates(ctx, inst.TsCode, start, end)
		if err != nil {
			return nil, fmt.Errorf("querying trade dates for %s: %w", inst.TsCode, err)
		}
		instSet := dateSet(instPresent)

		for _, d := range days {
			if !inst.ActiveOn(d) {
				continue
			}
			cov.Expected++
			if _, ok := instSet[domain.FormatDate(d)]; ok {
				cov.Present++
			} else {
				cov.MissingDates = append(cov.MissingDates, d)
			}
		}

		switch {
		case cov.Expected == 0 || cov.Present == 0:
			cov.Class = NoCoverage
		case cov.Present == cov.Expected:
			cov.Class = FullCoverage
		default:
			cov.Class = PartialCoverage
		}
		report.Instruments = append(report.Instruments, cov)
	}

	a.log.Debug("coverage analyzed",
		"start", domain.FormatDate(start),
		"end", domain.FormatDate(end),
		"tradingDays", len(days),
		"missingDays", len(report.MissingDays),
		"instruments", len(instruments),
	)
	return report, nil
}

func dateSet(dates []time.Time) map[string]struct{} {
	set := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		set[domain.FormatDate(d)] = struct{}{}
	}
	return set
}
