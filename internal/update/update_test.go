package update

// Shared in-memory fakes for the orchestrator tests.

import (
	"context"
	"sort"
	"sync"
	"time"

	"tusync/internal/domain"
	"tusync/internal/provider"
	"tusync/internal/store"
)

func date(s string) time.Time {
	d, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func bar(tsCode, day string, close float64) domain.Bar {
	return domain.Bar{TsCode: tsCode, TradeDate: date(day), Close: close}
}

// fakeBars is an in-memory BarStore keyed like the SQLite table.
type fakeBars struct {
	mu   sync.Mutex
	rows map[string]domain.Bar // key ts_code|date
}

func newFakeBars() *fakeBars {
	return &fakeBars{rows: make(map[string]domain.Bar)}
}

func (f *fakeBars) UpsertBars(_ context.Context, bars []domain.Bar) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range bars {
		f.rows[b.TsCode+"|"+domain.FormatDate(b.TradeDate)] = b
	}
	return len(bars), nil
}

func (f *fakeBars) TradeDates(_ context.Context, tsCode string, start, end time.Time) ([]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]struct{})
	for _, b := range f.rows {
		if tsCode != "" && b.TsCode != tsCode {
			continue
		}
		if b.TradeDate.Before(start) || b.TradeDate.After(end) {
			continue
		}
		seen[domain.FormatDate(b.TradeDate)] = struct{}{}
	}
	var dates []time.Time
	for s := range seen {
		dates = append(dates, date(s))
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

func (f *fakeBars) CountBars(_ context.Context, tsCode string, start, end time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.rows {
		if tsCode != "" && b.TsCode != tsCode {
			continue
		}
		if b.TradeDate.Before(start) || b.TradeDate.After(end) {
			continue
		}
		n++
	}
	return n, nil
}

func (f *fakeBars) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// fakeStatuses is an in-memory StatusStore mirroring the SQLite upsert
// semantics: monotonic last_success_date, accumulating total_rows.
type fakeStatuses struct {
	mu   sync.Mutex
	recs map[string]store.DownloadRecord
}

func newFakeStatuses() *fakeStatuses {
	return &fakeStatuses{recs: make(map[string]store.DownloadRecord)}
}

func (f *fakeStatuses) apply(rec store.DownloadRecord) {
	old, ok := f.recs[rec.TsCode]
	if ok {
		if rec.LastSuccessDate.IsZero() || !rec.LastSuccessDate.After(old.LastSuccessDate) {
			rec.LastSuccessDate = old.LastSuccessDate
		}
		rec.TotalRows += old.TotalRows
	}
	f.recs[rec.TsCode] = rec
}

func (f *fakeStatuses) UpsertStatus(_ context.Context, rec store.DownloadRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apply(rec)
	return nil
}

func (f *fakeStatuses) UpsertStatusBatch(_ context.Context, recs []store.DownloadRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range recs {
		f.apply(rec)
	}
	return nil
}

func (f *fakeStatuses) GetStatus(_ context.Context, tsCode string) (store.DownloadRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[tsCode]
	return rec, ok, nil
}

func (f *fakeStatuses) ListStatuses(_ context.Context) ([]store.DownloadRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var recs []store.DownloadRecord
	for _, rec := range f.recs {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].TsCode < recs[j].TsCode })
	return recs, nil
}

func (f *fakeStatuses) ResetStatus(_ context.Context, tsCode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[tsCode] = store.DownloadRecord{TsCode: tsCode, Status: store.StatusPending}
	return nil
}

// fakeClient returns scripted responses in call order. An exhausted script
// returns an empty result.
type fakeClient struct {
	mu        sync.Mutex
	responses []fakeResponse
	scopes    []provider.Scope
	onCall    func(call int) // invoked after each FetchDaily, 1-based
}

type fakeResponse struct {
	bars []domain.Bar
	err  error
}

func (f *fakeClient) FetchDaily(_ context.Context, scope provider.Scope) ([]domain.Bar, error) {
	f.mu.Lock()
	f.scopes = append(f.scopes, scope)
	call := len(f.scopes)
	var resp fakeResponse
	if len(f.responses) > 0 {
		resp = f.responses[0]
		f.responses = f.responses[1:]
	}
	hook := f.onCall
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return resp.bars, resp.err
}

func (f *fakeClient) ListInstruments(context.Context) ([]domain.Instrument, error) {
	return nil, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scopes)
}
