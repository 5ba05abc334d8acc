package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tusync/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore returned error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := domain.ParseDate(s)
	if err != nil {
		t.Fatalf("bad date %s: %v", s, err)
	}
	return d
}

func testBar(tsCode, date string, close float64) domain.Bar {
	d, _ := domain.ParseDate(date)
	return domain.Bar{
		TsCode:    tsCode,
		TradeDate: d,
		Open:      close - 0.2,
		High:      close + 0.1,
		Low:       close - 0.3,
		Close:     close,
		PreClose:  close - 0.1,
		Volume:    10000,
		Amount:    close * 10000,
	}
}

func TestUpsertBarsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bars := []domain.Bar{
		testBar("000001.SZ", "2025-01-06", 10.8),
		testBar("600000.SH", "2025-01-06", 8.1),
	}
	if _, err := s.UpsertBars(ctx, bars); err != nil {
		t.Fatalf("UpsertBars returned error: %v", err)
	}
	if _, err := s.UpsertBars(ctx, bars); err != nil {
		t.Fatalf("second UpsertBars returned error: %v", err)
	}

	n, err := s.CountBars(ctx, "", day(t, "2025-01-01"), day(t, "2025-01-31"))
	if err != nil {
		t.Fatalf("CountBars returned error: %v", err)
	}
	if n != 2 {
		t.Errorf("CountBars = %d after double upsert, want 2", n)
	}
}

func TestUpsertBarsReplacesOnConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.UpsertBars(ctx, []domain.Bar{testBar("000001.SZ", "2025-01-06", 10.8)})
	s.UpsertBars(ctx, []domain.Bar{testBar("000001.SZ", "2025-01-06", 11.2)})

	n, err := s.CountBars(ctx, "000001.SZ", day(t, "2025-01-06"), day(t, "2025-01-06"))
	if err != nil {
		t.Fatalf("CountBars returned error: %v", err)
	}
	if n != 1 {
		t.Errorf("conflicting upsert should replace, got %d rows", n)
	}
}

func TestTradeDates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.UpsertBars(ctx, []domain.Bar{
		testBar("000001.SZ", "2025-01-06", 10.8),
		testBar("000001.SZ", "2025-01-08", 10.9),
		testBar("600000.SH", "2025-01-07", 8.1),
	})

	all, err := s.TradeDates(ctx, "", day(t, "2025-01-01"), day(t, "2025-01-31"))
	if err != nil {
		t.Fatalf("TradeDates returned error: %v", err)
	}
	want := []string{"2025-01-06", "2025-01-07", "2025-01-08"}
	if len(all) != len(want) {
		t.Fatalf("got %d dates, want %d", len(all), len(want))
	}
	for i, w := range want {
		if got := domain.FormatDate(all[i]); got != w {
			t.Errorf("date %d = %s, want %s", i, got, w)
		}
	}

	one, err := s.TradeDates(ctx, "000001.SZ", day(t, "2025-01-01"), day(t, "2025-01-31"))
	if err != nil {
		t.Fatalf("TradeDates returned error: %v", err)
	}
	if len(one) != 2 {
		t.Errorf("instrument-scoped TradeDates returned %d dates, want 2", len(one))
	}
}

func TestInstrumentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := []domain.Instrument{
		{TsCode: "000001.SZ", Name: "PAB", ListDate: day(t, "1991-04-03"), Status: domain.Listed},
		{TsCode: "600000.SH", Name: "SPDB", ListDate: day(t, "1999-11-10"), DelistDate: day(t, "2024-06-01"), Status: domain.Delisted},
	}
	if err := s.UpsertInstruments(ctx, in); err != nil {
		t.Fatalf("UpsertInstruments returned error: %v", err)
	}

	all, err := s.ListInstruments(ctx, false)
	if err != nil {
		t.Fatalf("ListInstruments returned error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d instruments, want 2", len(all))
	}
	if all[0].TsCode != "000001.SZ" || all[1].TsCode != "600000.SH" {
		t.Errorf("instruments not ordered by ts_code: %v", all)
	}
	if !all[1].DelistDate.Equal(day(t, "2024-06-01")) {
		t.Errorf("DelistDate round trip failed: %v", all[1].DelistDate)
	}

	active, err := s.ListInstruments(ctx, true)
	if err != nil {
		t.Fatalf("ListInstruments(active) returned error: %v", err)
	}
	if len(active) != 1 || active[0].TsCode != "000001.SZ" {
		t.Errorf("activeOnly should return only listed instruments, got %v", active)
	}
}

func TestStatusLastSuccessDateMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertStatus(ctx, DownloadRecord{
		TsCode: "000001.SZ", Status: StatusCompleted, LastSuccessDate: day(t, "2025-01-08"), TotalRows: 1,
	}); err != nil {
		t.Fatalf("UpsertStatus returned error: %v", err)
	}

	// An older successful date must not move the high-water mark back.
	if err := s.UpsertStatus(ctx, DownloadRecord{
		TsCode: "000001.SZ", Status: StatusCompleted, LastSuccessDate: day(t, "2025-01-06"), TotalRows: 1,
	}); err != nil {
		t.Fatalf("UpsertStatus returned error: %v", err)
	}

	rec, ok, err := s.GetStatus(ctx, "000001.SZ")
	if err != nil || !ok {
		t.Fatalf("GetStatus = ok=%v err=%v", ok, err)
	}
	if got := domain.FormatDate(rec.LastSuccessDate); got != "2025-01-08" {
		t.Errorf("LastSuccessDate = %s, want 2025-01-08", got)
	}
	if rec.TotalRows != 2 {
		t.Errorf("TotalRows = %d, want accumulated 2", rec.TotalRows)
	}
}

func TestStatusFailureKeepsLastSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.UpsertStatus(ctx, DownloadRecord{
		TsCode: "000001.SZ", Status: StatusCompleted, LastSuccessDate: day(t, "2025-01-08"), TotalRows: 5,
	})
	s.UpsertStatus(ctx, DownloadRecord{
		TsCode: "000001.SZ", Status: StatusError, LastError: "connection refused", RetryCount: 2,
	})

	rec, ok, err := s.GetStatus(ctx, "000001.SZ")
	if err != nil || !ok {
		t.Fatalf("GetStatus = ok=%v err=%v", ok, err)
	}
	if rec.Status != StatusError {
		t.Errorf("Status = %s, want error", rec.Status)
	}
	if rec.LastError != "connection refused" || rec.RetryCount != 2 {
		t.Errorf("failure fields not recorded: %+v", rec)
	}
	if got := domain.FormatDate(rec.LastSuccessDate); got != "2025-01-08" {
		t.Errorf("failure should not clear LastSuccessDate, got %s", got)
	}
}

func TestGetStatusMissing(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.GetStatus(context.Background(), "999999.SZ")
	if err != nil {
		t.Fatalf("GetStatus returned error: %v", err)
	}
	if ok {
		t.Error("GetStatus for unknown instrument should return ok=false")
	}
}

func TestResetStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.UpsertStatus(ctx, DownloadRecord{
		TsCode: "000001.SZ", Status: StatusError, LastSuccessDate: day(t, "2025-01-08"),
		TotalRows: 5, LastError: "boom", RetryCount: 3,
	})
	if err := s.ResetStatus(ctx, "000001.SZ"); err != nil {
		t.Fatalf("ResetStatus returned error: %v", err)
	}

	rec, ok, err := s.GetStatus(ctx, "000001.SZ")
	if err != nil || !ok {
		t.Fatalf("GetStatus = ok=%v err=%v", ok, err)
	}
	if rec.Status != StatusPending || rec.TotalRows != 0 || rec.RetryCount != 0 {
		t.Errorf("reset record not pending/zeroed: %+v", rec)
	}
	if !rec.LastSuccessDate.IsZero() {
		t.Errorf("reset should clear LastSuccessDate, got %v", rec.LastSuccessDate)
	}
	if rec.LastError != "" {
		t.Errorf("reset should clear LastError, got %q", rec.LastError)
	}
}

func TestUpsertStatusBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recs := []DownloadRecord{
		{TsCode: "000001.SZ", Status: StatusCompleted, LastSuccessDate: day(t, "2025-01-06"), TotalRows: 1},
		{TsCode: "600000.SH", Status: StatusCompleted, LastSuccessDate: day(t, "2025-01-06"), TotalRows: 1},
	}
	if err := s.UpsertStatusBatch(ctx, recs); err != nil {
		t.Fatalf("UpsertStatusBatch returned error: %v", err)
	}

	all, err := s.ListStatuses(ctx)
	if err != nil {
		t.Fatalf("ListStatuses returned error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d statuses, want 2", len(all))
	}
}
