package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tusync/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ BarStore = (*SQLiteStore)(nil)
var _ InstrumentStore = (*SQLiteStore)(nil)
var _ StatusStore = (*SQLiteStore)(nil)

// SQLiteStore implements BarStore, InstrumentStore and StatusStore backed by
// a single SQLite database in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS daily_bars (
	ts_code    TEXT NOT NULL,
	trade_date TEXT NOT NULL,
	open       REAL,
	high       REAL,
	low        REAL,
	close      REAL,
	pre_close  REAL,
	change     REAL,
	pct_chg    REAL,
	vol        REAL,
	amount     REAL,
	PRIMARY KEY (ts_code, trade_date)
);
CREATE INDEX IF NOT EXISTS idx_daily_bars_date ON daily_bars (trade_date);

CREATE TABLE IF NOT EXISTS instruments (
	ts_code     TEXT PRIMARY KEY,
	name        TEXT,
	list_date   TEXT,
	delist_date TEXT,
	list_status TEXT NOT NULL DEFAULT 'L'
);

CREATE TABLE IF NOT EXISTS download_status (
	ts_code           TEXT PRIMARY KEY,
	last_success_date TEXT,
	total_rows        INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'pending',
	last_error        TEXT,
	retry_count       INTEGER NOT NULL DEFAULT 0,
	updated_at        TEXT NOT NULL
);
`

// NewSQLiteStore opens (or creates) the database at dbPath, enables WAL
// mode, and ensures the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbPath, err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// UpsertBars writes bars in a single transaction. Conflicting keys are
// replaced, so re-running the same plan converges on identical contents.
func (s *SQLiteStore) UpsertBars(ctx context.Context, bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_bars
			(ts_code, trade_date, open, high, low, close, pre_close, change, pct_chg, vol, amount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ts_code, trade_date) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, pre_close = excluded.pre_close,
			change = excluded.change, pct_chg = excluded.pct_chg,
			vol = excluded.vol, amount = excluded.amount`)
	if err != nil {
		return 0, fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx,
			b.TsCode, domain.FormatDate(b.TradeDate),
			b.Open, b.High, b.Low, b.Close, b.PreClose,
			b.Change, b.PctChg, b.Volume, b.Amount,
		); err != nil {
			return 0, fmt.Errorf("upserting bar %s/%s: %w", b.TsCode, domain.FormatDate(b.TradeDate), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing bars: %w", err)
	}
	return len(bars), nil
}

// TradeDates returns distinct stored trade dates in [start, end], ascending.
func (s *SQLiteStore) TradeDates(ctx context.Context, tsCode string, start, end time.Time) ([]time.Time, error) {
	query := `SELECT DISTINCT trade_date FROM daily_bars WHERE trade_date >= ? AND trade_date <= ?`
	args := []any{domain.FormatDate(start), domain.FormatDate(end)}
	if tsCode != "" {
		query += ` AND ts_code = ?`
		args = append(args, tsCode)
	}
	query += ` ORDER BY trade_date`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying trade dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var str string
		if err := rows.Scan(&str); err != nil {
			return nil, fmt.Errorf("scanning trade date: %w", err)
		}
		d, err := domain.ParseDate(str)
		if err != nil {
			return nil, fmt.Errorf("parsing stored trade date %q: %w", str, err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// CountBars returns the number of stored rows in [start, end].
func (s *SQLiteStore) CountBars(ctx context.Context, tsCode string, start, end time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM daily_bars WHERE trade_date >= ? AND trade_date <= ?`
	args := []any{domain.FormatDate(start), domain.FormatDate(end)}
	if tsCode != "" {
		query += ` AND ts_code = ?`
		args = append(args, tsCode)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting bars: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// InstrumentStore implementation
// ---------------------------------------------------------------------------

// UpsertInstruments writes catalog entries in a single transaction.
func (s *SQLiteStore) UpsertInstruments(ctx context.Context, instruments []domain.Instrument) error {
	if len(instruments) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO instruments (ts_code, name, list_date, delist_date, list_status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (ts_code) DO UPDATE SET
			name = excluded.name, list_date = excluded.list_date,
			delist_date = excluded.delist_date, list_status = excluded.list_status`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, inst := range instruments {
		if _, err := stmt.ExecContext(ctx,
			inst.TsCode, inst.Name,
			nullableDate(inst.ListDate), nullableDate(inst.DelistDate),
			string(inst.Status),
		); err != nil {
			return fmt.Errorf("upserting instrument %s: %w", inst.TsCode, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing instruments: %w", err)
	}
	return nil
}

// ListInstruments returns catalog entries ordered by ts_code.
func (s *SQLiteStore) ListInstruments(ctx context.Context, activeOnly bool) ([]domain.Instrument, error) {
	query := `SELECT ts_code, name, list_date, delist_date, list_status FROM instruments`
	if activeOnly {
		query += ` WHERE list_status = 'L'`
	}
	query += ` ORDER BY ts_code`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying instruments: %w", err)
	}
	defer rows.Close()

	var instruments []domain.Instrument
	for rows.Next() {
		var inst domain.Instrument
		var listDate, delistDate, status sql.NullString
		if err := rows.Scan(&inst.TsCode, &inst.Name, &listDate, &delistDate, &status); err != nil {
			return nil, fmt.Errorf("scanning instrument: %w", err)
		}
		if inst.ListDate, err = scanDate(listDate); err != nil {
			return nil, err
		}
		if inst.DelistDate, err = scanDate(delistDate); err != nil {
			return nil, err
		}
		inst.Status = domain.ListStatus(status.String)
		instruments = append(instruments, inst)
	}
	return instruments, rows.Err()
}

// ---------------------------------------------------------------------------
// StatusStore implementation
// ---------------------------------------------------------------------------

const statusUpsert = `
	INSERT INTO download_status
		(ts_code, last_success_date, total_rows, status, last_error, retry_count, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (ts_code) DO UPDATE SET
		last_success_date = CASE
			WHEN excluded.last_success_date IS NOT NULL
				AND (last_success_date IS NULL OR excluded.last_success_date > last_success_date)
			THEN excluded.last_success_date
			ELSE last_success_date
		END,
		total_rows  = total_rows + excluded.total_rows,
		status      = excluded.status,
		last_error  = excluded.last_error,
		retry_count = excluded.retry_count,
		updated_at  = excluded.updated_at`

// UpsertStatus applies one outcome atomically. LastSuccessDate never moves
// backward; TotalRows accumulates the new rows from this outcome.
func (s *SQLiteStore) UpsertStatus(ctx context.Context, rec DownloadRecord) error {
	_, err := s.db.ExecContext(ctx, statusUpsert, statusArgs(rec)...)
	if err != nil {
		return fmt.Errorf("upserting status %s: %w", rec.TsCode, err)
	}
	return nil
}

// UpsertStatusBatch applies many outcomes in one transaction.
func (s *SQLiteStore) UpsertStatusBatch(ctx context.Context, recs []DownloadRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, statusUpsert)
	if err != nil {
		return fmt.Errorf("preparing status upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx, statusArgs(rec)...); err != nil {
			return fmt.Errorf("upserting status %s: %w", rec.TsCode, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing statuses: %w", err)
	}
	return nil
}

// GetStatus returns the record for one instrument.
func (s *SQLiteStore) GetStatus(ctx context.Context, tsCode string) (DownloadRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ts_code, last_success_date, total_rows, status, last_error, retry_count, updated_at
		FROM download_status WHERE ts_code = ?`, tsCode)

	rec, err := scanStatus(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return DownloadRecord{}, false, nil
	}
	if err != nil {
		return DownloadRecord{}, false, fmt.Errorf("reading status %s: %w", tsCode, err)
	}
	return rec, true, nil
}

// ListStatuses returns all records ordered by ts_code.
func (s *SQLiteStore) ListStatuses(ctx context.Context) ([]DownloadRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts_code, last_success_date, total_rows, status, last_error, retry_count, updated_at
		FROM download_status ORDER BY ts_code`)
	if err != nil {
		return nil, fmt.Errorf("querying statuses: %w", err)
	}
	defer rows.Close()

	var recs []DownloadRecord
	for rows.Next() {
		rec, err := scanStatus(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning status: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ResetStatus clears one instrument's record back to pending. This is the
// only path that moves last_success_date backward.
func (s *SQLiteStore) ResetStatus(ctx context.Context, tsCode string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE download_status
		SET last_success_date = NULL, total_rows = 0, status = 'pending',
			last_error = NULL, retry_count = 0, updated_at = ?
		WHERE ts_code = ?`,
		time.Now().UTC().Format(time.RFC3339), tsCode)
	if err != nil {
		return fmt.Errorf("resetting status %s: %w", tsCode, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Scan/format helpers
// ---------------------------------------------------------------------------

func statusArgs(rec DownloadRecord) []any {
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return []any{
		rec.TsCode,
		nullableDate(rec.LastSuccessDate),
		rec.TotalRows,
		string(rec.Status),
		nullableString(rec.LastError),
		rec.RetryCount,
		updated.Format(time.RFC3339),
	}
}

func scanStatus(scan func(dest ...any) error) (DownloadRecord, error) {
	var rec DownloadRecord
	var lastDate, lastErr, updated sql.NullString
	var status string
	if err := scan(&rec.TsCode, &lastDate, &rec.TotalRows, &status, &lastErr, &rec.RetryCount, &updated); err != nil {
		return rec, err
	}
	rec.Status = DownloadStatus(status)
	rec.LastError = lastErr.String

	var err error
	if rec.LastSuccessDate, err = scanDate(lastDate); err != nil {
		return rec, err
	}
	if updated.Valid {
		if rec.UpdatedAt, err = time.Parse(time.RFC3339, updated.String); err != nil {
			return rec, fmt.Errorf("parsing updated_at %q: %w", updated.String, err)
		}
	}
	return rec, nil
}

func nullableDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return domain.FormatDate(t)
}

func nullableString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func scanDate(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	d, err := domain.ParseDate(ns.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored date %q: %w", ns.String, err)
	}
	return d, nil
}
