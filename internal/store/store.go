// Package store persists daily bars, the instrument catalog, and
// per-instrument download status. SQLite is the system of record; a Parquet
// archive keeps raw per-date fetches for quota-free replay.
package store

import (
	"context"
	"time"

	"tusync/internal/domain"
)

// BarStore persists and queries daily OHLCV bars. The (ts_code, trade_date)
// key is unique; UpsertBars is idempotent with respect to re-runs.
type BarStore interface {
	// UpsertBars writes a batch of bars, replacing rows that share a key.
	// Returns the number of rows written.
	UpsertBars(ctx context.Context, bars []domain.Bar) (int, error)

	// TradeDates returns the distinct trade dates with stored rows for the
	// given instrument in [start, end], ascending. An empty tsCode queries
	// across all instruments.
	TradeDates(ctx context.Context, tsCode string, start, end time.Time) ([]time.Time, error)

	// CountBars returns the number of stored rows for the instrument in
	// [start, end]. An empty tsCode counts across all instruments.
	CountBars(ctx context.Context, tsCode string, start, end time.Time) (int, error)
}

// InstrumentStore persists the instrument catalog.
type InstrumentStore interface {
	// UpsertInstruments writes a batch of catalog entries keyed by ts_code.
	UpsertInstruments(ctx context.Context, instruments []domain.Instrument) error

	// ListInstruments returns catalog entries, ordered by ts_code. When
	// activeOnly is set, only currently listed instruments are returned.
	ListInstruments(ctx context.Context, activeOnly bool) ([]domain.Instrument, error)
}

// DownloadStatus is the lifecycle state of an instrument's download record.
type DownloadStatus string

const (
	StatusPending     DownloadStatus = "pending"
	StatusDownloading DownloadStatus = "downloading"
	StatusCompleted   DownloadStatus = "completed"
	StatusError       DownloadStatus = "error"
)

// DownloadRecord is the durable per-instrument progress record consumed by
// the next planning cycle and by operators.
type DownloadRecord struct {
	TsCode          string
	LastSuccessDate time.Time // monotonic except on explicit reset
	TotalRows       int64
	Status          DownloadStatus
	LastError       string
	RetryCount      int
	UpdatedAt       time.Time
}

// StatusStore persists DownloadRecords keyed by instrument. Writes are
// atomic per instrument; readers never observe a half-written record.
type StatusStore interface {
	// UpsertStatus applies one outcome. LastSuccessDate only moves forward;
	// TotalRows accumulates.
	UpsertStatus(ctx context.Context, rec DownloadRecord) error

	// UpsertStatusBatch applies many outcomes in one transaction.
	UpsertStatusBatch(ctx context.Context, recs []DownloadRecord) error

	// GetStatus returns the record for one instrument, or ok=false if the
	// instrument has never been attempted.
	GetStatus(ctx context.Context, tsCode string) (DownloadRecord, bool, error)

	// ListStatuses returns all records, ordered by ts_code.
	ListStatuses(ctx context.Context) ([]DownloadRecord, error)

	// ResetStatus clears the record for one instrument back to pending.
	ResetStatus(ctx context.Context, tsCode string) error
}
