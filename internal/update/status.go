package update

import (
	"context"
	"fmt"
	"time"

	"tusync/internal/store"
)

// Outcome is what a finished task attempt contributed to one instrument.
type Outcome struct {
	Status  store.DownloadStatus
	Date    time.Time // latest trade date covered by a successful fetch
	Rows    int64
	Retries int
	Err     error
}

// Tracker records per-instrument download progress durably, so the next
// planning cycle and operators can see exactly where a run stopped. All
// writes go through the status store's atomic per-row upsert.
type Tracker struct {
	statuses store.StatusStore
}

// NewTracker creates a Tracker over the given status store.
func NewTracker(statuses store.StatusStore) *Tracker {
	return &Tracker{statuses: statuses}
}

// RecordOutcome applies one task outcome to one instrument.
func (t *Tracker) RecordOutcome(ctx context.Context, tsCode string, outcome Outcome) error {
	rec := outcomeRecord(tsCode, outcome)
	if err := t.statuses.UpsertStatus(ctx, rec); err != nil {
		return fmt.Errorf("recording outcome for %s: %w", tsCode, err)
	}
	return nil
}

// RecordOutcomes applies one outcome per instrument in a single
// transaction. Used after all-instrument date fetches, where one call
// touches thousands of instruments.
func (t *Tracker) RecordOutcomes(ctx context.Context, outcomes map[string]Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	recs := make([]store.DownloadRecord, 0, len(outcomes))
	for tsCode, outcome := range outcomes {
		recs = append(recs, outcomeRecord(tsCode, outcome))
	}
	if err := t.statuses.UpsertStatusBatch(ctx, recs); err != nil {
		return fmt.Errorf("recording outcomes: %w", err)
	}
	return nil
}

// GetStatus returns the durable record for one instrument.
func (t *Tracker) GetStatus(ctx context.Context, tsCode string) (store.DownloadRecord, bool, error) {
	return t.statuses.GetStatus(ctx, tsCode)
}

// ResetStatus clears one instrument's record back to pending. The only path
// that moves lastSuccessfulDate backward.
func (t *Tracker) ResetStatus(ctx context.Context, tsCode string) error {
	return t.statuses.ResetStatus(ctx, tsCode)
}

func outcomeRecord(tsCode string, outcome Outcome) store.DownloadRecord {
	rec := store.DownloadRecord{
		TsCode:          tsCode,
		Status:          outcome.Status,
		TotalRows:       outcome.Rows,
		RetryCount:      outcome.Retries,
		LastSuccessDate: outcome.Date,
		UpdatedAt:       time.Now().UTC(),
	}
	if outcome.Err != nil {
		rec.LastError = outcome.Err.Error()
	}
	return rec
}
