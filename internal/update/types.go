// Package update contains the quota-aware incremental download orchestrator:
// gap analysis, plan construction, plan execution, and durable progress
// tracking.
package update

import (
	"errors"
	"time"
)

// ErrEmptyPlan is returned by the planner when there is nothing to do: the
// quota budget is zero or coverage is already complete for the strategy's
// scope. Callers treat it as success-with-nothing-to-do.
var ErrEmptyPlan = errors.New("empty plan: no quota budget or nothing left to fetch")

// Strategy selects how a coverage report is turned into tasks.
type Strategy string

const (
	// MissingDays fetches one missing trading day at a time across all
	// instruments — the quota-cheapest shape for backfilling.
	MissingDays Strategy = "missing_days"
	// RecentDays refreshes the most recent trading days regardless of
	// current coverage. Used for the daily cycle.
	RecentDays Strategy = "recent_days"
	// SpecificInstruments backfills an explicit instrument subset across the
	// full requested range, chunked by the per-call date ceiling.
	SpecificInstruments Strategy = "specific_instruments"
)

// TaskState is a FetchTask's position in the executor's state machine.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskInFlight  TaskState = "in_flight"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskSkipped   TaskState = "skipped"
)

// FetchTask is one bounded remote call. TsCodes nil means all instruments;
// Start == End means a single trading day. Created by the planner, mutated
// only by the executor.
type FetchTask struct {
	ID        int
	TsCodes   []string
	Start     time.Time
	End       time.Time
	QuotaCost int
	Priority  int
	State     TaskState
	Retries   int
	Err       string
}

// SingleDate reports whether the task covers exactly one trading day.
func (t *FetchTask) SingleDate() bool { return t.Start.Equal(t.End) }

// AllInstruments reports whether the task covers the full universe.
func (t *FetchTask) AllInstruments() bool { return len(t.TsCodes) == 0 }

// UpdatePlan is one cycle's ordered, quota-bounded batch of fetch tasks.
// Immutable after creation except for the task states the executor advances.
type UpdatePlan struct {
	Strategy  Strategy
	CreatedAt time.Time
	Tasks     []*FetchTask
	QuotaCost int // sum of task costs, never exceeds the budget given to Plan
}

// CoverageClass groups instruments by how complete their stored history is.
type CoverageClass string

const (
	FullCoverage    CoverageClass = "full"
	PartialCoverage CoverageClass = "partial"
	NoCoverage      CoverageClass = "none"
)

// InstrumentCoverage is one instrument's share of a CoverageReport.
type InstrumentCoverage struct {
	TsCode       string
	Expected     int // trading days the instrument should have, bounded by list date
	Present      int
	MissingDates []time.Time // ascending
	Class        CoverageClass
}

// CoverageReport is the deterministic output of one gap analysis: identical
// store state always yields an identical report.
type CoverageReport struct {
	Start, End  time.Time
	TradingDays []time.Time // every trading day in [Start, End], ascending
	MissingDays []time.Time // trading days with no stored rows at all, ascending
	Instruments []InstrumentCoverage
	Ratio       float64 // distinct present days / calendar trading days
}

// ExecutionResult aggregates one plan run.
type ExecutionResult struct {
	Attempted       int
	Succeeded       int
	FailedTransient int // transient failures that exhausted their retries
	FailedPermanent int
	Skipped         int
	RowsStored      int64
	QuotaUsed       int
	Duration        time.Duration
}
