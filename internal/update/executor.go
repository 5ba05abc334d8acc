package update

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"tusync/internal/domain"
	"tusync/internal/provider"
	"tusync/internal/quota"
	"tusync/internal/store"
)

// ExecutorConfig controls retry and quota-wait behaviour.
type ExecutorConfig struct {
	MaxRetries   int           // attempts per task before a transient failure sticks
	BackoffBase  time.Duration // first retry delay; doubles each attempt
	MaxQuotaWait time.Duration // longest acceptable wait for a limiter grant
	CallTimeout  time.Duration // per remote call deadline
}

// Executor runs an UpdatePlan task by task, gated by the rate limiter.
// Side effects are confined to store upserts, tracker updates, the archive,
// and the limiter's window state. A single in-flight call at a time: the
// quota, not CPU, is the bottleneck.
type Executor struct {
	client  provider.Client
	bars    store.BarStore
	tracker *Tracker
	limiter *quota.Limiter
	archive *store.Archive // optional; nil disables replay and archiving
	cfg     ExecutorConfig
	rng     *rand.Rand
	log     *slog.Logger
}

// NewExecutor creates an Executor. archive may be nil.
func NewExecutor(client provider.Client, bars store.BarStore, tracker *Tracker, limiter *quota.Limiter, archive *store.Archive, cfg ExecutorConfig) *Executor {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	return &Executor{
		client:  client,
		bars:    bars,
		tracker: tracker,
		limiter: limiter,
		archive: archive,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		log:     slog.Default().With("component", "executor"),
	}
}

// Execute processes the plan strictly in order. It returns a partial
// ExecutionResult together with an error when the plan aborts early
// (authentication failure or quota exhaustion); per-task failures are
// recorded in the result and the tracker, not surfaced as errors.
// Cancellation is honoured between tasks: completed tasks stay durably
// recorded and the remainder is left pending for the next cycle.
func (e *Executor) Execute(ctx context.Context, plan *UpdatePlan) (*ExecutionResult, error) {
	result := &ExecutionResult{}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	for i, task := range plan.Tasks {
		if ctx.Err() != nil {
			e.log.Info("cancelled, stopping after completed tasks",
				"done", i, "remaining", len(plan.Tasks)-i)
			return result, nil
		}

		result.Attempted++
		abort, err := e.runTask(ctx, task, result)
		if err != nil && provider.IsAuth(err) {
			// Every subsequent call would fail the same way.
			skipRemaining(plan.Tasks[i+1:], result)
			return result, fmt.Errorf("authentication failed, plan aborted: %w", err)
		}
		if abort {
			return result, err
		}
	}

	e.log.Info("plan complete",
		"strategy", string(plan.Strategy),
		"succeeded", result.Succeeded,
		"failed", result.FailedTransient+result.FailedPermanent,
		"rows", result.RowsStored,
		"quotaUsed", result.QuotaUsed,
	)
	return result, nil
}

// runTask drives one task through the state machine. abort=true stops the
// plan (quota exhausted or cancellation mid-backoff); the returned error is
// the task's terminal failure, if any.
func (e *Executor) runTask(ctx context.Context, task *FetchTask, result *ExecutionResult) (abort bool, terminal error) {
	// A replayable task costs no quota at all.
	if e.replayFromArchive(ctx, task, result) {
		return false, nil
	}

	for attempt := 0; ; attempt++ {
		task.State = TaskInFlight
		task.Retries = attempt

		if err := e.limiter.Wait(ctx, e.cfg.MaxQuotaWait); err != nil {
			// No quota within the acceptable horizon: leave the task pending
			// and let the next cycle resume from tracker state.
			task.State = TaskPending
			result.Attempted--
			if ctx.Err() != nil {
				return true, nil
			}
			return true, fmt.Errorf("task %d: %w", task.ID, err)
		}
		result.QuotaUsed += task.QuotaCost

		bars, err := e.fetch(ctx, task)
		if err == nil {
			if err = e.storeRows(ctx, task, bars); err == nil {
				task.State = TaskSucceeded
				result.Succeeded++
				result.RowsStored += int64(len(bars))
				e.log.Info("task succeeded",
					"task", task.ID,
					"start", domain.FormatDate(task.Start),
					"end", domain.FormatDate(task.End),
					"rows", len(bars),
					"retries", attempt,
				)
				return false, nil
			}
			// Local store failure after a spent remote call: terminal for
			// this task, retried on the next cycle without re-fetching.
			e.failTask(ctx, task, result, err, attempt, false)
			return false, err
		}

		if provider.IsAuth(err) {
			e.failTask(ctx, task, result, err, attempt, true)
			return false, err
		}
		if !provider.IsTransient(err) {
			e.failTask(ctx, task, result, err, attempt, true)
			return false, err
		}

		// Transient: re-queue with backoff unless retries are exhausted.
		if attempt+1 >= e.cfg.MaxRetries {
			e.failTask(ctx, task, result, err, attempt, false)
			return false, err
		}

		delay := e.backoff(attempt)
		e.log.Warn("transient failure, backing off",
			"task", task.ID, "attempt", attempt+1, "delay", delay.Round(time.Millisecond), "err", err)
		task.State = TaskPending

		select {
		case <-ctx.Done():
			// Leave the task pending; it was never completed.
			result.Attempted--
			return true, nil
		case <-time.After(delay):
		}
	}
}

// replayFromArchive satisfies a single-date all-instrument task from the
// local archive when possible, spending no quota.
func (e *Executor) replayFromArchive(ctx context.Context, task *FetchTask, result *ExecutionResult) bool {
	if e.archive == nil || !task.SingleDate() || !task.AllInstruments() || !e.archive.Has(task.Start) {
		return false
	}

	bars, err := e.archive.ReadDate(task.Start)
	if err != nil {
		e.log.Warn("archive replay failed, falling back to remote",
			"date", domain.FormatDate(task.Start), "err", err)
		return false
	}
	if err := e.storeRows(ctx, task, bars); err != nil {
		e.log.Warn("archive replay store failed, falling back to remote",
			"date", domain.FormatDate(task.Start), "err", err)
		return false
	}

	task.State = TaskSucceeded
	result.Succeeded++
	result.RowsStored += int64(len(bars))
	e.log.Info("task replayed from archive",
		"task", task.ID, "date", domain.FormatDate(task.Start), "rows", len(bars))
	return true
}

// fetch performs the remote call with the per-call timeout.
func (e *Executor) fetch(ctx context.Context, task *FetchTask) ([]domain.Bar, error) {
	if e.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
	}
	return e.client.FetchDaily(ctx, provider.Scope{
		Start:   task.Start,
		End:     task.End,
		TsCodes: task.TsCodes,
	})
}

func (e *Executor) backoff(attempt int) time.Duration {
	delay := e.cfg.BackoffBase << uint(attempt)
	// Jitter in [0.8, 1.2) to avoid synchronized retry storms.
	factor := 0.8 + 0.4*e.rng.Float64()
	return time.Duration(float64(delay) * factor)
}

// storeRows upserts fetched rows, archives single-date fetches, and records
// per-instrument outcomes.
func (e *Executor) storeRows(ctx context.Context, task *FetchTask, bars []domain.Bar) error {
	if _, err := e.bars.UpsertBars(ctx, bars); err != nil {
		return fmt.Errorf("storing rows: %w", err)
	}

	if e.archive != nil && task.SingleDate() && task.AllInstruments() && len(bars) > 0 && !e.archive.Has(task.Start) {
		if err := e.archive.WriteDate(task.Start, bars); err != nil {
			// Non-fatal: the rows are already in the bar store.
			e.log.Warn("archiving failed", "date", domain.FormatDate(task.Start), "err", err)
		}
	}

	outcomes := make(map[string]Outcome)
	for _, b := range bars {
		o := outcomes[b.TsCode]
		o.Status = store.StatusCompleted
		o.Rows++
		o.Retries = task.Retries
		if b.TradeDate.After(o.Date) {
			o.Date = b.TradeDate
		}
		outcomes[b.TsCode] = o
	}
	if err := e.tracker.RecordOutcomes(ctx, outcomes); err != nil {
		return err
	}
	return nil
}

// failTask marks a task failed and records the failure against the task's
// instruments (when they are enumerable).
func (e *Executor) failTask(ctx context.Context, task *FetchTask, result *ExecutionResult, cause error, retries int, permanent bool) {
	task.State = TaskFailed
	task.Retries = retries
	task.Err = cause.Error()
	if permanent {
		result.FailedPermanent++
	} else {
		result.FailedTransient++
	}

	for _, tsCode := range task.TsCodes {
		outcome := Outcome{Status: store.StatusError, Retries: retries, Err: cause}
		if err := e.tracker.RecordOutcome(ctx, tsCode, outcome); err != nil {
			e.log.Error("recording failure outcome", "tsCode", tsCode, "err", err)
		}
	}

	e.log.Error("task failed",
		"task", task.ID,
		"start", domain.FormatDate(task.Start),
		"end", domain.FormatDate(task.End),
		"permanent", permanent,
		"retries", retries,
		"err", cause,
	)
}

func skipRemaining(tasks []*FetchTask, result *ExecutionResult) {
	for _, t := range tasks {
		t.State = TaskSkipped
		result.Skipped++
	}
}
