package update

import (
	"log/slog"
	"sort"
	"time"

	"tusync/internal/domain"
)

// Planner turns a coverage report into an ordered, quota-bounded UpdatePlan.
// Each task maps to exactly one remote call, so a task's quota cost is one
// call (one point, on point-budgeted providers).
type Planner struct {
	maxDatesPerTask int // per-call date-span ceiling for instrument-scoped tasks
	log             *slog.Logger
}

// NewPlanner creates a Planner. maxDatesPerTask bounds the date span of a
// single instrument-scoped call so no task can exceed the provider's
// per-call row ceiling.
func NewPlanner(maxDatesPerTask int) *Planner {
	if maxDatesPerTask < 1 {
		maxDatesPerTask = 1
	}
	return &Planner{
		maxDatesPerTask: maxDatesPerTask,
		log:             slog.Default().With("component", "planner"),
	}
}

// PlanRequest bounds one planning cycle.
type PlanRequest struct {
	Strategy    Strategy
	QuotaBudget int      // remaining calls for the planning horizon
	MaxTasks    int      // task-count ceiling per cycle
	RecentDays  int      // RecentDays strategy: how many days to refresh
	TsCodes     []string // SpecificInstruments strategy: the subset to backfill
}

// Plan builds an UpdatePlan from the report under the request's ceilings.
// The plan is truncated, never rejected, when a ceiling is hit; leftover gap
// is deferred to a future cycle. Returns ErrEmptyPlan when the budget is
// zero or the strategy's scope has nothing left to fetch.
func (p *Planner) Plan(report *CoverageReport, req PlanRequest) (*UpdatePlan, error) {
	if req.QuotaBudget <= 0 {
		return nil, ErrEmptyPlan
	}

	var candidates []*FetchTask
	switch req.Strategy {
	case RecentDays:
		candidates = p.recentDayTasks(report, req.RecentDays)
	case SpecificInstruments:
		candidates = p.instrumentTasks(report, req.TsCodes)
	default: // MissingDays
		candidates = p.missingDayTasks(report)
	}

	if len(candidates) == 0 {
		return nil, ErrEmptyPlan
	}

	plan := &UpdatePlan{
		Strategy:  req.Strategy,
		CreatedAt: time.Now().UTC(),
	}
	for _, task := range candidates {
		if req.MaxTasks > 0 && len(plan.Tasks) >= req.MaxTasks {
			break
		}
		if plan.QuotaCost+task.QuotaCost > req.QuotaBudget {
			break
		}
		task.ID = len(plan.Tasks) + 1
		plan.Tasks = append(plan.Tasks, task)
		plan.QuotaCost += task.QuotaCost
	}

	if len(plan.Tasks) == 0 {
		// Budget too small for even one task.
		return nil, ErrEmptyPlan
	}

	p.log.Info("plan created",
		"strategy", string(req.Strategy),
		"tasks", len(plan.Tasks),
		"deferred", len(candidates)-len(plan.Tasks),
		"quotaCost", plan.QuotaCost,
	)
	return plan, nil
}

// missingDayTasks emits one all-instrument task per missing trading day,
// oldest first: closing historical gaps beats re-covering recent data.
func (p *Planner) missingDayTasks(report *CoverageReport) []*FetchTask {
	tasks := make([]*FetchTask, 0, len(report.MissingDays))
	for i, day := range report.MissingDays {
		tasks = append(tasks, &FetchTask{
			Start:     day,
			End:       day,
			QuotaCost: 1,
			Priority:  i,
			State:     TaskPending,
		})
	}
	return tasks
}

// recentDayTasks emits one all-instrument task per recent trading day,
// newest first: freshness beats completeness for the daily cycle.
func (p *Planner) recentDayTasks(report *CoverageReport, n int) []*FetchTask {
	days := report.TradingDays
	if n > 0 && len(days) > n {
		days = days[len(days)-n:]
	}

	tasks := make([]*FetchTask, 0, len(days))
	for i := len(days) - 1; i >= 0; i-- {
		tasks = append(tasks, &FetchTask{
			Start:     days[i],
			End:       days[i],
			QuotaCost: 1,
			Priority:  len(days) - 1 - i,
			State:     TaskPending,
		})
	}
	return tasks
}

// instrumentTasks emits tasks covering each requested instrument's missing
// dates, chunked so one task never spans more than maxDatesPerTask trading
// days. Tasks are ordered oldest-missing-date-first across instruments.
func (p *Planner) instrumentTasks(report *CoverageReport, tsCodes []string) []*FetchTask {
	requested := make(map[string]struct{}, len(tsCodes))
	for _, code := range tsCodes {
		requested[code] = struct{}{}
	}

	var tasks []*FetchTask
	for _, cov := range report.Instruments {
		if len(requested) > 0 {
			if _, ok := requested[cov.TsCode]; !ok {
				continue
			}
		}

		// Chunk the missing dates into contiguous runs bounded by the
		// per-call ceiling. Missing dates are ascending, so a chunk's span
		// is [first, last] of its slice.
		missing := cov.MissingDates
		for len(missing) > 0 {
			n := len(missing)
			if n > p.maxDatesPerTask {
				n = p.maxDatesPerTask
			}
			tasks = append(tasks, &FetchTask{
				TsCodes:   []string{cov.TsCode},
				Start:     missing[0],
				End:       missing[n-1],
				QuotaCost: 1,
				State:     TaskPending,
			})
			missing = missing[n:]
		}
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].Start.Equal(tasks[j].Start) {
			return tasks[i].Start.Before(tasks[j].Start)
		}
		return tasks[i].TsCodes[0] < tasks[j].TsCodes[0]
	})
	for i, task := range tasks {
		task.Priority = i
	}
	return tasks
}

// FirstDates is a debugging helper: the first n task start dates of a plan.
func (plan *UpdatePlan) FirstDates(n int) []string {
	var out []string
	for _, t := range plan.Tasks {
		if len(out) >= n {
			break
		}
		out = append(out, domain.FormatDate(t.Start))
	}
	return out
}
