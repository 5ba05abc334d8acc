package update

import (
	"errors"
	"testing"
	"time"

	"tusync/internal/domain"
)

func missingDaysReport(days ...string) *CoverageReport {
	r := &CoverageReport{}
	for _, d := range days {
		r.TradingDays = append(r.TradingDays, date(d))
		r.MissingDays = append(r.MissingDays, date(d))
	}
	if len(days) > 0 {
		r.Start, r.End = date(days[0]), date(days[len(days)-1])
	}
	return r
}

func TestPlanMissingDaysWithinBudget(t *testing.T) {
	report := missingDaysReport("2025-01-06", "2025-01-07", "2025-01-08")
	p := NewPlanner(30)

	plan, err := p.Plan(report, PlanRequest{
		Strategy:    MissingDays,
		QuotaBudget: 3,
		MaxTasks:    10,
	})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}

	if len(plan.Tasks) != 3 {
		t.Fatalf("got %d tasks, want 3", len(plan.Tasks))
	}
	if plan.QuotaCost != 3 {
		t.Errorf("QuotaCost = %d, want 3", plan.QuotaCost)
	}
	want := []string{"2025-01-06", "2025-01-07", "2025-01-08"}
	for i, w := range want {
		task := plan.Tasks[i]
		if got := domain.FormatDate(task.Start); got != w {
			t.Errorf("task %d start = %s, want %s (oldest first)", i, got, w)
		}
		if !task.SingleDate() || !task.AllInstruments() {
			t.Errorf("task %d should be a single-date all-instrument fetch", i)
		}
		if task.QuotaCost != 1 {
			t.Errorf("task %d cost = %d, want 1", i, task.QuotaCost)
		}
		if task.State != TaskPending {
			t.Errorf("task %d state = %s, want pending", i, task.State)
		}
	}
}

func TestPlanTruncatedByBudget(t *testing.T) {
	report := missingDaysReport("2025-01-06", "2025-01-07", "2025-01-08", "2025-01-09")
	p := NewPlanner(30)

	plan, err := p.Plan(report, PlanRequest{Strategy: MissingDays, QuotaBudget: 2, MaxTasks: 10})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(plan.Tasks) != 2 {
		t.Fatalf("got %d tasks, want 2 (budget ceiling)", len(plan.Tasks))
	}
	// Oldest gaps win when the budget can't cover everything.
	if got := domain.FormatDate(plan.Tasks[0].Start); got != "2025-01-06" {
		t.Errorf("first task = %s, want 2025-01-06", got)
	}
}

func TestPlanTruncatedByMaxTasks(t *testing.T) {
	report := missingDaysReport("2025-01-06", "2025-01-07", "2025-01-08", "2025-01-09")
	p := NewPlanner(30)

	plan, err := p.Plan(report, PlanRequest{Strategy: MissingDays, QuotaBudget: 100, MaxTasks: 3})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(plan.Tasks) != 3 {
		t.Errorf("got %d tasks, want 3 (task ceiling)", len(plan.Tasks))
	}
}

func TestPlanZeroBudget(t *testing.T) {
	report := missingDaysReport("2025-01-06")
	p := NewPlanner(30)

	_, err := p.Plan(report, PlanRequest{Strategy: MissingDays, QuotaBudget: 0, MaxTasks: 10})
	if !errors.Is(err, ErrEmptyPlan) {
		t.Fatalf("zero budget should yield ErrEmptyPlan, got %v", err)
	}
}

func TestPlanNothingMissing(t *testing.T) {
	report := &CoverageReport{
		Start: date("2025-01-06"), End: date("2025-01-10"),
		TradingDays: []time.Time{date("2025-01-06")},
	}
	p := NewPlanner(30)

	_, err := p.Plan(report, PlanRequest{Strategy: MissingDays, QuotaBudget: 10, MaxTasks: 10})
	if !errors.Is(err, ErrEmptyPlan) {
		t.Fatalf("fully covered range should yield ErrEmptyPlan, got %v", err)
	}
}

func TestPlanRecentDaysNewestFirst(t *testing.T) {
	report := missingDaysReport("2025-01-06", "2025-01-07", "2025-01-08", "2025-01-09", "2025-01-10")
	p := NewPlanner(30)

	plan, err := p.Plan(report, PlanRequest{
		Strategy:    RecentDays,
		QuotaBudget: 100,
		MaxTasks:    100,
		RecentDays:  3,
	})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}

	want := []string{"2025-01-10", "2025-01-09", "2025-01-08"}
	if len(plan.Tasks) != len(want) {
		t.Fatalf("got %d tasks, want %d", len(plan.Tasks), len(want))
	}
	for i, w := range want {
		if got := domain.FormatDate(plan.Tasks[i].Start); got != w {
			t.Errorf("task %d = %s, want %s (newest first)", i, got, w)
		}
	}
}

func TestPlanSpecificInstrumentsChunked(t *testing.T) {
	report := &CoverageReport{
		Instruments: []InstrumentCoverage{
			{
				TsCode: "000001.SZ",
				MissingDates: []time.Time{
					date("2025-01-06"), date("2025-01-07"), date("2025-01-08"),
					date("2025-01-09"), date("2025-01-10"),
				},
				Class: PartialCoverage,
			},
		},
	}
	p := NewPlanner(2)

	plan, err := p.Plan(report, PlanRequest{
		Strategy:    SpecificInstruments,
		QuotaBudget: 100,
		MaxTasks:    100,
		TsCodes:     []string{"000001.SZ"},
	})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}

	if len(plan.Tasks) != 3 {
		t.Fatalf("got %d tasks, want 3 chunks of <=2 dates", len(plan.Tasks))
	}
	spans := [][2]string{
		{"2025-01-06", "2025-01-07"},
		{"2025-01-08", "2025-01-09"},
		{"2025-01-10", "2025-01-10"},
	}
	for i, span := range spans {
		task := plan.Tasks[i]
		if domain.FormatDate(task.Start) != span[0] || domain.FormatDate(task.End) != span[1] {
			t.Errorf("task %d spans %s..%s, want %s..%s", i,
				domain.FormatDate(task.Start), domain.FormatDate(task.End), span[0], span[1])
		}
		if len(task.TsCodes) != 1 || task.TsCodes[0] != "000001.SZ" {
			t.Errorf("task %d codes = %v", i, task.TsCodes)
		}
	}
}

func TestPlanSpecificInstrumentsOrdering(t *testing.T) {
	report := &CoverageReport{
		Instruments: []InstrumentCoverage{
			{TsCode: "600000.SH", MissingDates: []time.Time{date("2025-01-06")}, Class: PartialCoverage},
			{TsCode: "000001.SZ", MissingDates: []time.Time{date("2025-01-06")}, Class: PartialCoverage},
			{TsCode: "300750.SZ", MissingDates: []time.Time{date("2025-01-08")}, Class: PartialCoverage},
		},
	}
	p := NewPlanner(30)

	plan, err := p.Plan(report, PlanRequest{
		Strategy:    SpecificInstruments,
		QuotaBudget: 100,
		MaxTasks:    100,
	})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}

	// Oldest start first; ties broken by ts_code.
	wantCodes := []string{"000001.SZ", "600000.SH", "300750.SZ"}
	for i, w := range wantCodes {
		if got := plan.Tasks[i].TsCodes[0]; got != w {
			t.Errorf("task %d code = %s, want %s", i, got, w)
		}
	}
}

func TestPlanSpecificInstrumentsFiltersCodes(t *testing.T) {
	report := &CoverageReport{
		Instruments: []InstrumentCoverage{
			{TsCode: "000001.SZ", MissingDates: []time.Time{date("2025-01-06")}, Class: PartialCoverage},
			{TsCode: "600000.SH", MissingDates: []time.Time{date("2025-01-06")}, Class: PartialCoverage},
		},
	}
	p := NewPlanner(30)

	plan, err := p.Plan(report, PlanRequest{
		Strategy:    SpecificInstruments,
		QuotaBudget: 100,
		MaxTasks:    100,
		TsCodes:     []string{"600000.SH"},
	})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(plan.Tasks) != 1 || plan.Tasks[0].TsCodes[0] != "600000.SH" {
		t.Errorf("plan should only cover the requested code: %+v", plan.Tasks)
	}
}

func TestPlanTaskIDsSequential(t *testing.T) {
	report := missingDaysReport("2025-01-06", "2025-01-07", "2025-01-08")
	p := NewPlanner(30)

	plan, err := p.Plan(report, PlanRequest{Strategy: MissingDays, QuotaBudget: 10, MaxTasks: 10})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	for i, task := range plan.Tasks {
		if task.ID != i+1 {
			t.Errorf("task %d has ID %d, want %d", i, task.ID, i+1)
		}
	}
}
