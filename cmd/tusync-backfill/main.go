package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tusync/internal/calendar"
	"tusync/internal/config"
	"tusync/internal/domain"
	"tusync/internal/provider"
	"tusync/internal/quota"
	"tusync/internal/store"
	"tusync/internal/update"
	"tusync/internal/util"
)

// tusync-backfill closes historical gaps. Without -codes it fetches whole
// missing trading days across all instruments; with -codes it backfills the
// named instruments' missing dates. It keeps planning fresh cycles until the
// range is covered or the quota runs out.
func main() {
	startFlag := flag.String("start", "", "range start YYYY-MM-DD (default: planner start_date)")
	endFlag := flag.String("end", "", "range end YYYY-MM-DD (default: today)")
	codesFlag := flag.String("codes", "", "comma-separated ts_codes to backfill (default: all, by missing day)")
	flag.Parse()

	cfgPath := "config/tusync.yaml"
	if p := os.Getenv("TUSYNC_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	start, end, err := resolveRange(cfg, *startFlag, *endFlag)
	if err != nil {
		log.Fatalf("invalid range: %v", err)
	}

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer db.Close()

	cal, err := calendar.NewFromStrings(cfg.Calendar.Holidays)
	if err != nil {
		log.Fatalf("loading calendar: %v", err)
	}

	client, err := buildClient(cfg)
	if err != nil {
		log.Fatalf("building provider client: %v", err)
	}

	limiter := quota.NewLimiter(quota.Limits{
		PerMinute:   cfg.Quota.CallsPerMinute,
		PerHour:     cfg.Quota.CallsPerHour,
		PerDay:      cfg.Quota.CallsPerDay,
		BufferRatio: cfg.Quota.BufferRatio,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	strategy := update.MissingDays
	var codes []string
	var instruments []domain.Instrument
	if *codesFlag != "" {
		strategy = update.SpecificInstruments
		codes = splitCodes(*codesFlag)
		instruments, err = selectInstruments(ctx, db, codes)
		if err != nil {
			log.Fatalf("loading instruments: %v", err)
		}
	}

	analyzer := update.NewGapAnalyzer(db, cal)
	planner := update.NewPlanner(cfg.Planner.MaxDatesPerTask)
	executor := update.NewExecutor(client, db, update.NewTracker(db), limiter,
		store.NewArchive(cfg.Storage.DataDir), update.ExecutorConfig{
			MaxRetries:   cfg.Executor.MaxRetries,
			BackoffBase:  cfg.Executor.BackoffBase(),
			MaxQuotaWait: cfg.Executor.MaxQuotaWait(),
			CallTimeout:  cfg.Executor.CallTimeout(),
		})

	slog.Info("backfill starting",
		"strategy", string(strategy),
		"start", domain.FormatDate(start),
		"end", domain.FormatDate(end),
		"codes", len(codes),
	)

	// Each cycle re-analyzes coverage, so work completed in a previous cycle
	// (or by a concurrent process) is never fetched twice.
	for cycle := 1; ; cycle++ {
		if ctx.Err() != nil {
			slog.Info("interrupted, stopping")
			return
		}

		report, err := analyzer.Analyze(ctx, instruments, start, end)
		if err != nil {
			log.Fatalf("analyzing coverage: %v", err)
		}

		plan, err := planner.Plan(report, update.PlanRequest{
			Strategy:    strategy,
			QuotaBudget: limiter.Budget(),
			MaxTasks:    cfg.Planner.MaxTasksPerCycle,
			TsCodes:     codes,
		})
		if errors.Is(err, update.ErrEmptyPlan) {
			slog.Info("backfill complete", "cycles", cycle-1, "coverage", fmt.Sprintf("%.1f%%", report.Ratio*100))
			return
		}
		if err != nil {
			log.Fatalf("planning: %v", err)
		}

		slog.Info("cycle planned", "cycle", cycle, "tasks", len(plan.Tasks), "firstDates", plan.FirstDates(3))

		result, err := executor.Execute(ctx, plan)
		printResult(result)
		if err != nil {
			if errors.Is(err, quota.ErrQuotaExhausted) {
				slog.Info("quota exhausted, resume later")
				return
			}
			log.Fatalf("execution stopped early: %v", err)
		}
		if result.Succeeded == 0 {
			slog.Warn("cycle made no progress, stopping", "cycle", cycle)
			return
		}
	}
}

// resolveRange applies the configured defaults to the flag values.
func resolveRange(cfg *config.Config, startFlag, endFlag string) (start, end time.Time, err error) {
	startStr := startFlag
	if startStr == "" {
		startStr = cfg.Planner.StartDate
	}
	start, err = domain.ParseDate(startStr)
	if err != nil {
		return start, end, err
	}

	end = domain.Midnight(time.Now())
	if endFlag != "" {
		end, err = domain.ParseDate(endFlag)
		if err != nil {
			return start, end, err
		}
	}
	return start, end, nil
}

func splitCodes(s string) []string {
	var codes []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	return codes
}

// selectInstruments resolves the requested codes against the stored catalog
// so the analyzer sees listing dates. Unknown codes still get a bare entry:
// better to attempt them than to drop them silently.
func selectInstruments(ctx context.Context, db *store.SQLiteStore, codes []string) ([]domain.Instrument, error) {
	all, err := db.ListInstruments(ctx, false)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]domain.Instrument, len(all))
	for _, inst := range all {
		byCode[inst.TsCode] = inst
	}

	instruments := make([]domain.Instrument, 0, len(codes))
	for _, code := range codes {
		if inst, ok := byCode[code]; ok {
			instruments = append(instruments, inst)
			continue
		}
		slog.Warn("code not in catalog, assuming always active", "tsCode", code)
		instruments = append(instruments, domain.Instrument{TsCode: code, Status: domain.Listed})
	}
	return instruments, nil
}

func buildClient(cfg *config.Config) (provider.Client, error) {
	switch cfg.Provider.Kind {
	case "tushare":
		if cfg.Provider.Token == "" {
			return nil, fmt.Errorf("tushare provider requires a token (set TUSHARE_TOKEN)")
		}
		return provider.NewTushareClient(cfg.Provider.Token, cfg.Provider.APIURL, cfg.Provider.Timeout()), nil
	case "alpaca":
		return provider.NewAlpacaClient(
			cfg.Provider.AlpacaAPIKey,
			cfg.Provider.AlpacaAPISecret,
			cfg.Provider.AlpacaDataURL,
			cfg.Provider.AlpacaBaseURL,
		), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Provider.Kind)
	}
}

func printResult(r *update.ExecutionResult) {
	if r == nil {
		return
	}
	fmt.Printf("attempted=%d succeeded=%d failed=%d skipped=%d rows=%d quota=%d elapsed=%s\n",
		r.Attempted, r.Succeeded, r.FailedTransient+r.FailedPermanent, r.Skipped,
		r.RowsStored, r.QuotaUsed, r.Duration.Round(time.Millisecond))
}
