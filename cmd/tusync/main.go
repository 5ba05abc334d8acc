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

// tusync runs one daily refresh cycle: make sure the instrument catalog is
// loaded, then fetch the most recent trading days that the quota allows.
func main() {
	days := flag.Int("days", 5, "number of recent trading days to refresh")
	refreshCatalog := flag.Bool("refresh-catalog", false, "re-fetch the instrument catalog before planning")
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

	if err := ensureCatalog(ctx, db, client, limiter, cfg, *refreshCatalog); err != nil {
		log.Fatalf("loading instrument catalog: %v", err)
	}

	today := domain.Midnight(time.Now())
	recent := cal.RecentTradingDays(today, *days)
	if len(recent) == 0 {
		slog.Info("no recent trading days in range, nothing to do")
		return
	}

	analyzer := update.NewGapAnalyzer(db, cal)
	// Recent-day refresh only needs global day coverage.
	report, err := analyzer.Analyze(ctx, nil, recent[len(recent)-1], recent[0])
	if err != nil {
		log.Fatalf("analyzing coverage: %v", err)
	}

	planner := update.NewPlanner(cfg.Planner.MaxDatesPerTask)
	plan, err := planner.Plan(report, update.PlanRequest{
		Strategy:    update.RecentDays,
		QuotaBudget: limiter.Budget(),
		MaxTasks:    cfg.Planner.MaxTasksPerCycle,
		RecentDays:  *days,
	})
	if errors.Is(err, update.ErrEmptyPlan) {
		slog.Info("nothing to fetch, store is current")
		return
	}
	if err != nil {
		log.Fatalf("planning: %v", err)
	}

	executor := update.NewExecutor(client, db, update.NewTracker(db), limiter,
		store.NewArchive(cfg.Storage.DataDir), update.ExecutorConfig{
			MaxRetries:   cfg.Executor.MaxRetries,
			BackoffBase:  cfg.Executor.BackoffBase(),
			MaxQuotaWait: cfg.Executor.MaxQuotaWait(),
			CallTimeout:  cfg.Executor.CallTimeout(),
		})

	result, err := executor.Execute(ctx, plan)
	printResult(result)
	if err != nil {
		log.Fatalf("execution stopped early: %v", err)
	}
}

// ensureCatalog fetches the instrument catalog when it is missing or a
// refresh was requested. The listing call counts against the quota like any
// other call.
func ensureCatalog(ctx context.Context, db *store.SQLiteStore, client provider.Client, limiter *quota.Limiter, cfg *config.Config, force bool) error {
	if !force {
		existing, err := db.ListInstruments(ctx, false)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}
	}

	if err := limiter.Wait(ctx, cfg.Executor.MaxQuotaWait()); err != nil {
		return err
	}

	var instruments []domain.Instrument
	err := util.Retry(ctx, cfg.Executor.MaxRetries, cfg.Executor.BackoffBase(), func() error {
		var err error
		instruments, err = client.ListInstruments(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if err := db.UpsertInstruments(ctx, instruments); err != nil {
		return err
	}

	slog.Info("instrument catalog refreshed", "count", len(instruments))
	return nil
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
