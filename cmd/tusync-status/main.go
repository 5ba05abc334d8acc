package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"tusync/internal/calendar"
	"tusync/internal/config"
	"tusync/internal/domain"
	"tusync/internal/store"
	"tusync/internal/update"
	"tusync/internal/util"
)

// tusync-status reports store coverage and per-instrument download progress
// without touching the remote provider. -reset clears one instrument's
// progress so the next backfill re-fetches it from scratch.
func main() {
	startFlag := flag.String("start", "", "range start YYYY-MM-DD (default: planner start_date)")
	endFlag := flag.String("end", "", "range end YYYY-MM-DD (default: today)")
	codesFlag := flag.String("codes", "", "comma-separated ts_codes for per-instrument coverage")
	resetFlag := flag.String("reset", "", "ts_code whose download status to reset")
	flag.Parse()

	cfgPath := "config/tusync.yaml"
	if p := os.Getenv("TUSYNC_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger("warn", cfg.Logging.Format))

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	if *resetFlag != "" {
		if err := db.ResetStatus(ctx, *resetFlag); err != nil {
			log.Fatalf("resetting %s: %v", *resetFlag, err)
		}
		fmt.Printf("status reset for %s\n", *resetFlag)
		return
	}

	start, end, err := resolveRange(cfg, *startFlag, *endFlag)
	if err != nil {
		log.Fatalf("invalid range: %v", err)
	}

	cal, err := calendar.NewFromStrings(cfg.Calendar.Holidays)
	if err != nil {
		log.Fatalf("loading calendar: %v", err)
	}

	var instruments []domain.Instrument
	if *codesFlag != "" {
		all, err := db.ListInstruments(ctx, false)
		if err != nil {
			log.Fatalf("loading instruments: %v", err)
		}
		want := make(map[string]struct{})
		for _, c := range strings.Split(*codesFlag, ",") {
			if c = strings.TrimSpace(c); c != "" {
				want[c] = struct{}{}
			}
		}
		for _, inst := range all {
			if _, ok := want[inst.TsCode]; ok {
				instruments = append(instruments, inst)
			}
		}
	}

	report, err := update.NewGapAnalyzer(db, cal).Analyze(ctx, instruments, start, end)
	if err != nil {
		log.Fatalf("analyzing coverage: %v", err)
	}
	printReport(report)

	statuses, err := db.ListStatuses(ctx)
	if err != nil {
		log.Fatalf("listing statuses: %v", err)
	}
	printStatuses(statuses)
}

func printReport(r *update.CoverageReport) {
	fmt.Printf("range     %s .. %s\n", domain.FormatDate(r.Start), domain.FormatDate(r.End))
	fmt.Printf("coverage  %.1f%% (%d of %d trading days)\n",
		r.Ratio*100, len(r.TradingDays)-len(r.MissingDays), len(r.TradingDays))

	if len(r.MissingDays) > 0 {
		fmt.Printf("missing   %d days", len(r.MissingDays))
		shown := r.MissingDays
		if len(shown) > 10 {
			shown = shown[:10]
		}
		var dates []string
		for _, d := range shown {
			dates = append(dates, domain.FormatDate(d))
		}
		fmt.Printf(": %s", strings.Join(dates, " "))
		if len(r.MissingDays) > 10 {
			fmt.Printf(" ...")
		}
		fmt.Println()
	}

	if len(r.Instruments) == 0 {
		return
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TS_CODE\tCLASS\tPRESENT\tEXPECTED\tFIRST_MISSING")
	for _, cov := range r.Instruments {
		firstMissing := "-"
		if len(cov.MissingDates) > 0 {
			firstMissing = domain.FormatDate(cov.MissingDates[0])
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			cov.TsCode, cov.Class, cov.Present, cov.Expected, firstMissing)
	}
	w.Flush()
}

func printStatuses(recs []store.DownloadRecord) {
	if len(recs) == 0 {
		return
	}

	counts := make(map[store.DownloadStatus]int)
	for _, rec := range recs {
		counts[rec.Status]++
	}
	fmt.Printf("\nstatuses  completed=%d error=%d pending=%d downloading=%d\n",
		counts[store.StatusCompleted], counts[store.StatusError],
		counts[store.StatusPending], counts[store.StatusDownloading])

	var failed []store.DownloadRecord
	for _, rec := range recs {
		if rec.Status == store.StatusError {
			failed = append(failed, rec)
		}
	}
	if len(failed) == 0 {
		return
	}
	if len(failed) > 20 {
		failed = failed[:20]
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TS_CODE\tRETRIES\tLAST_SUCCESS\tERROR")
	for _, rec := range failed {
		lastSuccess := "-"
		if !rec.LastSuccessDate.IsZero() {
			lastSuccess = domain.FormatDate(rec.LastSuccessDate)
		}
		errMsg := rec.LastError
		if len(errMsg) > 60 {
			errMsg = errMsg[:60]
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", rec.TsCode, rec.RetryCount, lastSuccess, errMsg)
	}
	w.Flush()
}

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
