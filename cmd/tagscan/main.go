// Command tagscan verifies one or more pages from the command line and
// prints their health reports as JSON, without running the HTTP service.
//
// Usage:
//
//	tagscan [-parallel N] [-timeout 2m] [-summary] [-db file] <url> [<url>...]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/tagsentry/tagsentry/internal/browser"
	"github.com/tagsentry/tagsentry/internal/config"
	"github.com/tagsentry/tagsentry/internal/consent"
	"github.com/tagsentry/tagsentry/internal/engine"
	"github.com/tagsentry/tagsentry/internal/interact"
	"github.com/tagsentry/tagsentry/internal/model"
	"github.com/tagsentry/tagsentry/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	parallel := flag.Int("parallel", 1, "number of pages verified concurrently (each holds a browser)")
	timeout := flag.Duration("timeout", 2*time.Minute, "per-page verification budget")
	summary := flag.Bool("summary", false, "print one status line per page instead of full reports")
	dbPath := flag.String("db", "", "also archive reports to this SQLite file")
	flag.Parse()

	urls := flag.Args()
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "usage: tagscan [-parallel N] [-timeout 2m] [-summary] [-db file] <url> [<url>...]")
		return 2
	}
	for _, u := range urls {
		if err := model.ValidateTargetURL(u); err != nil {
			fmt.Fprintf(os.Stderr, "tagscan: %s: %v\n", u, err)
			return 2
		}
	}

	level := slog.LevelWarn
	if os.Getenv("TAGSENTRY_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tagscan: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var db *storage.DB
	if *dbPath != "" {
		db, err = storage.Open(*dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tagscan: open archive: %v\n", err)
			return 1
		}
		defer db.Close()
	}

	factory := browser.NewChromeFactory(browser.FactoryConfig{
		ExecPath:           cfg.ChromePath,
		Headless:           cfg.Headless,
		NavTimeout:         cfg.NavTimeout,
		NavFallbackTimeout: cfg.NavFallbackTimeout,
	}, logger)

	eng := engine.New(factory, engine.Config{
		SettleWait: cfg.SettleWait,
		Consent: consent.Config{
			BeaconWait: cfg.ConsentWait,
		},
		Interact: interact.Config{
			LinkObserveWait: cfg.LinkObserveWait,
			FormObserveWait: cfg.FormObserveWait,
		},
	}, logger)

	reports := make([]*model.HealthReport, len(urls))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*parallel)
	for i, u := range urls {
		g.Go(func() error {
			runCtx, runCancel := context.WithTimeout(gctx, *timeout)
			defer runCancel()

			rep, err := eng.Verify(runCtx, engine.Request{URL: u})
			if err != nil {
				logger.Warn("verification aborted", "url", u, "error", err)
			}
			if db != nil && rep != nil {
				// Fresh context: runCtx may already be past its deadline.
				saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := db.SaveReport(saveCtx, rep.ID, rep.URL, string(rep.OverallStatus), rep.Timestamp, rep); err != nil {
					logger.Warn("archive failed", "url", u, "error", err)
				}
				saveCancel()
			}
			mu.Lock()
			reports[i] = rep
			mu.Unlock()
			// ERROR reports are a result, not a reason to cancel siblings.
			return nil
		})
	}
	_ = g.Wait()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	exit := 0
	for _, rep := range reports {
		if rep == nil {
			continue
		}
		switch rep.OverallStatus {
		case model.StatusFailing, model.StatusError:
			exit = 1
		}
		if *summary {
			fmt.Printf("%s\t%s\t%d issue(s)\n", rep.OverallStatus, rep.URL, len(rep.Issues))
			continue
		}
		if err := enc.Encode(rep); err != nil {
			fmt.Fprintf(os.Stderr, "tagscan: encode report: %v\n", err)
			return 1
		}
	}
	return exit
}
