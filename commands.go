package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/driftline/drift.report/internal/db"
	"github.com/driftline/drift.report/internal/detect"
	"github.com/driftline/drift.report/internal/outcome"
	"github.com/driftline/drift.report/internal/timeutil"
)

// runDetect evaluates one week across the whole catalog and exits. Defaults
// to the latest completed week.
func runDetect(detector *detect.Detector, args []string) {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	weekArg := fs.String("week", "", "Week start to evaluate (YYYY-MM-DD Monday, default latest completed)")
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	clock := timeutil.RealClock{}
	week := timeutil.LatestCompletedWeek(clock.Now())
	if *weekArg != "" {
		var err error
		week, err = timeutil.ParseWeek(*weekArg)
		if err != nil {
			log.Fatalf("Invalid week: %v", err)
		}
	}

	worker := detect.NewWorker(detector, clock)
	if err := worker.RunWeek(context.Background(), week); err != nil {
		log.Fatalf("Detection run failed: %v", err)
	}
}

// runBackfill replays stored history through the pipeline for one team, for
// one signal type or the whole catalog.
func runBackfill(detector *detect.Detector, args []string) {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	teamID := fs.String("team", "", "Team to replay (required)")
	signalType := fs.String("type", "", "Signal type to replay (default: all)")
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	if *teamID == "" {
		log.Fatal("backfill requires -team")
	}

	types := make([]string, 0, len(detect.Catalog))
	if *signalType != "" {
		types = append(types, *signalType)
	} else {
		for _, st := range detect.Catalog {
			types = append(types, st.Key)
		}
	}

	ctx := context.Background()
	for _, key := range types {
		emitted, err := detector.ReplaySeries(ctx, *teamID, key)
		if err != nil {
			log.Fatalf("Backfill %s failed: %v", key, err)
		}
		fmt.Printf("%s: %d signals\n", key, emitted)
	}
}

// runRecheck runs the outcome tracker once and exits.
func runRecheck(database *db.DB) {
	tracker := outcome.NewTracker(database, timeutil.RealClock{})
	if err := tracker.RunOnce(context.Background()); err != nil {
		log.Fatalf("Recheck run failed: %v", err)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: drift-report [flags] [command]

Commands:
  serve      run the API server, detection worker and outcome tracker (default)
  detect     evaluate one week across all signal types and exit
  backfill   replay a team's stored history through the pipeline
  recheck    process due intervention rechecks once and exit
  migrate    manage database schema migrations

Flags:
`)
	flag.PrintDefaults()
}
