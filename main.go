package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/driftline/drift.report/internal/api"
	"github.com/driftline/drift.report/internal/config"
	"github.com/driftline/drift.report/internal/db"
	"github.com/driftline/drift.report/internal/detect"
	"github.com/driftline/drift.report/internal/monitoring"
	"github.com/driftline/drift.report/internal/outcome"
	"github.com/driftline/drift.report/internal/timeutil"
)

var (
	dbFile     = flag.String("db", "drift.db", "Path to the SQLite database")
	listen     = flag.String("listen", ":8080", "Listen address for the API server")
	configFile = flag.String("config", "", "Path to a detection config JSON (defaults apply when omitted)")
	orgID      = flag.String("org", "default", "Organisation identifier stamped on emitted signals")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	if *verbose {
		monitoring.EnableDebug()
	}

	cfg := config.EmptyDetectionConfig()
	if *configFile != "" {
		var err error
		cfg, err = config.LoadDetectionConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	// Subcommands that manage their own database lifecycle.
	if flag.Arg(0) == "migrate" {
		db.RunMigrateCommand(flag.Args()[1:], *dbFile)
		return
	}

	command := flag.Arg(0)
	if command == "" {
		command = "serve"
	}

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	detector := &detect.Detector{
		DB:     database,
		Config: cfg,
		OrgID:  *orgID,
	}

	switch command {
	case "serve":
		serve(database, detector, cfg)
	case "detect":
		runDetect(detector, flag.Args()[1:])
	case "backfill":
		runBackfill(detector, flag.Args()[1:])
	case "recheck":
		runRecheck(database)
	default:
		printUsage()
		os.Exit(1)
	}
}

// serve runs the API server, the detection worker and the outcome tracker
// until interrupted.
func serve(database *db.DB, detector *detect.Detector, cfg *config.DetectionConfig) {
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := timeutil.RealClock{}

	worker := detect.NewWorker(detector, clock)
	worker.Start()
	defer worker.Stop()

	tracker := outcome.NewTracker(database, clock)
	tracker.Start()
	defer tracker.Stop()

	// Run both once at startup so a restart never waits a full interval to
	// catch up on the latest completed week.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := worker.RunOnce(ctx); err != nil {
			monitoring.Logf("startup detection run error: %v", err)
		}
		if err := tracker.RunOnce(ctx); err != nil {
			monitoring.Logf("startup recheck run error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(api.NewServer(database, detector.Config, clock).ServeMux()),
		}

		go func() {
			monitoring.Logf("API server listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		monitoring.Logf("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	monitoring.Logf("Graceful shutdown complete")
}
