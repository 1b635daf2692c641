package detect

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftline/drift.report/internal/monitoring"
	"github.com/driftline/drift.report/internal/timeutil"
)

// Worker periodically evaluates every team with fresh data against every
// signal type in the catalog, for the latest completed week. Designed to run
// hourly; the weekly upsert semantics make repeated runs over the same week
// harmless.
type Worker struct {
	Detector *Detector
	Clock    timeutil.Clock
	Interval time.Duration
	StopChan chan struct{}
}

// NewWorker builds a worker with the interval taken from configuration.
func NewWorker(d *Detector, clock timeutil.Clock) *Worker {
	interval, err := time.ParseDuration(d.Config.GetWorkerInterval())
	if err != nil {
		// Validate() rejects bad durations at load time; this covers the
		// zero-value config path.
		interval = time.Hour
	}
	return &Worker{
		Detector: d,
		Clock:    clock,
		Interval: interval,
		StopChan: make(chan struct{}),
	}
}

// Start runs the periodic worker loop in a goroutine.
func (w *Worker) Start() {
	go func() {
		ticker := w.Clock.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				if err := w.RunOnce(context.Background()); err != nil {
					monitoring.Logf("detection worker run error: %v", err)
				}
			case <-w.StopChan:
				return
			}
		}
	}()
}

// Stop requests the worker to stop.
func (w *Worker) Stop() {
	close(w.StopChan)
}

// RunOnce evaluates the latest completed week across the whole catalog. Teams
// fan out in parallel up to the configured limit; teams are independent so a
// failure on one does not block the rest, but the first error is reported.
func (w *Worker) RunOnce(ctx context.Context) error {
	week := timeutil.LatestCompletedWeek(w.Clock.Now())
	return w.RunWeek(ctx, week)
}

// RunWeek evaluates one specific week across the whole catalog.
func (w *Worker) RunWeek(ctx context.Context, week time.Time) error {
	week = timeutil.TruncateWeek(week)
	start := w.Clock.Now()

	var evaluated, emitted atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.Detector.Config.GetWorkerParallelism())

	for _, st := range Catalog {
		teams, err := w.Detector.DB.TeamsWithMetric(ctx, st.MetricKey, week)
		if err != nil {
			return fmt.Errorf("list teams for %s: %w", st.Key, err)
		}

		for _, teamID := range teams {
			st, teamID := st, teamID
			g.Go(func() error {
				s, err := w.Detector.EvaluateWeek(gctx, teamID, st, week)
				if err != nil {
					return fmt.Errorf("evaluate %s/%s: %w", teamID, st.Key, err)
				}
				evaluated.Add(1)
				if s != nil {
					emitted.Add(1)
					monitoring.Debugf("signal %s team=%s severity=%s z=%.2f",
						st.Key, teamID, s.Severity, s.Deviation.RobustZ)
				}
				return nil
			})
		}
	}

	err := g.Wait()
	monitoring.Logf("detection run week=%s evaluated=%d emitted=%d elapsed=%s",
		timeutil.FormatWeek(week), evaluated.Load(), emitted.Load(), w.Clock.Since(start))
	return err
}
