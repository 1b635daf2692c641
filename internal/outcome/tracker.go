package outcome

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/driftline/drift.report/internal/db"
	"github.com/driftline/drift.report/internal/monitoring"
	"github.com/driftline/drift.report/internal/timeutil"
)

// Errors surfaced by the tracker.
var (
	// ErrMissingBaseline means the intervention's before value is absent or
	// zero, so no comparison is possible.
	ErrMissingBaseline = errors.New("intervention has no usable before value")

	// ErrStaleRecheck means no observation has landed for the metric since
	// the recheck date; the intervention stays pending until data arrives.
	ErrStaleRecheck = errors.New("no observation since recheck date")
)

// Tracker periodically scans for interventions whose recheck date has
// arrived, measures the metric again and records the outcome. The write-once
// outcome semantics live in the store; the tracker is safe to run on several
// processes at once.
type Tracker struct {
	DB       *db.DB
	Clock    timeutil.Clock
	Interval time.Duration
	StopChan chan struct{}
}

// NewTracker builds a tracker with a daily cadence; recheck dates have day
// granularity so anything faster is wasted work.
func NewTracker(d *db.DB, clock timeutil.Clock) *Tracker {
	return &Tracker{
		DB:       d,
		Clock:    clock,
		Interval: 24 * time.Hour,
		StopChan: make(chan struct{}),
	}
}

// Start runs the periodic recheck loop in a goroutine.
func (tr *Tracker) Start() {
	go func() {
		ticker := tr.Clock.NewTicker(tr.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				if err := tr.RunOnce(context.Background()); err != nil {
					monitoring.Logf("outcome tracker run error: %v", err)
				}
			case <-tr.StopChan:
				return
			}
		}
	}()
}

// Stop requests the tracker to stop.
func (tr *Tracker) Stop() {
	close(tr.StopChan)
}

// RunOnce rechecks every due intervention. Per-intervention failures are
// logged and skipped so one bad record cannot wedge the queue; only storage
// errors listing the queue abort the run.
func (tr *Tracker) RunOnce(ctx context.Context) error {
	now := tr.Clock.Now()
	due, err := tr.DB.DueInterventions(ctx, now)
	if err != nil {
		return err
	}

	completed := 0
	for _, iv := range due {
		err := tr.Recheck(ctx, iv, now)
		switch {
		case err == nil:
			completed++
		case errors.Is(err, ErrStaleRecheck):
			monitoring.Debugf("intervention %s waiting for data since %s",
				iv.InterventionID, iv.RecheckDate.Format(db.DateFormat))
		case errors.Is(err, ErrMissingBaseline):
			monitoring.Logf("intervention %s has no usable before value, parked for manual entry",
				iv.InterventionID)
		case errors.Is(err, db.ErrOutcomeAlreadyComputed):
			// Another process got there first; the stored result stands.
		default:
			monitoring.Logf("recheck %s failed: %v", iv.InterventionID, err)
		}
	}

	if len(due) > 0 {
		monitoring.Logf("outcome tracker: %d due, %d completed", len(due), completed)
	}
	return nil
}

// Recheck measures one intervention's metric against its before value and
// records the outcome. The comparison uses the latest completed week's
// observation; if nothing has landed on or after the recheck date the
// intervention is parked as pending_recheck and retried next run. An absent
// or zero before value is parked the same way so someone can supply the
// baseline by hand; percent change is never computed against it.
func (tr *Tracker) Recheck(ctx context.Context, iv *db.Intervention, now time.Time) error {
	if iv.MetricBefore == nil || *iv.MetricBefore == 0 {
		if serr := tr.DB.UpdateInterventionStatus(ctx, iv.InterventionID, db.InterventionPendingRecheck); serr != nil {
			return serr
		}
		return fmt.Errorf("intervention %s: %w", iv.InterventionID, ErrMissingBaseline)
	}

	polarity, err := ForSignalType(iv.SignalType)
	if err != nil {
		return err
	}

	after, err := tr.latestObservation(ctx, iv, now)
	if errors.Is(err, ErrStaleRecheck) {
		if serr := tr.DB.UpdateInterventionStatus(ctx, iv.InterventionID, db.InterventionPendingRecheck); serr != nil {
			return serr
		}
		return err
	}
	if err != nil {
		return err
	}

	before := *iv.MetricBefore
	change := PercentChange(before, after)
	improved := polarity.Improved(before, after)

	if err := tr.DB.CompleteOutcome(ctx, iv.InterventionID, after, change, improved); err != nil {
		return err
	}

	summary := fmt.Sprintf("%s %+.1f%%", iv.MetricKey, change)
	if improved {
		summary += " (improved)"
	} else {
		summary += " (not improved)"
	}
	if err := tr.DB.SetSignalOutcome(ctx, iv.SignalID, summary); err != nil {
		// The outcome itself is committed; a missing signal only loses the
		// back-reference.
		if !errors.Is(err, db.ErrSignalNotFound) {
			return err
		}
		monitoring.Logf("intervention %s references missing signal %s", iv.InterventionID, iv.SignalID)
	}
	return nil
}

// latestObservation finds the most recent completed week's value for the
// intervention's metric, requiring it to fall on or after the recheck date.
func (tr *Tracker) latestObservation(ctx context.Context, iv *db.Intervention, now time.Time) (float64, error) {
	week := timeutil.LatestCompletedWeek(now)
	recheckWeek := timeutil.TruncateWeek(iv.RecheckDate)

	for !week.Before(recheckWeek) {
		o, err := tr.DB.GetObservation(ctx, iv.TeamID, iv.MetricKey, week)
		if err == nil {
			return o.Value, nil
		}
		if !errors.Is(err, db.ErrNoObservation) {
			return 0, err
		}
		week = timeutil.PrevWeek(week)
	}
	return 0, fmt.Errorf("intervention %s: %w", iv.InterventionID, ErrStaleRecheck)
}
