// Command gen-metrics seeds a database with synthetic weekly metric series
// for local development: stable baselines with a configurable drift injected
// into the last few weeks so the pipeline has something to find.
package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/driftline/drift.report/internal/db"
	"github.com/driftline/drift.report/internal/detect"
	"github.com/driftline/drift.report/internal/timeutil"
)

// nominal per-metric weekly levels for a healthy team.
var nominal = map[string]float64{
	"meeting_hours":            21,
	"meetings_count":           18,
	"back_to_back_ratio":       0.25,
	"large_meeting_hours":      4,
	"recurring_meeting_hours":  9,
	"after_hours_minutes":      90,
	"evening_minutes":          60,
	"weekend_minutes":          20,
	"late_night_minutes":       10,
	"focus_hours":              14,
	"longest_focus_block":      2.5,
	"calendar_fragmentation":   0.4,
	"context_switches":         12,
	"response_latency_minutes": 45,
	"chat_latency_minutes":     25,
	"email_latency_minutes":    120,
	"mention_backlog":          6,
}

func main() {
	dbFile := flag.String("db", "drift.db", "database path")
	teams := flag.String("teams", "team-alpha,team-beta,team-gamma", "comma-separated team ids")
	weeks := flag.Int("weeks", 12, "weeks of history to generate")
	driftTeam := flag.String("drift-team", "team-alpha", "team that drifts (empty for none)")
	driftType := flag.String("drift-type", "coordination-risk", "signal type to push out of band")
	driftWeeks := flag.Int("drift-weeks", 3, "trailing weeks of drift")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	st, err := detect.LookupSignalType(*driftType)
	if err != nil && *driftTeam != "" {
		log.Fatalf("Unknown drift type: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))
	ctx := context.Background()
	latest := timeutil.LatestCompletedWeek(time.Now())

	landed := 0
	for _, teamID := range strings.Split(*teams, ",") {
		teamID = strings.TrimSpace(teamID)
		for metricKey, level := range nominal {
			for i := *weeks - 1; i >= 0; i-- {
				week := latest.AddDate(0, 0, -7*i)
				value := level * (1 + 0.05*rng.NormFloat64())

				drifting := teamID == *driftTeam && i < *driftWeeks &&
					(metricKey == st.MetricKey || isDriverOf(st, metricKey))
				if drifting {
					value *= 1.5
				}

				err := database.UpsertObservation(ctx, db.MetricObservation{
					TeamID:           teamID,
					MetricKey:        metricKey,
					WeekStart:        week,
					Value:            value,
					SampleSize:       9 + rng.Intn(3),
					ActivePopulation: 12,
					ActiveWithData:   10 + rng.Intn(3),
					SourceCount:      2,
				})
				if err != nil {
					log.Fatalf("Failed to land observation: %v", err)
				}
				landed++
			}
		}
	}
	log.Printf("✓ Landed %d observations across %d weeks (latest %s)",
		landed, *weeks, timeutil.FormatWeek(latest))
}

func isDriverOf(st detect.SignalType, metricKey string) bool {
	for _, d := range st.Drivers {
		if d.Key == metricKey {
			return true
		}
	}
	return false
}
