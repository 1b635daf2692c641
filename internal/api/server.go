// Package api exposes the signal, intervention and ingestion surface over
// HTTP. All responses are JSON; writes validate against the same store rules
// the pipeline uses, so the API can never put a record into a state the
// pipeline could not.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/driftline/drift.report/internal/config"
	"github.com/driftline/drift.report/internal/db"
	"github.com/driftline/drift.report/internal/monitoring"
	"github.com/driftline/drift.report/internal/timeutil"
)

// ANSI escape codes for request log colouring.
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	db    *db.DB
	cfg   *config.DetectionConfig
	clock timeutil.Clock
}

func NewServer(d *db.DB, cfg *config.DetectionConfig, clock timeutil.Clock) *Server {
	return &Server{
		db:    d,
		cfg:   cfg,
		clock: clock,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/signals", s.listSignals)
	mux.HandleFunc("/api/signal", s.showSignal)
	mux.HandleFunc("/api/signal/status", s.updateSignalStatus)
	mux.HandleFunc("/api/interventions", s.interventionsHandler)
	mux.HandleFunc("/api/intervention/outcome", s.overrideOutcome)
	mux.HandleFunc("/api/observations", s.landObservations)
	mux.HandleFunc("/api/audit", s.listAudit)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}
