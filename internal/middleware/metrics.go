package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics stores application metrics
type Metrics struct {
	RequestsTotal      atomic.Uint64
	RequestsInProgress atomic.Int64
	RequestsSuccess    atomic.Uint64
	RequestsFailed     atomic.Uint64
	PlaybooksTotal     atomic.Uint64
	PlaybooksFailed    atomic.Uint64
	PlaybooksRunning   atomic.Int64
	CorpusRebuilds     atomic.Uint64
	StartTime          time.Time
}

var globalMetrics = &Metrics{StartTime: time.Now()}

// PlaybookStarted marks a pipeline run in flight; the returned func ends it.
func PlaybookStarted() func(failed bool) {
	globalMetrics.PlaybooksTotal.Add(1)
	globalMetrics.PlaybooksRunning.Add(1)
	return func(failed bool) {
		globalMetrics.PlaybooksRunning.Add(-1)
		if failed {
			globalMetrics.PlaybooksFailed.Add(1)
		}
	}
}

// IncrementCorpusRebuilds counts rebuilds requested over HTTP.
func IncrementCorpusRebuilds() {
	globalMetrics.CorpusRebuilds.Add(1)
}

// GetMetrics returns current metrics
func GetMetrics() map[string]any {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]any{
		"requests_total":       globalMetrics.RequestsTotal.Load(),
		"requests_in_progress": globalMetrics.RequestsInProgress.Load(),
		"requests_success":     globalMetrics.RequestsSuccess.Load(),
		"requests_failed":      globalMetrics.RequestsFailed.Load(),
		"playbooks_total":      globalMetrics.PlaybooksTotal.Load(),
		"playbooks_failed":     globalMetrics.PlaybooksFailed.Load(),
		"playbooks_running":    globalMetrics.PlaybooksRunning.Load(),
		"corpus_rebuilds":      globalMetrics.CorpusRebuilds.Load(),
		"uptime_seconds":       time.Since(globalMetrics.StartTime).Seconds(),
		"memory": map[string]any{
			"alloc_bytes":       m.Alloc,
			"total_alloc_bytes": m.TotalAlloc,
			"sys_bytes":         m.Sys,
			"num_gc":            m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// MetricsMiddleware tracks request metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		globalMetrics.RequestsTotal.Add(1)
		globalMetrics.RequestsInProgress.Add(1)
		defer globalMetrics.RequestsInProgress.Add(-1)

		wrapped := wrap(w)
		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode >= 200 && wrapped.statusCode < 400 {
			globalMetrics.RequestsSuccess.Add(1)
		} else {
			globalMetrics.RequestsFailed.Add(1)
		}
	})
}

// MetricsHandler returns metrics as JSON
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(GetMetrics())
}
