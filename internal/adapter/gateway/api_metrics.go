package gateway

import (
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// handleMetrics serves GET /metrics in Prometheus text format. The
// lightweight text format avoids pulling in the full prometheus client.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	fmt.Fprintf(w, "# HELP gridassist_requests_total Total assistance requests received.\n")
	fmt.Fprintf(w, "# TYPE gridassist_requests_total counter\n")
	fmt.Fprintf(w, "gridassist_requests_total %d\n", s.metrics.RequestsTotal.Load())

	fmt.Fprintf(w, "# HELP gridassist_request_errors_total Total failed assistance requests.\n")
	fmt.Fprintf(w, "# TYPE gridassist_request_errors_total counter\n")
	fmt.Fprintf(w, "gridassist_request_errors_total %d\n", s.metrics.RequestErrors.Load())

	fmt.Fprintf(w, "# HELP gridassist_rate_limited_total Requests rejected by the per-conversation rate limit.\n")
	fmt.Fprintf(w, "# TYPE gridassist_rate_limited_total counter\n")
	fmt.Fprintf(w, "gridassist_rate_limited_total %d\n", s.metrics.RateLimited.Load())

	fmt.Fprintf(w, "# HELP gridassist_actions_applied_total Total document actions applied by the assistant.\n")
	fmt.Fprintf(w, "# TYPE gridassist_actions_applied_total counter\n")
	fmt.Fprintf(w, "gridassist_actions_applied_total %d\n", s.metrics.ActionsApplied.Load())

	fmt.Fprintf(w, "# HELP gridassist_confirmations_total Replies that asked the user to confirm a mutation.\n")
	fmt.Fprintf(w, "# TYPE gridassist_confirmations_total counter\n")
	fmt.Fprintf(w, "gridassist_confirmations_total %d\n", s.metrics.ConfirmationsReq.Load())

	fmt.Fprintf(w, "# HELP gridassist_uptime_seconds Seconds since the gateway started.\n")
	fmt.Fprintf(w, "# TYPE gridassist_uptime_seconds gauge\n")
	fmt.Fprintf(w, "gridassist_uptime_seconds %.0f\n", time.Since(s.startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	fmt.Fprintf(w, "# HELP go_goroutines Number of goroutines.\n")
	fmt.Fprintf(w, "# TYPE go_goroutines gauge\n")
	fmt.Fprintf(w, "go_goroutines %d\n", runtime.NumGoroutine())

	fmt.Fprintf(w, "# HELP go_memstats_alloc_bytes Bytes of allocated heap objects.\n")
	fmt.Fprintf(w, "# TYPE go_memstats_alloc_bytes gauge\n")
	fmt.Fprintf(w, "go_memstats_alloc_bytes %d\n", mem.Alloc)
}
