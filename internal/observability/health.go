package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Version and Commit are stamped by main from the build.
var (
	Version = "dev"
	Commit  = "unknown"
)

// Readiness check names reported by /ui/ready.
const (
	CheckCaseService  = "case_service"
	CheckCaseContract = "case_contract"
	CheckSessionStore = "session_store"
	CheckAuditJournal = "audit_journal"
)

// checkTimeout bounds each check so a hung store cannot stall the endpoint.
const checkTimeout = 2 * time.Second

// HealthChecker is a dependency that can report its own health, such as the
// session store or the audit journal.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Check is one named readiness dependency.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// Gate turns a state predicate into a check that fails with reason while
// ok reports false. A nil predicate always fails.
func Gate(name string, ok func() bool, reason string) Check {
	return Check{Name: name, Run: func(context.Context) error {
		if ok == nil || !ok() {
			return errors.New(reason)
		}
		return nil
	}}
}

// Checked wraps a HealthChecker.
func Checked(name string, hc HealthChecker) Check {
	return Check{Name: name, Run: hc.HealthCheck}
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Readiness is the /ui/ready body.
type Readiness struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// HandleHealth answers liveness with the build stamp.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": ServiceName,
			"version": Version,
			"commit":  Commit,
		})
	}
}

// HandleReady runs every check concurrently and answers 503 when any fails.
func HandleReady(checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := Readiness{Status: "ready", Checks: make(map[string]CheckResult, len(checks))}

		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for _, c := range checks {
			wg.Go(func() {
				res := runCheck(r.Context(), c)
				mu.Lock()
				out.Checks[c.Name] = res
				mu.Unlock()
			})
		}
		wg.Wait()

		status := http.StatusOK
		for _, res := range out.Checks {
			if res.Status != "ok" {
				out.Status = "not_ready"
				status = http.StatusServiceUnavailable
			}
		}
		writeHealthJSON(w, status, out)
	}
}

func runCheck(parent context.Context, c Check) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := c.Run(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

func writeHealthJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
