package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

// HealthCheck represents the health status of the server
type HealthCheck struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	GitCommit string                 `json:"git_commit"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// CheckResult represents the result of a single health check
type CheckResult struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Pinger is anything readiness depends on.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker reports liveness and readiness.
type HealthChecker struct {
	checks    map[string]Pinger
	version   string
	gitCommit string
	timeout   time.Duration
}

// NewHealthChecker creates a health checker for the named dependencies. Nil
// entries are skipped.
func NewHealthChecker(checks map[string]Pinger, version, gitCommit string) *HealthChecker {
	filtered := make(map[string]Pinger, len(checks))
	for name, pinger := range checks {
		if pinger != nil {
			filtered[name] = pinger
		}
	}
	return &HealthChecker{
		checks:    filtered,
		version:   version,
		gitCommit: gitCommit,
		timeout:   2 * time.Second,
	}
}

// Healthz reports that the process is serving.
func (h *HealthChecker) Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthCheck{
			Status:    "ok",
			Version:   h.version,
			GitCommit: h.gitCommit,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// Readyz pings every dependency and fails when any of them is unreachable.
func (h *HealthChecker) Readyz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
			return
		default:
		}

		names := make([]string, 0, len(h.checks))
		for name := range h.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		status := "ready"
		code := http.StatusOK
		results := make(map[string]CheckResult, len(names))
		for _, name := range names {
			result := h.check(r.Context(), h.checks[name])
			if result.Status == "fail" {
				status = "unavailable"
				code = http.StatusServiceUnavailable
			}
			results[name] = result
		}

		writeJSON(w, code, HealthCheck{
			Status:    status,
			Version:   h.version,
			GitCommit: h.gitCommit,
			Checks:    results,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func (h *HealthChecker) check(ctx context.Context, pinger Pinger) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := pinger.Ping(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return CheckResult{Status: "fail", Message: err.Error(), LatencyMs: latency}
	}
	return CheckResult{Status: "pass", LatencyMs: latency}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
