// Package health serves the worker's /health endpoint.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Report is the JSON body of /health.
type Report struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	GitCommit string                 `json:"git_commit"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// CheckResult is the outcome of one named check: pass, warn or fail.
type CheckResult struct {
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	LatencyMs int64          `json:"latency_ms,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

const (
	StatusPass = "pass"
	StatusWarn = "warn"
	StatusFail = "fail"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RefDataSizer reports how much reference data is loaded.
type RefDataSizer interface {
	Size() (makes, models int)
}

// Checker runs the worker's health checks.
type Checker struct {
	db        Pinger
	refdata   func() RefDataSizer
	version   string
	gitCommit string
	now       func() time.Time
}

// NewChecker returns a Checker. refdata returns the active reference data
// snapshot and may be nil.
func NewChecker(db Pinger, refdata func() RefDataSizer, version, gitCommit string) *Checker {
	return &Checker{db: db, refdata: refdata, version: version, gitCommit: gitCommit, now: time.Now}
}

// Handler serves the health report. Any failed check answers 503; warnings
// degrade the status but still answer 200.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		report := c.Check(ctx)
		code := http.StatusOK
		if report.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(report)
	}
}

// Check runs every check and folds them into an overall status.
func (c *Checker) Check(ctx context.Context) Report {
	checks := map[string]CheckResult{
		"database": c.checkDatabase(ctx),
		"refdata":  c.checkRefData(),
	}

	status := "healthy"
	for _, check := range checks {
		if check.Status == StatusFail {
			status = "unhealthy"
			break
		}
		if check.Status == StatusWarn {
			status = "degraded"
		}
	}
	return Report{
		Status:    status,
		Version:   c.version,
		GitCommit: c.gitCommit,
		Checks:    checks,
		Timestamp: c.now().UTC().Format(time.RFC3339),
	}
}

func (c *Checker) checkDatabase(ctx context.Context) CheckResult {
	if c.db == nil {
		return CheckResult{Status: StatusFail, Message: "database pool not initialized"}
	}
	start := time.Now()
	dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err := c.db.Ping(dbCtx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		message := "database ping failed"
		switch {
		case dbCtx.Err() == context.DeadlineExceeded:
			message = "database ping timed out after 2 seconds"
		case strings.Contains(err.Error(), "connection refused"):
			message = "database connection refused"
		case strings.Contains(err.Error(), "authentication failed"):
			message = "database authentication failed"
		}
		return CheckResult{
			Status:    StatusFail,
			Message:   message,
			LatencyMs: latency,
			Details:   map[string]any{"error": err.Error()},
		}
	}
	return CheckResult{Status: StatusPass, Message: "PostgreSQL connection successful", LatencyMs: latency}
}

// An empty make table still lets imports run, but every make is then
// title-cased guesswork.
func (c *Checker) checkRefData() CheckResult {
	if c.refdata == nil {
		return CheckResult{Status: StatusWarn, Message: "reference data not wired"}
	}
	makes, models := c.refdata().Size()
	details := map[string]any{"makes": makes, "models": models}
	if makes == 0 {
		return CheckResult{Status: StatusWarn, Message: "no makes loaded", Details: details}
	}
	return CheckResult{Status: StatusPass, Details: details}
}
