// Package diagnose runs a battery of health checks against the proxy's
// diagnostic API and folds the outcomes into a single report: connectivity,
// recent error volume, panics, log growth and streaming health.
package diagnose

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ccrtools/proxyprobe/internal/logapi"
)

// Status is the outcome of one check.
type Status int

const (
	StatusPass Status = iota
	StatusWarn
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	default:
		return "FAIL"
	}
}

// Result is one completed check.
type Result struct {
	Name    string
	Status  Status
	Summary string
	// Details carry follow-up lines: breakdowns, suggestions, excerpts.
	Details []string
}

// Report aggregates all check results in declaration order.
type Report struct {
	Results []Result
	Took    time.Duration
}

// Passed counts checks that finished with StatusPass.
func (r Report) Passed() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusPass {
			n++
		}
	}
	return n
}

// Healthy reports whether every check passed.
func (r Report) Healthy() bool {
	return r.Passed() == len(r.Results)
}

// Verdict is the one-line overall assessment.
func (r Report) Verdict() string {
	passed, total := r.Passed(), len(r.Results)
	switch {
	case passed == total:
		return "All checks passed. Proxy is healthy."
	case passed*10 >= total*7:
		return "Some issues detected. Review warnings above."
	default:
		return "Multiple issues detected. Immediate attention recommended."
	}
}

type check struct {
	name string
	run  func(ctx context.Context, c *logapi.Client) Result
}

var checks = []check{
	{"API connectivity", checkConnectivity},
	{"Recent errors", checkRecentErrors},
	{"Panic logs", checkPanics},
	{"Log volume", checkLogVolume},
	{"Streaming errors", checkStreamingErrors},
	{"Reasoning support", checkReasoningUsage},
}

// Run executes all checks concurrently against the proxy's diagnostic API
// and returns results in declaration order. A check can never abort the
// report: failures (including context cancellation, which fails the check's
// API calls) surface as StatusFail results, so the group's error return is
// the context error alone and the report is always complete.
func Run(ctx context.Context, client *logapi.Client) Report {
	start := time.Now()

	results := make([]Result, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		g.Go(func() error {
			res := c.run(gctx, client)
			res.Name = c.name
			results[i] = res
			return gctx.Err()
		})
	}
	// Only a canceled context reaches Wait; the results already reflect it.
	_ = g.Wait()

	return Report{Results: results, Took: time.Since(start)}
}

func checkConnectivity(ctx context.Context, c *logapi.Client) Result {
	if _, err := c.Stats(ctx); err != nil {
		return Result{
			Status:  StatusFail,
			Summary: fmt.Sprintf("cannot reach diagnostic API: %v", err),
			Details: []string{"Check that the proxy is running and the endpoint is correct."},
		}
	}
	return Result{Status: StatusPass, Summary: "diagnostic API reachable"}
}

func checkRecentErrors(ctx context.Context, c *logapi.Client) Result {
	result, err := c.Logs(ctx, logapi.Query{Level: "error", Limit: 50})
	if err != nil {
		return Result{Status: StatusFail, Summary: fmt.Sprintf("error query failed: %v", err)}
	}
	if len(result.Entries) == 0 {
		return Result{Status: StatusPass, Summary: "no errors found"}
	}

	cutoff := float64(time.Now().Add(-time.Hour).Unix())
	var recent []logapi.Entry
	for _, e := range result.Entries {
		if e.Timestamp > cutoff {
			recent = append(recent, e)
		}
	}
	if len(recent) == 0 {
		return Result{
			Status:  StatusPass,
			Summary: fmt.Sprintf("%d errors total, none in the last hour", len(result.Entries)),
		}
	}

	details := []string{"Error breakdown:"}
	for _, g := range logapi.GroupBySource(recent) {
		details = append(details, fmt.Sprintf("  %s: %d", g.Source, g.Count))
	}
	details = append(details, "Latest: "+excerpt(recent[0].Message, 100))
	return Result{
		Status:  StatusWarn,
		Summary: fmt.Sprintf("%d errors in the last hour", len(recent)),
		Details: details,
	}
}

func checkPanics(ctx context.Context, c *logapi.Client) Result {
	result, err := c.Logs(ctx, logapi.Query{Source: "panic", Limit: 10})
	if err != nil {
		return Result{Status: StatusFail, Summary: fmt.Sprintf("panic query failed: %v", err)}
	}
	if len(result.Entries) == 0 {
		return Result{Status: StatusPass, Summary: "no panic logs"}
	}
	return Result{
		Status:  StatusWarn,
		Summary: fmt.Sprintf("%d panic entries found", len(result.Entries)),
		Details: []string{"Latest: " + excerpt(result.Entries[0].Message, 150)},
	}
}

func checkLogVolume(ctx context.Context, c *logapi.Client) Result {
	result, err := c.Logs(ctx, logapi.Query{Limit: 1000})
	if err != nil {
		return Result{Status: StatusFail, Summary: fmt.Sprintf("volume query failed: %v", err)}
	}

	switch {
	case result.Total > 100000:
		return Result{
			Status:  StatusWarn,
			Summary: fmt.Sprintf("%d logs stored", result.Total),
			Details: []string{"Consider enabling log cleanup on the proxy."},
		}
	case result.Total > 10000:
		return Result{Status: StatusPass, Summary: fmt.Sprintf("%d logs stored (moderate)", result.Total)}
	default:
		return Result{Status: StatusPass, Summary: fmt.Sprintf("%d logs stored", result.Total)}
	}
}

func checkStreamingErrors(ctx context.Context, c *logapi.Client) Result {
	result, err := c.Logs(ctx, logapi.Query{Source: "openai", Level: "error", Limit: 50})
	if err != nil {
		return Result{Status: StatusFail, Summary: fmt.Sprintf("streaming query failed: %v", err)}
	}

	streamErrors := logapi.FilterMessage(result.Entries, "stream")
	if len(streamErrors) == 0 {
		return Result{Status: StatusPass, Summary: "no streaming errors"}
	}

	details := []string{}
	if parseErrors := logapi.FilterMessage(streamErrors, "parse"); len(parseErrors) > 0 {
		details = append(details,
			fmt.Sprintf("JSON parse errors: %d", len(parseErrors)),
			"Check the upstream API response format.")
	}
	return Result{
		Status:  StatusWarn,
		Summary: fmt.Sprintf("%d streaming errors found", len(streamErrors)),
		Details: details,
	}
}

func checkReasoningUsage(ctx context.Context, c *logapi.Client) Result {
	result, err := c.Logs(ctx, logapi.Query{Source: "openai", Limit: 100})
	if err != nil {
		return Result{Status: StatusFail, Summary: fmt.Sprintf("reasoning query failed: %v", err)}
	}

	reasoning := logapi.FilterMessage(result.Entries, "reasoning")
	if len(reasoning) == 0 {
		return Result{
			Status:  StatusPass,
			Summary: "no reasoning-content activity (normal unless reasoning models are in use)",
		}
	}
	return Result{
		Status:  StatusPass,
		Summary: fmt.Sprintf("reasoning-content in use (%d related entries)", len(reasoning)),
	}
}

func excerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
