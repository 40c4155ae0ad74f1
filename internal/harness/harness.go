package harness

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/m6809test/internal/config"
	"github.com/715d/m6809test/internal/runner"
	"github.com/715d/m6809test/pkg/conformance"
	"github.com/715d/m6809test/pkg/fixture"
)

// TestHarness runs scenarios against the fake toolchain.
type TestHarness struct {
	// toolchain is the directory holding the fake toolchain scripts.
	toolchain string
}

// NewHarness creates a harness whose scenarios reference toolchain as {toolchain}.
func NewHarness(toolchain string) *TestHarness {
	return &TestHarness{toolchain: toolchain}
}

// TestResult is the outcome of one scenario.
type TestResult struct {
	Scenario *Scenario

	// Report is the run the scenario produced.
	Report *conformance.Report

	Success bool
	Skipped bool
	Message string
	Details []string
}

// Run loads the scenario's configuration, runs its fixtures the way the CLI
// does, and compares the report with the expectation.
func (h *TestHarness) Run(t *testing.T, sc *Scenario) *TestResult {
	t.Helper()

	if sc.Expected.Skip {
		return &TestResult{Scenario: sc, Skipped: true, Message: sc.Expected.Reason}
	}
	require.NotEmpty(t, sc.Expected.Cases, "scenario has no expected cases")

	report := h.RunReport(t, sc)
	res := &TestResult{Scenario: sc, Report: report}
	validate(res, sc.Expected)
	return res
}

// RunReport runs the scenario and returns the raw report.
func (h *TestHarness) RunReport(t *testing.T, sc *Scenario) *conformance.Report {
	t.Helper()

	cfg, err := config.Load("", sc.Dir)
	require.NoError(t, err)
	if cfg.Toolchain.Vars == nil {
		cfg.Toolchain.Vars = make(map[string]string)
	}
	cfg.Toolchain.Vars["toolchain"] = h.toolchain

	lookup := runner.NewLookup()
	cfg.ResolveRoot(lookup)
	require.NoError(t, cfg.Preflight(lookup))

	paths, err := fixture.Discover(sc.Dir, cfg.Extensions(), "")
	require.NoError(t, err)

	orch := cfg.Orchestrator()
	orch.TempDir = t.TempDir()

	r := &conformance.Runner{
		Builder:  orch,
		Executor: cfg.Driver(),
		Workers:  cfg.Run.Workers,
		Deadline: cfg.Deadline(),
	}
	return r.Run(context.Background(), sc.Dir, paths)
}

// validate compares a report with the expectation and fills in res.
func validate(res *TestResult, exp Expectation) {
	var details []string

	seen := make(map[string]bool, len(res.Report.Cases))
	for _, c := range res.Report.Cases {
		seen[c.Path] = true
		want, ok := exp.Cases[c.Path]
		if !ok {
			details = append(details, fmt.Sprintf("unexpected case %s: %s (%s)", c.Path, c.Verdict, c.Reason))
			continue
		}
		if string(c.Verdict) != want {
			details = append(details, fmt.Sprintf("%s: want %s, got %s (%s)", c.Path, want, c.Verdict, c.Reason))
		}
		if sub, ok := exp.Reasons[c.Path]; ok && !strings.Contains(c.Reason, sub) {
			details = append(details, fmt.Sprintf("%s: reason %q does not contain %q", c.Path, c.Reason, sub))
		}
	}

	for _, path := range slices.Sorted(maps.Keys(exp.Cases)) {
		if !seen[path] {
			details = append(details, "missing case "+path)
		}
	}

	if got := res.Report.ExitCode(); got != exp.ExitCode {
		details = append(details, fmt.Sprintf("exit code: want %d, got %d", exp.ExitCode, got))
	}

	res.Details = details
	res.Success = len(details) == 0
	if res.Success {
		res.Message = fmt.Sprintf("All %d cases classified as expected", len(exp.Cases))
	} else {
		res.Message = fmt.Sprintf("%d mismatches:\n  %s", len(details), strings.Join(details, "\n  "))
	}
}
