package conformance

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/715d/m6809test/pkg/build"
	"github.com/715d/m6809test/pkg/classify"
	"github.com/715d/m6809test/pkg/execute"
	"github.com/715d/m6809test/pkg/fixture"
)

// CaseResult is the final record for one fixture.
type CaseResult struct {
	Path      string               `json:"path"`
	Verdict   classify.Verdict     `json:"verdict"`
	Reason    string               `json:"reason"`
	Defect    fixture.DefectStatus `json:"defect"`
	Expected  *int                 `json:"expected,omitempty"`
	Note      string               `json:"note,omitempty"`
	Build     *BuildSummary        `json:"build,omitempty"`
	Execution *execute.Result      `json:"execution,omitempty"`
	Duration  time.Duration        `json:"duration"`
}

// BuildSummary is the reported part of a build.Result. Stage diagnostics are
// kept only for failed builds.
type BuildSummary struct {
	Succeeded bool                     `json:"succeeded"`
	Failure   build.Failure            `json:"failure"`
	Detail    string                   `json:"detail,omitempty"`
	Entry     string                   `json:"entry,omitempty"`
	Stages    []build.StageDiagnostics `json:"stages,omitempty"`
	Duration  time.Duration            `json:"duration"`
}

// Report aggregates a run.
type Report struct {
	RunID    string                   `json:"run_id"`
	Root     string                   `json:"root"`
	Started  time.Time                `json:"started"`
	Duration time.Duration            `json:"duration"`
	Counts   map[classify.Verdict]int `json:"counts"`
	Cases    []CaseResult             `json:"cases"`
}

// Success reports whether no case failed, errored, or regressed.
func (r *Report) Success() bool {
	for v, n := range r.Counts {
		if v.Blocking() && n > 0 {
			return false
		}
	}
	return true
}

// ExitCode is 0 on success and 1 otherwise.
func (r *Report) ExitCode() int {
	if r.Success() {
		return 0
	}
	return 1
}

// Attention returns the blocking cases in path order.
func (r *Report) Attention() []CaseResult {
	var out []CaseResult
	for _, c := range r.Cases {
		if c.Verdict.Blocking() {
			out = append(out, c)
		}
	}
	return out
}

// Lookup returns the result for path.
func (r *Report) Lookup(path string) (CaseResult, bool) {
	i, ok := slices.BinarySearchFunc(r.Cases, path, func(c CaseResult, p string) int {
		return strings.Compare(c.Path, p)
	})
	if !ok {
		return CaseResult{}, false
	}
	return r.Cases[i], true
}

// WriteJSON encodes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}

// ReadFile loads a report written by WriteJSON.
func ReadFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding report %s: %w", path, err)
	}
	sortCases(r.Cases)
	return &r, nil
}

// aggregator collects results from concurrent workers.
type aggregator struct {
	mu     sync.Mutex
	cases  []CaseResult
	counts map[classify.Verdict]int
}

func newAggregator(n int) *aggregator {
	return &aggregator{
		cases:  make([]CaseResult, 0, n),
		counts: make(map[classify.Verdict]int, len(classify.Verdicts)),
	}
}

// Add records one finished case.
func (a *aggregator) Add(cr CaseResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cases = append(a.cases, cr)
	a.counts[cr.Verdict]++
}

func (a *aggregator) report() *Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := &Report{
		Cases:  slices.Clone(a.cases),
		Counts: make(map[classify.Verdict]int, len(classify.Verdicts)),
	}
	for _, v := range classify.Verdicts {
		r.Counts[v] = a.counts[v]
	}
	sortCases(r.Cases)
	return r
}

func sortCases(cases []CaseResult) {
	slices.SortFunc(cases, func(a, b CaseResult) int {
		return strings.Compare(a.Path, b.Path)
	})
}

// Change is a difference between two reports for one case. Old is empty for
// an added case and New is empty for a removed one.
type Change struct {
	Path string           `json:"path"`
	Old  classify.Verdict `json:"old,omitempty"`
	New  classify.Verdict `json:"new,omitempty"`
}

func (c Change) String() string {
	switch {
	case c.Old == "":
		return fmt.Sprintf("%s: added (%s)", c.Path, c.New)
	case c.New == "":
		return fmt.Sprintf("%s: removed (was %s)", c.Path, c.Old)
	default:
		return fmt.Sprintf("%s: %s -> %s", c.Path, c.Old, c.New)
	}
}

// Diff lists cases whose verdict differs between before and after, sorted by path.
func Diff(before, after *Report) []Change {
	verdicts := make(map[string][2]classify.Verdict)
	for _, c := range before.Cases {
		v := verdicts[c.Path]
		v[0] = c.Verdict
		verdicts[c.Path] = v
	}
	for _, c := range after.Cases {
		v := verdicts[c.Path]
		v[1] = c.Verdict
		verdicts[c.Path] = v
	}

	var changes []Change
	for path, v := range verdicts {
		if v[0] != v[1] {
			changes = append(changes, Change{Path: path, Old: v[0], New: v[1]})
		}
	}
	slices.SortFunc(changes, func(a, b Change) int {
		return strings.Compare(a.Path, b.Path)
	})
	return changes
}
