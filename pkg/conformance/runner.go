// Package conformance runs a set of fixtures through build, execution, and
// classification on a bounded worker pool.
package conformance

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	goruntime "runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/715d/m6809test/pkg/build"
	"github.com/715d/m6809test/pkg/classify"
	"github.com/715d/m6809test/pkg/execute"
	"github.com/715d/m6809test/pkg/fixture"
)

// Builder compiles one case. *build.Orchestrator implements it.
type Builder interface {
	Build(ctx context.Context, tc *fixture.TestCase) (*build.Result, error)
}

// Executor runs one artifact. *execute.Driver implements it.
type Executor interface {
	Execute(ctx context.Context, b *build.Result) (*execute.Result, error)
	CanRepresent(expected int) error
}

// Runner schedules cases. Its fields must not change while Run is active.
type Runner struct {
	Builder  Builder
	Executor Executor

	// Workers bounds concurrent cases; zero means runtime.NumCPU().
	Workers int

	// Deadline stops scheduling new cases once elapsed; zero means none.
	// Cases already running finish under their own timeouts.
	Deadline time.Duration
}

// Run executes every fixture in paths, which must lie under root, and returns
// a report with exactly one result per path. Per-case failures never abort
// the run.
func (r *Runner) Run(ctx context.Context, root string, paths []string) *Report {
	start := time.Now()
	agg := newAggregator(len(paths))

	workers := r.Workers
	if workers <= 0 {
		workers = goruntime.NumCPU()
	}

	schedCtx := ctx
	if r.Deadline > 0 {
		var cancel context.CancelFunc
		schedCtx, cancel = context.WithTimeout(ctx, r.Deadline)
		defer cancel()
	}

	slog.Info("running cases", "cases", len(paths), "workers", workers)

	var wg errgroup.Group
	wg.SetLimit(workers)
	for _, path := range paths {
		if reason := notStarted(schedCtx); reason != "" {
			agg.Add(skipped(root, path, reason))
			continue
		}
		wg.Go(func() error {
			// The slot may have opened after the deadline.
			if reason := notStarted(schedCtx); reason != "" {
				agg.Add(skipped(root, path, reason))
				return nil
			}
			agg.Add(r.runCase(ctx, root, path))
			return nil
		})
	}
	_ = wg.Wait()

	report := agg.report()
	report.RunID = uuid.New().String()
	report.Root = root
	report.Started = start
	report.Duration = time.Since(start)
	return report
}

func notStarted(ctx context.Context) string {
	switch {
	case ctx.Err() == nil:
		return ""
	case context.Cause(ctx) == context.DeadlineExceeded:
		return "not started: run deadline exceeded"
	default:
		return "not started: run cancelled"
	}
}

func skipped(root, path, reason string) CaseResult {
	return CaseResult{
		Path:    relPath(root, path),
		Verdict: classify.HarnessError,
		Reason:  reason,
	}
}

// runCase takes one case from source to verdict. Every failure, including a
// panic, becomes a HarnessError for this case alone.
func (r *Runner) runCase(ctx context.Context, root, path string) (cr CaseResult) {
	start := time.Now()
	cr.Path = relPath(root, path)

	defer func() {
		if p := recover(); p != nil {
			cr.Verdict = classify.HarnessError
			cr.Reason = fmt.Sprintf("panic: %v", p)
		}
		cr.Duration = time.Since(start)
		slog.Debug("case finished", "case", cr.Path, "verdict", cr.Verdict, "reason", cr.Reason, "dur", cr.Duration)
	}()

	setOutcome := func(o classify.Outcome) {
		cr.Verdict, cr.Reason = o.Verdict, o.Reason
	}

	tc, err := fixture.ParseFile(root, path)
	if err != nil {
		setOutcome(classify.Error("%v", err))
		return cr
	}
	cr.Defect = tc.Defect
	cr.Note = tc.Note
	if tc.HasExpected {
		expected := tc.Expected
		cr.Expected = &expected
	}

	if tc.HasExpected && tc.Defect != fixture.ExpectCompileFailure {
		if err := r.Executor.CanRepresent(tc.Expected); err != nil {
			setOutcome(classify.Error("%v", err))
			return cr
		}
	}

	b, err := r.Builder.Build(ctx, tc)
	if err != nil {
		setOutcome(classify.Error("%v", err))
		return cr
	}
	defer func() {
		if err := b.Close(); err != nil {
			slog.Warn("cleaning up", "case", cr.Path, "error", err)
		}
	}()
	cr.Build = summarizeBuild(b)

	var e *execute.Result
	if b.Succeeded {
		e, err = r.Executor.Execute(ctx, b)
		switch {
		case err == nil:
			cr.Execution = e
		case tc.Defect == fixture.ExpectCompileFailure:
			// The build alone decides this verdict.
			slog.Warn("running fixed compile-defect case", "case", cr.Path, "error", err)
		default:
			setOutcome(classify.Error("%v", err))
			return cr
		}
	}

	setOutcome(classify.Classify(tc, b, e))
	return cr
}

func summarizeBuild(b *build.Result) *BuildSummary {
	s := &BuildSummary{
		Succeeded: b.Succeeded,
		Failure:   b.Failure,
		Detail:    b.Detail,
		Duration:  b.Duration,
	}
	if b.HasEntry {
		s.Entry = fmt.Sprintf("0x%04X", b.Entry)
	}
	if !b.Succeeded {
		s.Stages = b.Stages
	}
	return s
}

func relPath(root, path string) string {
	if root == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
