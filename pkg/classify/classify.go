// Package classify turns a case's build and execution outcomes into a verdict.
package classify

import (
	"fmt"

	"github.com/715d/m6809test/pkg/build"
	"github.com/715d/m6809test/pkg/execute"
	"github.com/715d/m6809test/pkg/fixture"
)

// Verdict is the final classification of one case.
type Verdict string

const (
	Pass            Verdict = "pass"
	Fail            Verdict = "fail"
	ExpectedFailure Verdict = "xfail"
	Regression      Verdict = "regression"
	HarnessError    Verdict = "error"
)

// Verdicts lists every verdict in report order.
var Verdicts = []Verdict{Pass, Fail, ExpectedFailure, Regression, HarnessError}

// Blocking reports whether v fails the run.
func (v Verdict) Blocking() bool {
	return v == Fail || v == Regression || v == HarnessError
}

// Outcome is a verdict with a human-readable reason.
type Outcome struct {
	Verdict Verdict `json:"verdict"`
	Reason  string  `json:"reason"`
}

// Error builds a HarnessError outcome.
func Error(format string, args ...any) Outcome {
	return Outcome{Verdict: HarnessError, Reason: fmt.Sprintf(format, args...)}
}

const stale = "known-defect annotation is stale; promote the case out of the defect set"

// Classify maps a case and its outcomes to a verdict. It is total: inputs that
// do not describe a finished case yield HarnessError. e may be nil when the
// build failed.
func Classify(tc *fixture.TestCase, b *build.Result, e *execute.Result) Outcome {
	if tc == nil {
		return Error("no test case")
	}
	if b == nil {
		return Error("no build result")
	}

	switch tc.Defect {
	case fixture.DefectNone:
		if !b.Succeeded {
			return Outcome{Fail, b.Summary()}
		}
		if !tc.HasExpected {
			return Error("case has no EXPECT value")
		}
		if e == nil {
			return Error("build succeeded but the artifact was not executed")
		}
		if matches(e, tc.Expected) {
			return Outcome{Pass, fmt.Sprintf("exited %d as expected", tc.Expected)}
		}
		return Outcome{Fail, mismatch(e, tc.Expected)}

	case fixture.ExpectCompileFailure:
		if !b.Succeeded {
			return Outcome{ExpectedFailure, b.Summary()}
		}
		reason := "compile defect no longer reproduces: build succeeded"
		if e != nil {
			reason += ", program " + e.Summary()
		}
		return Outcome{Regression, reason + "; " + stale}

	case fixture.ExpectWrongRuntimeResult:
		if !b.Succeeded {
			return Outcome{Fail, "runtime defect case failed to build, a different bug: " + b.Summary()}
		}
		if !tc.HasExpected {
			return Error("runtime defect case has no EXPECT value")
		}
		if e == nil {
			return Error("build succeeded but the artifact was not executed")
		}
		if matches(e, tc.Expected) {
			return Outcome{Regression, fmt.Sprintf("runtime defect no longer reproduces: exited %d as a correct compiler would; %s", tc.Expected, stale)}
		}
		return Outcome{ExpectedFailure, mismatch(e, tc.Expected)}

	default:
		return Error("unknown defect status %s", tc.Defect)
	}
}

func matches(e *execute.Result, expected int) bool {
	return e.Completed && e.ExitCode == expected
}

func mismatch(e *execute.Result, expected int) string {
	if e.Completed {
		return fmt.Sprintf("expected %d, got %d", expected, e.ExitCode)
	}
	return fmt.Sprintf("expected %d, %s", expected, e.Summary())
}
