package build

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Failure describes why a build did not produce a usable artifact.
type Failure string

const (
	FailureNone       Failure = "none"
	FailureRejected   Failure = "rejected"    // a stage exited non-zero
	FailureCrashed    Failure = "crashed"     // a stage died by signal or reported an internal compiler error
	FailureTimeout    Failure = "timeout"     // the pipeline timeout elapsed
	FailureNoArtifact Failure = "no-artifact" // every stage succeeded but no loadable image appeared
)

// StageDiagnostics records one executed stage.
type StageDiagnostics struct {
	Name      string        `json:"name"`
	RunID     string        `json:"run_id"`
	Argv      []string      `json:"argv"`
	ExitCode  int           `json:"exit_code"`
	Signal    string        `json:"signal,omitempty"`
	TimedOut  bool          `json:"timed_out,omitempty"`
	Stdout    string        `json:"stdout,omitempty"`
	Stderr    string        `json:"stderr,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Result is the outcome of building one case.
type Result struct {
	// Succeeded is true iff every stage exited 0 and the artifact verified.
	Succeeded bool

	// Artifact is the path of the produced image. Empty unless Succeeded.
	Artifact string

	// Entry is the program entry address. Valid only if HasEntry.
	Entry    uint32
	HasEntry bool

	// Failure is FailureNone iff Succeeded.
	Failure Failure

	// Detail is a one-line description of the failure.
	Detail string

	// Stages holds diagnostics for each stage that ran.
	Stages []StageDiagnostics

	// WorkDir is the private working directory of this build.
	WorkDir string

	Duration time.Duration

	keepWork bool
}

// Failed returns the diagnostics of the stage that failed, or nil.
func (r *Result) Failed() *StageDiagnostics {
	if r.Succeeded || len(r.Stages) == 0 || r.Failure == FailureNoArtifact {
		return nil
	}
	return &r.Stages[len(r.Stages)-1]
}

// Summary describes the build in one line.
func (r *Result) Summary() string {
	if r.Succeeded {
		if r.HasEntry {
			return fmt.Sprintf("built %s (entry 0x%04X)", r.Artifact, r.Entry)
		}
		return "built " + r.Artifact
	}
	return fmt.Sprintf("build %s: %s", r.Failure, r.Detail)
}

// Close removes the work directory unless the orchestrator keeps it.
func (r *Result) Close() error {
	if r == nil || r.WorkDir == "" || r.keepWork {
		return nil
	}
	if err := os.RemoveAll(r.WorkDir); err != nil {
		return fmt.Errorf("removing work dir: %w", err)
	}
	slog.Debug("removed work dir", "dir", r.WorkDir)
	return nil
}

// InvocationError reports a stage that could not be launched at all.
type InvocationError struct {
	Stage string
	Argv  []string
	Err   error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("toolchain stage %s could not be invoked: %v", e.Stage, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }
